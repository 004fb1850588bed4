package command

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/backend"
	"github.com/MrEthical07/lmsauth/channel"
	"github.com/urfave/cli/v2"
)

// errNotSignedIn is the exit for commands that need a session.
var errNotSignedIn = cli.Exit("not signed in; run lmsctl login", 2)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and persist the session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "password; read from stdin when empty",
				EnvVars: []string{"LMSCTL_PASSWORD"},
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "member or librarian",
				Value: "member",
			},
		},
		Action: login,
	}
}

func login(c *cli.Context) error {
	role, err := lmsauth.ParseRole(c.String("role"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	password := c.String("password")
	if password == "" {
		if password, err = readLine(c, "password: "); err != nil {
			return err
		}
	}

	m, cleanup, err := openManager(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := backendClient(c, m)
	if err != nil {
		return err
	}
	res, err := client.Login(c.Context, c.String("username"), password, role)
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials), errors.Is(err, backend.ErrRoleMismatch):
		return cli.Exit(err.Error(), 1)
	case err != nil:
		return err
	}

	if err := m.Login(c.Context, res.Token, res.Role); err != nil {
		return err
	}
	s := m.Session()
	fmt.Fprintf(envFrom(c).out, "signed in as %s (%s)\n", s.Principal, s.Role)
	return nil
}

func readLine(c *cli.Context, prompt string) (string, error) {
	fmt.Fprint(c.App.ErrWriter, prompt)
	line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the persisted session",
		Action: func(c *cli.Context) error {
			m, cleanup, err := openManager(c, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := m.Logout(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(envFrom(c).out, "signed out")
			return nil
		},
	}
}

type sessionView struct {
	Principal string    `json:"principal"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the persisted session",
		Action: func(c *cli.Context) error {
			m, cleanup, err := openManager(c, false)
			if err != nil {
				return err
			}
			defer cleanup()

			s := m.Session()
			if !s.Valid() {
				return errNotSignedIn
			}
			view := sessionView{Principal: s.Principal, Role: string(s.Role), ExpiresAt: s.ExpiresAt.UTC()}
			return render(c, view, []string{"PRINCIPAL", "ROLE", "EXPIRES"}, [][]string{{
				view.Principal, view.Role, view.ExpiresAt.Format(time.RFC3339),
			}})
		},
	}
}

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "Hold the notification channel open and print notifications",
		Action: func(c *cli.Context) error {
			m, cleanup, err := openManager(c, true)
			if err != nil {
				return err
			}
			defer cleanup()

			if !m.Session().Valid() {
				return errNotSignedIn
			}
			out := envFrom(c).out
			stopNotify := m.OnNotification(func(msg channel.Message) {
				fmt.Fprintf(out, "%s\t%s\n", msg.Destination, strings.TrimSpace(string(msg.Body)))
			})
			defer stopNotify()

			signedOut := make(chan struct{})
			var once sync.Once
			stopWatch := m.Subscribe(func(s lmsauth.Session) {
				if !s.Valid() {
					once.Do(func() { close(signedOut) })
				}
			})
			defer stopWatch()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			envFrom(c).logger.Info("listening for notifications", "principal", m.Session().Principal)
			select {
			case <-ctx.Done():
			case <-signedOut:
			}
			return nil
		},
	}
}

func resetPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset-password",
		Usage: "Reset a password with the library's admin key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "admin-key", Required: true, EnvVars: []string{"LMSCTL_ADMIN_KEY"}},
			&cli.StringFlag{Name: "new-password", Required: true},
		},
		Action: func(c *cli.Context) error {
			client, err := backendClient(c, nil)
			if err != nil {
				return err
			}
			err = client.ResetPassword(c.Context, backend.ResetPasswordRequest{
				Username:    c.String("username"),
				AdminKey:    c.String("admin-key"),
				NewPassword: c.String("new-password"),
			})
			var apiErr *backend.APIError
			if errors.As(err, &apiErr) {
				return cli.Exit(apiErr.Error(), 1)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(envFrom(c).out, "password reset")
			return nil
		},
	}
}
