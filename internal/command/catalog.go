package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/lmsauth/backend"
	"github.com/MrEthical07/lmsauth/middleware"
	"github.com/urfave/cli/v2"
)

func booksCommand() *cli.Command {
	return &cli.Command{
		Name:  "books",
		Usage: "Browse the catalogue and your loans",
		Subcommands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Search the public catalogue",
				ArgsUsage: "[QUERY]",
				Action:    booksSearch,
			},
			{
				Name:   "mine",
				Usage:  "List your current loans",
				Action: booksMine,
			},
		},
	}
}

func booksSearch(c *cli.Context) error {
	client, err := backendClient(c, nil)
	if err != nil {
		return err
	}
	books, err := client.SearchBooks(c.Context, strings.Join(c.Args().Slice(), " "))
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{
			strconv.FormatInt(b.ID, 10), b.ISBN, b.Title, b.Author,
			fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies),
		})
	}
	return render(c, books, []string{"ID", "ISBN", "TITLE", "AUTHOR", "AVAILABLE"}, rows)
}

func booksMine(c *cli.Context) error {
	m, cleanup, err := openManager(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := backendClient(c, m)
	if err != nil {
		return err
	}
	loans, err := client.MyBooks(c.Context)
	if errors.Is(err, middleware.ErrNoSession) {
		return errNotSignedIn
	}
	if err != nil {
		return err
	}

	now := time.Now()
	rows := make([][]string, 0, len(loans))
	for _, l := range loans {
		overdue := ""
		if l.Overdue(now) {
			overdue = "OVERDUE"
		}
		rows = append(rows, []string{l.Name(), l.DueDate, overdue})
	}
	return render(c, loans, []string{"TITLE", "DUE", ""}, rows)
}

func finesCommand() *cli.Command {
	return &cli.Command{
		Name:  "fines",
		Usage: "Show fines",
		Subcommands: []*cli.Command{
			{
				Name:   "mine",
				Usage:  "List your fines",
				Action: finesMine,
			},
		},
	}
}

func finesMine(c *cli.Context) error {
	m, cleanup, err := openManager(c, false)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := backendClient(c, m)
	if err != nil {
		return err
	}
	fines, err := client.MyFines(c.Context)
	if errors.Is(err, middleware.ErrNoSession) {
		return errNotSignedIn
	}
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(fines)+1)
	for _, f := range fines {
		rows = append(rows, []string{f.BookTitle, f.Reason, formatAmount(f.Amount), f.Status})
	}
	rows = append(rows, []string{"TOTAL", "", formatAmount(backend.TotalFines(fines)), ""})
	return render(c, fines, []string{"BOOK", "REASON", "AMOUNT", "STATUS"}, rows)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
