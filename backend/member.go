package backend

import (
	"context"
	"net/http"
	"net/url"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/middleware"
)

// SearchBooks queries the public catalogue. An empty query lists every book.
func (c *Client) SearchBooks(ctx context.Context, query string) ([]Book, error) {
	var out []Book
	if query == "" {
		err := c.getJSON(ctx, "/api/public/books/all", false, nil, &out)
		return out, err
	}
	err := c.getJSON(ctx, "/api/public/books/search", false, url.Values{"query": {query}}, &out)
	return out, err
}

func (c *Client) LatestBooks(ctx context.Context) ([]Book, error) {
	var out []Book
	err := c.getJSON(ctx, "/api/public/books/latest", false, nil, &out)
	return out, err
}

// MyBooks lists the member's current loans.
func (c *Client) MyBooks(ctx context.Context) ([]Loan, error) {
	var out []Loan
	err := c.getJSON(ctx, "/api/user/my-books", true, nil, &out)
	return out, err
}

func (c *Client) MyFines(ctx context.Context) ([]Fine, error) {
	var out []Fine
	err := c.getJSON(ctx, "/api/user/my-fines", true, nil, &out)
	return out, err
}

// Notifications lists the signed-in account's notifications. Members and
// librarians read from different paths.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	path, err := c.notificationsPath()
	if err != nil {
		return nil, err
	}
	var out []Notification
	err = c.getJSON(ctx, path, true, nil, &out)
	return out, err
}

func (c *Client) MarkNotificationsRead(ctx context.Context) error {
	path, err := c.notificationsPath()
	if err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPost, path+"/mark-read", true, struct{}{}, nil)
}

func (c *Client) notificationsPath() (string, error) {
	if c.source == nil {
		return "", middleware.ErrNoSession
	}
	s := c.source.Session()
	if !s.Valid() {
		return "", middleware.ErrNoSession
	}
	if s.Role == lmsauth.RoleLibrarian {
		return "/api/admin/my-notifications", nil
	}
	return "/api/user/my-notifications", nil
}

// RequestBorrow asks a librarian to issue bookID.
func (c *Client) RequestBorrow(ctx context.Context, bookID int64) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/user/request-borrow", true, bookRef{BookID: bookID}, nil)
}

// JoinWaitlist subscribes the member to a restock notification for bookID.
func (c *Client) JoinWaitlist(ctx context.Context, bookID int64) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/user/waitlist/add", true, bookRef{BookID: bookID}, nil)
}
