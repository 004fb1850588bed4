package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// AddBook uploads book metadata together with its cover image as one
// multipart request.
func (c *Client) AddBook(ctx context.Context, book NewBook, coverName string, cover io.Reader) error {
	meta, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode book: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", coverName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, cover); err != nil {
		return fmt.Errorf("read cover: %w", err)
	}
	if err := mw.WriteField("book", string(meta)); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/admin/books/add",
		authed:      true,
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, nil)
}

// AdminSearchBooks searches with librarian visibility. An empty query lists
// every book.
func (c *Client) AdminSearchBooks(ctx context.Context, query string) ([]Book, error) {
	var out []Book
	if query == "" {
		err := c.getJSON(ctx, "/api/admin/books/all", true, nil, &out)
		return out, err
	}
	err := c.getJSON(ctx, "/api/admin/books/search", true, url.Values{"query": {query}}, &out)
	return out, err
}

func (c *Client) IssueBook(ctx context.Context, req IssueRequest) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/admin/books/issue", true, req, nil)
}

func (c *Client) ReturnBook(ctx context.Context, req IssueRequest) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/admin/books/return", true, req, nil)
}

// BorrowedBooks lists every open loan.
func (c *Client) BorrowedBooks(ctx context.Context) ([]Loan, error) {
	var out []Loan
	err := c.getJSON(ctx, "/api/admin/borrowed/all", true, nil, &out)
	return out, err
}

func (c *Client) Members(ctx context.Context) ([]Member, error) {
	var out []Member
	err := c.getJSON(ctx, "/api/admin/users/all", true, nil, &out)
	return out, err
}

func (c *Client) CreateMember(ctx context.Context, m Member) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/admin/users/create", true, m, nil)
}

// UpdateMember replaces the member's details. An empty Password keeps the
// current one.
func (c *Client) UpdateMember(ctx context.Context, id int64, m Member) error {
	return c.sendJSON(ctx, http.MethodPut, "/api/admin/users/update/"+strconv.FormatInt(id, 10), true, m, nil)
}

func (c *Client) DeleteMember(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/api/admin/users/delete/" + strconv.FormatInt(id, 10),
		authed: true,
	}, nil)
}

func (c *Client) Fines(ctx context.Context) ([]Fine, error) {
	var out []Fine
	err := c.getJSON(ctx, "/api/admin/fines/all", true, nil, &out)
	return out, err
}

func (c *Client) AddFine(ctx context.Context, f NewFine) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/admin/fines/add", true, f, nil)
}

func (c *Client) PayFine(ctx context.Context, fineID int64) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/admin/fines/pay",
		query:  url.Values{"fineId": {strconv.FormatInt(fineID, 10)}},
		authed: true,
	}, nil)
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.getJSON(ctx, "/api/admin/stats", true, nil, &out)
	return out, err
}

// ChangePassword changes the signed-in librarian's password.
func (c *Client) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/admin/change-password", true, req, nil)
}
