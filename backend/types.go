package backend

import (
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
)

// LoginResult is what Manager.Login needs.
type LoginResult struct {
	Token string
	Role  lmsauth.Role
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginResponse struct {
	JWT  string `json:"jwt"`
	Role string `json:"role"`
}

// ResetPasswordRequest resets a password with the library's admin key.
type ResetPasswordRequest struct {
	Username    string `json:"username"`
	AdminKey    string `json:"adminKey"`
	NewPassword string `json:"newPassword"`
}

// RegisterLibrarianRequest creates a librarian account.
type RegisterLibrarianRequest struct {
	AuthorizationKey string `json:"authorizationKey"`
	Name             string `json:"name"`
	LibrarianID      string `json:"librarianId"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	Password         string `json:"password"`
}

// ChangePasswordRequest changes the signed-in librarian's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type Profile struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type Contact struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	MobileNumber string `json:"mobileNumber"`
}

type Book struct {
	ID              int64  `json:"id"`
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Description     string `json:"description,omitempty"`
	TotalCopies     int    `json:"totalCopies"`
	AvailableCopies int    `json:"availableCopies"`
	CoverImageURL   string `json:"coverImageUrl,omitempty"`
}

// NewBook is the metadata half of an AddBook upload.
type NewBook struct {
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	TotalCopies int    `json:"totalCopies"`
	Description string `json:"description"`
}

// Loan is one borrowed copy. Member listings fill Title; the librarian
// listing fills BookTitle and Username.
type Loan struct {
	ID        int64  `json:"id"`
	Title     string `json:"title,omitempty"`
	BookTitle string `json:"bookTitle,omitempty"`
	Username  string `json:"username,omitempty"`
	IssueDate string `json:"issueDate,omitempty"`
	DueDate   string `json:"dueDate"`
}

// Name returns whichever title field the endpoint filled.
func (l Loan) Name() string {
	if l.Title != "" {
		return l.Title
	}
	return l.BookTitle
}

// Overdue reports whether the due date (YYYY-MM-DD) is before now's day.
func (l Loan) Overdue(now time.Time) bool {
	due, err := time.Parse(time.DateOnly, l.DueDate)
	if err != nil {
		return false
	}
	y, m, d := now.Date()
	return due.Before(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// IssueRequest names a copy by ISBN and the member it goes to or comes from.
type IssueRequest struct {
	ISBN     string `json:"isbn"`
	Username string `json:"username"`
}

type Fine struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username,omitempty"`
	BookTitle string  `json:"bookTitle,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status,omitempty"`
}

// TotalFines sums Amount.
func TotalFines(fines []Fine) float64 {
	var total float64
	for _, f := range fines {
		total += f.Amount
	}
	return total
}

// NewFine is a manual fine raised by a librarian.
type NewFine struct {
	Username string  `json:"username"`
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason"`
}

type Notification struct {
	ID        int64  `json:"id"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type Member struct {
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	MobileNumber string `json:"mobileNumber"`
	Password     string `json:"password,omitempty"`
}

type Stats struct {
	TotalMembers     int     `json:"totalMembers"`
	TotalBooks       int     `json:"totalBooks"`
	BooksOnLoan      int     `json:"booksOnLoan"`
	TotalFinesAmount float64 `json:"totalFinesAmount"`
}

type bookRef struct {
	BookID int64 `json:"bookId"`
}
