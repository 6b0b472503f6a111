package circulation

import "errors"

// ErrCode identifies a caller-correctable failure. These are never retried.
type ErrCode string

const (
	UserIneligible       ErrCode = "USER_INELIGIBLE"
	BookNotFound         ErrCode = "BOOK_NOT_FOUND"
	BookUnavailable      ErrCode = "BOOK_UNAVAILABLE"
	BorrowLimitReached   ErrCode = "BORROW_LIMIT_REACHED"
	AlreadyBorrowed      ErrCode = "ALREADY_BORROWED"
	NotCurrentlyBorrowed ErrCode = "NOT_CURRENTLY_BORROWED"
	CannotRenewOverdue   ErrCode = "CANNOT_RENEW_OVERDUE"
	RenewLimitReached    ErrCode = "RENEW_LIMIT_REACHED"
	BorrowingNotFound    ErrCode = "BORROWING_NOT_FOUND"
)

var messages = map[ErrCode]string{
	UserIneligible:       "user is not eligible to borrow",
	BookNotFound:         "book not found",
	BookUnavailable:      "no copies available",
	BorrowLimitReached:   "borrowing limit reached",
	AlreadyBorrowed:      "user already has this book",
	NotCurrentlyBorrowed: "borrowing is not open",
	CannotRenewOverdue:   "overdue loans must be returned",
	RenewLimitReached:    "renewal limit reached",
	BorrowingNotFound:    "borrowing not found",
}

// Error is a precondition failure carrying an ErrCode.
type Error struct{ code ErrCode }

func (e *Error) Error() string { return messages[e.code] }
func (e *Error) Code() ErrCode { return e.code }
func newError(c ErrCode) error { return &Error{code: c} }

// CodeOf extracts the ErrCode from err, or "" when err carries none.
func CodeOf(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}
