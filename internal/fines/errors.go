package fines

import "errors"

// ErrCode identifies a caller-correctable failure.
type ErrCode string

const (
	BorrowingNotFound ErrCode = "BORROWING_NOT_FOUND"
	FineNotFound      ErrCode = "FINE_NOT_FOUND"
	InvalidAmount     ErrCode = "INVALID_AMOUNT"
	InvalidPayment    ErrCode = "INVALID_PAYMENT"
	PaymentExceedsDue ErrCode = "PAYMENT_EXCEEDS_DUE"
)

var messages = map[ErrCode]string{
	BorrowingNotFound: "borrowing not found",
	FineNotFound:      "fine not found",
	InvalidAmount:     "fine amount must not be negative",
	InvalidPayment:    "payment must be positive",
	PaymentExceedsDue: "payment exceeds amount due",
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
