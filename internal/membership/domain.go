// internal/membership/domain.go
package membership

import (
	"errors"
	"fmt"
	"time"

	"librarium/internal/access"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username/email or password")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrUsernameTaken      = errors.New("username or email already registered")
	ErrInvalidStatus      = errors.New("invalid user status")
)

// Login lockout policy.
const (
	MaxLoginAttempts = 3
	LockoutDuration  = 30 * time.Minute
)

// Status is a user's account status.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusInactive, StatusSuspended:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// User is a library account.
type User struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Username  string      `json:"username" db:"username"`
	Email     string      `json:"email" db:"email"`
	FullName  string      `json:"full_name" db:"full_name"`
	Role      access.Role `json:"role" db:"role"`
	Status    Status      `json:"status" db:"status"`
	Version   int         `json:"version" db:"version"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// Credential represents a user's login credentials.
type Credential struct {
	UserID         uuid.UUID  `json:"-" db:"user_id"`
	PasswordHash   string     `json:"-" db:"password_hash"`
	Salt           string     `json:"-" db:"salt"`
	FailedAttempts int        `json:"-" db:"failed_attempts"`
	LockedUntil    *time.Time `json:"-" db:"locked_until"`
}

// Locked reports whether the credential is locked out at now.
func (c *Credential) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Username string      `json:"username" validate:"required,alphanum,min=3,max=50"`
	Email    string      `json:"email" validate:"required,email"`
	FullName string      `json:"full_name" validate:"required,max=100"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     access.Role `json:"role" validate:"omitempty,oneof=admin librarian staff student"`
}

const (
	AggregateType = "user"

	EventUserRegistered    = "UserRegistered"
	EventUserStatusChanged = "UserStatusChanged"
)

// UserRegisteredEvent is recorded when an account is created.
type UserRegisteredEvent struct {
	ID       uuid.UUID   `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     access.Role `json:"role"`
}

// UserStatusChangedEvent is recorded when an account is activated or suspended.
type UserStatusChangedEvent struct {
	ID        uuid.UUID `json:"id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
}
