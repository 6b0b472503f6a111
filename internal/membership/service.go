// internal/membership/service.go
package membership

import (
	"context"

	"librarium/internal/eventstore"

	"github.com/google/uuid"
)

// Service defines the interface for the membership directory.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	// Authenticate checks a username or email against its password.
	Authenticate(ctx context.Context, login, password string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (*User, error)
}

// Tx is the transactional view of the directory. FindLogin and LockUser
// hold row locks until the transaction ends.
type Tx interface {
	InsertUser(ctx context.Context, u *User, c *Credential) error
	FindLogin(ctx context.Context, login string) (*User, *Credential, error)
	SaveCredential(ctx context.Context, c *Credential) error
	LockUser(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	AppendEvents(ctx context.Context, events ...eventstore.Event) error
}

// Repository persists users.
type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}
