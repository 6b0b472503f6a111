// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"librarium/internal/access"
	"librarium/internal/eventstore"
	"librarium/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// service implements the Service interface.
type service struct {
	repo        Repository
	logger      *zap.Logger
	rateLimiter *rate.Limiter
	now         func() time.Time
}

// Option configures the directory.
type Option func(*service)

// WithRateLimit replaces the limiter shared by Register and Authenticate.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *service) { s.rateLimiter = rate.NewLimiter(r, burst) }
}

// WithClock overrides the time source used for lockouts.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new membership service instance.
func NewService(repo Repository, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		repo:        repo,
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new user. The role defaults to student.
func (s *service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	role := access.RoleStudent
	if req.Role != "" {
		r, err := access.ParseRole(string(req.Role))
		if err != nil {
			return nil, err
		}
		role = r
	}

	hash, salt, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:        uuid.New(),
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:  strings.TrimSpace(req.FullName),
		Role:      role,
		Status:    StatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cred := &Credential{UserID: user.ID, PasswordHash: hash, Salt: salt}

	event, err := eventstore.NewEvent(user.ID, AggregateType, EventUserRegistered, user.Version, UserRegisteredEvent{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertUser(ctx, user, cred); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return tx.AppendEvents(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

// Authenticate verifies credentials. Three consecutive failures lock the
// account for LockoutDuration; a success resets the counter.
func (s *service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		user    *User
		authErr error
	)
	err := s.repo.InTx(ctx, func(tx Tx) error {
		u, cred, err := tx.FindLogin(ctx, login)
		if errors.Is(err, store.ErrNotFound) {
			authErr = ErrInvalidCredentials
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load credentials: %w", err)
		}

		now := s.now().UTC()
		if cred.Locked(now) {
			authErr = ErrAccountLocked
			return nil
		}
		if u.Status != StatusActive {
			authErr = ErrInvalidCredentials
			return nil
		}

		ok, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
		if err != nil {
			return fmt.Errorf("failed to verify password: %w", err)
		}
		if !ok {
			cred.FailedAttempts++
			if cred.FailedAttempts >= MaxLoginAttempts {
				until := now.Add(LockoutDuration)
				cred.LockedUntil = &until
				cred.FailedAttempts = 0
				s.logger.Warn("account locked after failed logins",
					zap.String("user_id", u.ID.String()),
					zap.Time("locked_until", until),
				)
			}
			authErr = ErrInvalidCredentials
			return tx.SaveCredential(ctx, cred)
		}

		if cred.FailedAttempts != 0 || cred.LockedUntil != nil {
			cred.FailedAttempts = 0
			cred.LockedUntil = nil
			if err := tx.SaveCredential(ctx, cred); err != nil {
				return err
			}
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if authErr != nil {
		s.logger.Info("login failed", zap.String("login", login), zap.Error(authErr))
		return nil, authErr
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID.String()))
	return user, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// SetStatus activates, deactivates or suspends an account. Open borrowings
// are left alone; an inactive user simply cannot borrow more.
func (s *service) SetStatus(ctx context.Context, id uuid.UUID, status Status) (*User, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	var out *User
	err := s.repo.InTx(ctx, func(tx Tx) error {
		u, err := tx.LockUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}
		if u.Status == status {
			out = u
			return nil
		}

		old := u.Status
		u.Status = status
		u.Version++
		u.UpdatedAt = s.now().UTC()

		event, err := eventstore.NewEvent(u.ID, AggregateType, EventUserStatusChanged, u.Version, UserStatusChangedEvent{
			ID:        u.ID,
			OldStatus: old,
			NewStatus: status,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateUser(ctx, u); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		if err := tx.AppendEvents(ctx, event); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
