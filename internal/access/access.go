// Package access resolves what each library role may do with each resource.
package access

import (
	"fmt"
	"strings"
)

// Role is a user's library role.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleStaff     Role = "staff"
	RoleStudent   Role = "student"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleLibrarian, RoleStaff, RoleStudent}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Resource is a protected area of the application.
type Resource string

const (
	Books      Resource = "books"
	Categories Resource = "categories"
	Users      Resource = "users"
	Borrowing  Resource = "borrowing"
	Fines      Resource = "fines"
	Reports    Resource = "reports"
	Settings   Resource = "settings"
)

// Action is a bit set of operations on a resource.
type Action uint8

const (
	Create Action = 1 << iota
	Read
	Update
	Delete

	CRUD = Create | Read | Update | Delete
)

// Matrix maps role -> resource -> permitted actions. It is immutable once built.
type Matrix struct {
	grants map[Role]map[Resource]Action
}

// NewMatrix copies grants into a Matrix.
func NewMatrix(grants map[Role]map[Resource]Action) *Matrix {
	m := &Matrix{grants: make(map[Role]map[Resource]Action, len(grants))}
	for role, resources := range grants {
		inner := make(map[Resource]Action, len(resources))
		for res, act := range resources {
			inner[res] = act
		}
		m.grants[role] = inner
	}
	return m
}

// DefaultMatrix returns the stock permission table.
func DefaultMatrix() *Matrix {
	return NewMatrix(map[Role]map[Resource]Action{
		RoleAdmin: {
			Books:      CRUD,
			Categories: CRUD,
			Users:      CRUD,
			Borrowing:  CRUD,
			Fines:      CRUD,
			Reports:    Read,
			Settings:   Read | Update,
		},
		RoleLibrarian: {
			Books:      CRUD,
			Categories: CRUD,
			Users:      Create | Read | Update,
			Borrowing:  Create | Read | Update,
			Fines:      Create | Read | Update,
			Reports:    Read,
		},
		RoleStaff: {
			Books:     Read,
			Borrowing: Read,
			Fines:     Read,
		},
		RoleStudent: {
			Books:     Read,
			Borrowing: Read,
			Fines:     Read,
		},
	})
}

// Allows reports whether role holds every bit of act on res.
func (m *Matrix) Allows(role Role, res Resource, act Action) bool {
	if act == 0 {
		return false
	}
	granted := m.grants[role][res]
	return granted&act == act
}
