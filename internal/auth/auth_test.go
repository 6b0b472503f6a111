package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"librarium/internal/access"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	id := Identity{UserID: uuid.New(), Role: access.RoleLibrarian}

	tok, exp, err := issuer.Issue(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	for _, header := range []string{"Bearer " + tok, "bearer\t" + tok, " BEARER  " + tok + " ", tok} {
		got, err := issuer.Parse(header)
		require.NoError(t, err, header)
		assert.Equal(t, id, got)
	}
}

func TestParseRejects(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	id := Identity{UserID: uuid.New(), Role: access.RoleStudent}

	other, _, err := NewIssuer("other", time.Hour).Issue(id)
	require.NoError(t, err)

	expiredIssuer := NewIssuer("secret", time.Hour)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredIssuer.Issue(id)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.UserID.String()},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"bearer only", "Bearer ", ErrMissingToken},
		{"bare scheme", "Bearer", ErrMissingToken},
		{"scheme and tab", "bearer\t", ErrMissingToken},
		{"scheme and spaces", "  BEARER   ", ErrMissingToken},
		{"scheme glued to token", "Bearerabc.def.ghi", ErrInvalidToken},
		{"wrong secret", other, ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
		{"garbage", "a.b.c", ErrInvalidToken},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Parse(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMiddlewareAndRequire(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	matrix := access.DefaultMatrix()

	var seen Identity
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(issuer)(Require(matrix, access.Borrowing, access.Create)(final))

	student, _, err := issuer.Issue(Identity{UserID: uuid.New(), Role: access.RoleStudent})
	require.NoError(t, err)
	librarianID := Identity{UserID: uuid.New(), Role: access.RoleLibrarian}
	librarian, _, err := issuer.Issue(librarianID)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		header string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"student forbidden", "Bearer " + student, http.StatusForbidden},
		{"librarian allowed", "Bearer " + librarian, http.StatusNoContent},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/borrowings", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
		})
	}
	assert.Equal(t, librarianID, seen)
}
