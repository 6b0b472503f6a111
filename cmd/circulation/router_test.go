package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"librarium/internal/access"
	"librarium/internal/auth"
	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/config"
	"librarium/internal/fines"
	"librarium/internal/integrity"
	"librarium/internal/membership"
	"librarium/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	app   *app
	store *memory.Store

	mu  sync.Mutex
	now time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		t:     t,
		store: memory.New(),
		now:   time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC),
	}

	policy := circulation.DefaultPolicy()
	policy.Location = time.UTC
	cfg := &config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour, RegistrationEnabled: true}

	a, err := newApp(cfg, ts.store, policy, fines.NopPublisher, zap.NewNop(), ts.clock)
	require.NoError(t, err)
	ts.app = a
	ts.srv = httptest.NewServer(a.routes())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) clock() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.now
}

func (ts *testServer) advance(days int) {
	ts.mu.Lock()
	ts.now = ts.now.AddDate(0, 0, days)
	ts.mu.Unlock()
}

// do sends a JSON request and decodes a 2xx body into out. It is safe to
// call from several goroutines.
func (ts *testServer) do(method, path, token string, body, out interface{}) int {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if !assert.NoError(ts.t, err) {
			return 0
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if !assert.NoError(ts.t, err) {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.srv.Client().Do(req)
	if !assert.NoError(ts.t, err) {
		return 0
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		assert.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// seed stores a user directly and returns a token for it.
func (ts *testServer) seed(role access.Role) (membership.User, string) {
	u := membership.User{
		ID:       uuid.New(),
		Username: "u" + uuid.NewString()[:8],
		FullName: "Seeded " + string(role),
		Role:     role,
		Status:   membership.StatusActive,
		Version:  1,
	}
	u.Email = u.Username + "@example.edu"
	ts.store.SeedUser(u)
	token, _, err := ts.app.issuer.Issue(auth.Identity{UserID: u.ID, Role: role})
	require.NoError(ts.t, err)
	return u, token
}

func (ts *testServer) login(login, password string) string {
	var resp struct {
		Token string `json:"token"`
	}
	status := ts.do(http.MethodPost, "/login", "", map[string]string{"login": login, "password": password}, &resp)
	require.Equal(ts.t, http.StatusOK, status)
	require.NotEmpty(ts.t, resp.Token)
	return resp.Token
}

func TestBorrowReturnAndPayFlow(t *testing.T) {
	ts := newTestServer(t)

	// Anonymous self-registration creates a student.
	var student membership.User
	status := ts.do(http.MethodPost, "/users", "", map[string]string{
		"username": "alice", "email": "alice@example.edu", "full_name": "Alice Liddell", "password": "SecurePass123!",
	}, &student)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, access.RoleStudent, student.Role)

	admins := membership.NewService(ts.store.Membership(), zap.NewNop())
	_, err := admins.Register(context.Background(), membership.RegisterRequest{
		Username: "root", Email: "root@example.edu", FullName: "Head Librarian", Password: "SecurePass123!", Role: access.RoleAdmin,
	})
	require.NoError(t, err)

	adminToken := ts.login("root", "SecurePass123!")
	studentToken := ts.login("alice@example.edu", "SecurePass123!")

	var book catalog.Book
	status = ts.do(http.MethodPost, "/books", adminToken, map[string]interface{}{
		"isbn": "9780141439518", "title": "Pride and Prejudice", "author": "Jane Austen", "quantity": 2,
	}, &book)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 2, book.Available)

	var loan circulation.Borrowing
	status = ts.do(http.MethodPost, "/borrowings", adminToken, map[string]string{
		"user_id": student.ID.String(), "book_id": book.ID.String(),
	}, &loan)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC), loan.DueDate.UTC())

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/books/"+book.ID.String(), studentToken, nil, &book))
	assert.Equal(t, 1, book.Available)

	var shelf []catalog.Book
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/books?limit=10", studentToken, nil, &shelf))
	require.Len(t, shelf, 1)
	assert.Equal(t, book.ID, shelf[0].ID)

	var mine []circulation.Borrowing
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/borrowings/mine", studentToken, nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, loan.ID, mine[0].ID)

	ts.advance(18)

	var overdue []circulation.OverdueBorrowing
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/borrowings/overdue", adminToken, nil, &overdue))
	require.Len(t, overdue, 1)
	assert.Equal(t, "Pride and Prejudice", overdue[0].BookTitle)
	assert.Equal(t, 4, overdue[0].DaysOverdue)

	var returned circulation.ReturnResult
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/borrowings/"+loan.ID.String()+"/return", adminToken, nil, &returned))
	assert.Equal(t, circulation.StatusReturned, returned.Borrowing.Status)
	require.NotNil(t, returned.Fine)
	assert.True(t, decimal.RequireFromString("6.00").Equal(returned.Fine.Amount), returned.Fine.Amount.String())

	status = ts.do(http.MethodPost, "/borrowings/"+loan.ID.String()+"/return", adminToken, nil, nil)
	assert.Equal(t, http.StatusConflict, status)

	var stats circulation.Stats
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/stats", adminToken, nil, &stats))
	assert.Equal(t, 0, stats.ActiveBorrowings)
	assert.True(t, decimal.RequireFromString("6.00").Equal(stats.OutstandingFines))

	var owed []fines.Fine
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/fines/mine", studentToken, nil, &owed))
	require.Len(t, owed, 1)

	var paid fines.Fine
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/fines/"+owed[0].ID.String()+"/payments", adminToken,
		map[string]string{"amount": "6.00"}, &paid))
	assert.Equal(t, fines.StatusPaid, paid.Status)

	var report integrity.Report
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/reports/integrity", adminToken, nil, &report))
	assert.True(t, report.Healthy, "%+v", report.Violations)
}

func TestAccessControl(t *testing.T) {
	ts := newTestServer(t)
	_, studentToken := ts.seed(access.RoleStudent)
	other, _ := ts.seed(access.RoleStudent)
	_, adminToken := ts.seed(access.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"no token", http.MethodGet, "/borrowings/mine", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/borrowings/mine", "not-a-jwt", nil, http.StatusUnauthorized},
		{"student adds book", http.MethodPost, "/books", studentToken,
			map[string]interface{}{"title": "T", "author": "A", "quantity": 1}, http.StatusForbidden},
		{"student reads stats", http.MethodGet, "/stats", studentToken, nil, http.StatusForbidden},
		{"student lists overdue", http.MethodGet, "/borrowings/overdue", studentToken, nil, http.StatusForbidden},
		{"student reads another user", http.MethodGet, "/users/" + other.ID.String(), studentToken, nil, http.StatusForbidden},
		{"student self-registers as admin", http.MethodPost, "/users", "",
			map[string]string{"username": "mallory", "email": "m@example.edu", "full_name": "M", "password": "SecurePass123!", "role": "admin"},
			http.StatusForbidden},
		{"admin creates librarian", http.MethodPost, "/users", adminToken,
			map[string]string{"username": "libby", "email": "l@example.edu", "full_name": "L", "password": "SecurePass123!", "role": "librarian"},
			http.StatusCreated},
		{"admin reads stats", http.MethodGet, "/stats", adminToken, nil, http.StatusOK},
		{"invalid body", http.MethodPost, "/books", adminToken, map[string]interface{}{"title": "T"}, http.StatusBadRequest},
		{"invalid id", http.MethodGet, "/books/not-a-uuid", adminToken, nil, http.StatusBadRequest},
		{"unknown book", http.MethodGet, "/books/" + uuid.NewString(), adminToken, nil, http.StatusNotFound},
		{"no token lists books", http.MethodGet, "/books", "", nil, http.StatusUnauthorized},
		{"student lists books", http.MethodGet, "/books?offset=5", studentToken, nil, http.StatusOK},
		{"non-numeric limit", http.MethodGet, "/books?limit=ten", adminToken, nil, http.StatusBadRequest},
		{"negative offset", http.MethodGet, "/books?offset=-1", adminToken, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ts.do(tt.method, tt.path, tt.token, tt.body, nil))
		})
	}
}

func TestConcurrentBorrowPreventsDoubleLending(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.seed(access.RoleAdmin)

	var book catalog.Book
	status := ts.do(http.MethodPost, "/books", adminToken, map[string]interface{}{
		"title": "The Great Gatsby", "author": "F. Scott Fitzgerald", "quantity": 1,
	}, &book)
	require.Equal(t, http.StatusCreated, status)

	readers := make([]membership.User, 10)
	for i := range readers {
		readers[i], _ = ts.seed(access.RoleStudent)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for _, u := range readers {
		wg.Add(1)
		go func(u membership.User) {
			defer wg.Done()
			code := ts.do(http.MethodPost, "/borrowings", adminToken, map[string]string{
				"user_id": u.ID.String(), "book_id": book.ID.String(),
			}, nil)
			mu.Lock()
			statuses[code]++
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, statuses[http.StatusCreated], "only one borrow may succeed: %v", statuses)
	assert.Equal(t, len(readers)-1, statuses[http.StatusConflict])

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/books/"+book.ID.String(), adminToken, nil, &book))
	assert.Equal(t, 0, book.Available)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	var health healthResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil, &health))
	assert.Equal(t, healthResponse{Status: "ok", Database: "up", Events: "disabled"}, health)

	ts.app.eventsHealthy = func() bool { return false }
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil, &health))
	assert.Equal(t, "degraded", health.Status)

	resp, err := ts.srv.Client().Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `librarium_http_requests_total{method="GET",route="/healthz",status="200"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestBorrowingVisibility(t *testing.T) {
	ts := newTestServer(t)
	owner, ownerToken := ts.seed(access.RoleStudent)
	_, strangerToken := ts.seed(access.RoleStaff)
	_, adminToken := ts.seed(access.RoleAdmin)

	var book catalog.Book
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/books", adminToken,
		map[string]interface{}{"title": "Dune", "author": "Frank Herbert", "quantity": 1}, &book))
	var loan circulation.Borrowing
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/borrowings", adminToken,
		map[string]string{"user_id": owner.ID.String(), "book_id": book.ID.String()}, &loan))

	path := fmt.Sprintf("/borrowings/%s", loan.ID)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, ownerToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, path, strangerToken, nil, nil))
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, adminToken, nil, nil))

	var renewed circulation.Borrowing
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, path+"/renew", adminToken, nil, &renewed))
	assert.Equal(t, loan.DueDate.AddDate(0, 0, 14).UTC(), renewed.DueDate.UTC())
	assert.Equal(t, 1, renewed.RenewalCount)
}
