package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type createRequest struct {
	Title    string `json:"title" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

func TestDecode(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"title":"Dune","quantity":2}`, false},
		{"missing title", `{"quantity":2}`, true},
		{"zero quantity", `{"title":"Dune","quantity":0}`, true},
		{"unknown field", `{"title":"Dune","quantity":1,"x":1}`, true},
		{"malformed", `{`, true},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req createRequest
			err := Decode(r, &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Dune", req.Title)
		})
	}
}

func TestURLParamUUID(t *testing.T) {
	id := uuid.New()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	got, err := URLParamUUID(r, "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	rctx.URLParams = chi.RouteParams{}
	rctx.URLParams.Add("id", "nope")
	_, err = URLParamUUID(r, "id")
	assert.Error(t, err)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusConflict, "BOOK_UNAVAILABLE", "no copies left")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"no copies left","code":"BOOK_UNAVAILABLE"}`, w.Body.String())
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware, RequestLogger(zap.NewNop()))
	r.Get("/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/books/"+uuid.NewString(), nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/books/{id}", "404")))
}
