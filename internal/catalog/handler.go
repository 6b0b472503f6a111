// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"librarium/internal/httpx"
	"librarium/internal/store"

	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type addBookRequest struct {
	ISBN     string `json:"isbn" validate:"omitempty,max=20"`
	Title    string `json:"title" validate:"required,max=255"`
	Author   string `json:"author" validate:"required,max=255"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req addBookRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	book, err := h.service.AddBook(r.Context(), req.ISBN, req.Title, req.Author, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	books, err := h.service.ListBooks(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if books == nil {
		books = []Book{}
	}
	httpx.WriteJSON(w, http.StatusOK, books)
}

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + name + " parameter")
	}
	return n, nil
}

func (h *Handler) HandleSetQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	var req quantityRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	book, err := h.service.SetQuantity(r.Context(), id, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBookNotFound):
		httpx.WriteError(w, http.StatusNotFound, "", err.Error())
	case errors.Is(err, ErrInvalidBook), errors.Is(err, ErrInvalidQuantity):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "", err.Error())
	case errors.Is(err, ErrInvalidPage):
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
	case errors.Is(err, ErrHasOpenBorrowings), errors.Is(err, ErrDuplicateISBN), errors.Is(err, store.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "", err.Error())
	default:
		h.logger.Error("catalog request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "", "internal error")
	}
}
