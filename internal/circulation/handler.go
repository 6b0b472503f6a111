// internal/circulation/handler.go
package circulation

import (
	"errors"
	"net/http"

	"librarium/internal/access"
	"librarium/internal/auth"
	"librarium/internal/fines"
	"librarium/internal/httpx"
	"librarium/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
	matrix  *access.Matrix
	logger  *zap.Logger
}

func NewHandler(service Service, matrix *access.Matrix, logger *zap.Logger) *Handler {
	return &Handler{service: service, matrix: matrix, logger: logger}
}

type borrowRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	BookID uuid.UUID `json:"book_id" validate:"required"`
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	b, err := h.service.Borrow(r.Context(), req.UserID, req.BookID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, b)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	res, err := h.service.Return(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	b, err := h.service.Renew(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	b, err := h.service.GetBorrowing(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	caller, _ := auth.FromContext(r.Context())
	if b.UserID != caller.UserID && !h.matrix.Allows(caller.Role, access.Borrowing, access.Update) {
		httpx.WriteError(w, http.StatusNotFound, string(BorrowingNotFound), "borrowing not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) HandleMine(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	list, err := h.service.History(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []Borrowing{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleOverdue(w http.ResponseWriter, r *http.Request) {
	list := []OverdueBorrowing{}
	for ob, err := range h.service.Overdue(r.Context()) {
		if err != nil {
			h.writeError(w, err)
			return
		}
		list = append(list, ob)
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func statusFor(code ErrCode) int {
	switch code {
	case BookNotFound, BorrowingNotFound:
		return http.StatusNotFound
	case UserIneligible:
		return http.StatusForbidden
	case BookUnavailable, AlreadyBorrowed, NotCurrentlyBorrowed:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if code := CodeOf(err); code != "" {
		httpx.WriteError(w, statusFor(code), string(code), err.Error())
		return
	}
	if code := fines.CodeOf(err); code != "" {
		httpx.WriteError(w, http.StatusUnprocessableEntity, string(code), err.Error())
		return
	}
	if errors.Is(err, store.ErrConflict) {
		httpx.WriteError(w, http.StatusConflict, "", "concurrent update, try again")
		return
	}
	h.logger.Error("circulation request failed", zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "", "internal error")
}
