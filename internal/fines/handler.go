// internal/fines/handler.go
package fines

import (
	"errors"
	"net/http"

	"librarium/internal/access"
	"librarium/internal/auth"
	"librarium/internal/httpx"
	"librarium/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	f, err := h.service.GetFine(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	if !canSeeAll(caller) && f.UserID != caller.UserID {
		httpx.WriteError(w, http.StatusNotFound, string(FineNotFound), "fine not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, f)
}

func (h *Handler) HandleMine(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	list, err := h.service.UserFines(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []Fine{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	var req paymentRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	f, err := h.service.RecordPayment(r.Context(), id, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, f)
}

func canSeeAll(id auth.Identity) bool {
	return id.Role == access.RoleAdmin || id.Role == access.RoleLibrarian
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch code := CodeOf(err); code {
	case FineNotFound, BorrowingNotFound:
		httpx.WriteError(w, http.StatusNotFound, string(code), err.Error())
	case InvalidPayment, InvalidAmount:
		httpx.WriteError(w, http.StatusUnprocessableEntity, string(code), err.Error())
	case PaymentExceedsDue:
		httpx.WriteError(w, http.StatusConflict, string(code), err.Error())
	default:
		if errors.Is(err, store.ErrConflict) {
			httpx.WriteError(w, http.StatusConflict, "", "concurrent update, try again")
			return
		}
		h.logger.Error("fine request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "", "internal error")
	}
}
