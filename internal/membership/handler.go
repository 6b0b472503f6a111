// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"
	"time"

	"librarium/internal/access"
	"librarium/internal/auth"
	"librarium/internal/httpx"

	"go.uber.org/zap"
)

type Handler struct {
	service          Service
	issuer           *auth.Issuer
	matrix           *access.Matrix
	openRegistration bool
	logger           *zap.Logger
}

// NewHandler wires the directory endpoints. With openRegistration set,
// anonymous callers may create student accounts.
func NewHandler(service Service, issuer *auth.Issuer, matrix *access.Matrix, openRegistration bool, logger *zap.Logger) *Handler {
	return &Handler{
		service:          service,
		issuer:           issuer,
		matrix:           matrix,
		openRegistration: openRegistration,
		logger:           logger,
	}
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

type statusRequest struct {
	Status Status `json:"status" validate:"required,oneof=active inactive suspended"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, exp, err := h.issuer.Issue(auth.Identity{UserID: user.ID, Role: user.Role})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: user})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	caller, authenticated := auth.FromContext(r.Context())
	privileged := authenticated && h.matrix.Allows(caller.Role, access.Users, access.Create)
	if !privileged {
		if !h.openRegistration {
			httpx.WriteError(w, http.StatusForbidden, "", "registration is closed")
			return
		}
		if req.Role != "" && req.Role != access.RoleStudent {
			httpx.WriteError(w, http.StatusForbidden, "", "self-registration is limited to student accounts")
			return
		}
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	caller, _ := auth.FromContext(r.Context())
	if caller.UserID != id && !h.matrix.Allows(caller.Role, access.Users, access.Read) {
		httpx.WriteError(w, http.StatusForbidden, "", "forbidden")
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	var req statusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	user, err := h.service.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		httpx.WriteError(w, http.StatusNotFound, "", err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "", err.Error())
	case errors.Is(err, ErrAccountLocked):
		httpx.WriteError(w, http.StatusLocked, "", err.Error())
	case errors.Is(err, ErrRateLimited):
		httpx.WriteError(w, http.StatusTooManyRequests, "", err.Error())
	case errors.Is(err, ErrUsernameTaken):
		httpx.WriteError(w, http.StatusConflict, "", err.Error())
	case errors.Is(err, ErrInvalidStatus):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "", err.Error())
	default:
		h.logger.Error("membership request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "", "internal error")
	}
}
