package staff

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gymdesk/internal/apperr"
	"gymdesk/internal/caller"
	"gymdesk/internal/httpx"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Mount registers the login route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/login", h.HandleLogin)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	login, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, login)
}

// Middleware rejects requests without a valid bearer token and attaches the
// staff identity to the request context.
func Middleware(tokens *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "staff.Middleware"
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				httpx.WriteError(w, apperr.E(apperr.KindUnauthorized, op, "missing bearer token"))
				return
			}
			id, err := tokens.Verify(strings.TrimSpace(raw))
			if err != nil {
				httpx.WriteError(w, apperr.E(apperr.KindUnauthorized, op, "invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(caller.With(r.Context(), id)))
		})
	}
}
