package reporting

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gymdesk/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Mount registers the dashboard routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/stats", h.HandleDashboard)
	r.Get("/activity", h.HandleActivity)
}

func (h *Handler) HandleTodaySummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.TodaySummary(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) HandleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	month, err := httpx.QueryInt(r, "month")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	year, err := httpx.QueryInt(r, "year")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	report, err := h.service.MonthlyReport(r.Context(), month, year)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	events, err := h.service.RecentActivity(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}
