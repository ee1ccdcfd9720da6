package payments

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gymdesk/internal/httpx"
)

type Handler struct {
	service  Service
	location *time.Location
}

func NewHandler(service Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{service: service, location: loc}
}

// Mount registers the payment routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleRecord)
	r.Get("/revenue", h.HandleRevenue)
	r.Get("/{id}", h.HandleGet)
	r.Delete("/{id}", h.HandleDelete)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		f   Filter
		err error
	)
	if f.MemberID, err = httpx.QueryInt64(r, "member_id"); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if f.From, f.To, err = h.parseRange(r); err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := h.service.ListPayments(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var req Input
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	payment, err := h.service.RecordPayment(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, payment)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payment)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRevenue(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	rev, err := h.service.RevenueBetween(r.Context(), from, to)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rev)
}

func (h *Handler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := httpx.QueryTime(r, "from", h.location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := httpx.QueryTime(r, "to", h.location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
