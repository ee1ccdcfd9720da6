package attendance

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

// Mount registers the ledger routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/checkin", h.HandleCheckIn)
	r.Post("/checkout", h.HandleCheckOut)
	r.Get("/", h.HandleList)
	r.Get("/today", h.HandleToday)
}

type codeRequest struct {
	MemberCode string `json:"member_code"`
}

func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	receipt, err := h.service.CheckIn(r.Context(), req.MemberCode)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) HandleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	receipt, err := h.service.CheckOut(r.Context(), req.MemberCode)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	visits, err := h.service.ListVisits(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, visits)
}

func (h *Handler) HandleToday(w http.ResponseWriter, r *http.Request) {
	visits, err := h.service.TodayVisits(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, visits)
}

func (h *Handler) parseFilter(r *http.Request) (VisitFilter, error) {
	var (
		f   VisitFilter
		err error
	)
	if f.MemberID, err = httpx.QueryInt64(r, "member_id"); err != nil {
		return f, err
	}
	if f.OpenOnly, err = httpx.QueryBool(r, "open"); err != nil {
		return f, err
	}
	if f.From, err = httpx.QueryTime(r, "from", h.location); err != nil {
		return f, err
	}
	if f.To, err = httpx.QueryTime(r, "to", h.location); err != nil {
		return f, err
	}
	return f, nil
}
