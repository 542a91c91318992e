package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/rsvpd/internal/application/usecases"
	"github.com/example/rsvpd/internal/domain/reservation"
	"github.com/example/rsvpd/internal/internaltypes"
)

const maxBodyBytes = 64 << 10

type Server struct {
	addr    string
	manager *usecases.Manager
	auth    *usecases.TokenAuth
	cursors *CursorCodec
	logger  *slog.Logger
}

func New(addr string, manager *usecases.Manager, auth *usecases.TokenAuth, cursors *CursorCodec, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, manager: manager, auth: auth, cursors: cursors, logger: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/reservations", s.handleReserve)
	api.HandleFunc("GET /v1/reservations", s.handleQuery)
	api.HandleFunc("GET /v1/reservations/{id}", s.handleGet)
	api.HandleFunc("PUT /v1/reservations/{id}/status", s.handleChangeStatus)
	api.HandleFunc("PUT /v1/reservations/{id}/note", s.handleUpdateNote)
	api.HandleFunc("DELETE /v1/reservations/{id}", s.handleDelete)
	mux.Handle("/v1/", s.requireAuth(api))

	return s.logging(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type reservationJSON struct {
	ID          int64              `json:"id"`
	RequesterID string             `json:"requester_id"`
	ResourceID  string             `json:"resource_id"`
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	Note        string             `json:"note"`
	Status      reservation.Status `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toJSON(r reservation.Reservation) reservationJSON {
	return reservationJSON{
		ID:          int64(r.ID),
		RequesterID: r.RequesterID,
		ResourceID:  r.ResourceID,
		Start:       r.Interval.Start,
		End:         r.Interval.End,
		Note:        r.Note,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type reserveRequest struct {
	RequesterID string `json:"requester_id"`
	ResourceID  string `json:"resource_id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Note        string `json:"note"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type noteRequest struct {
	Note *string `json:"note"`
}

type pageJSON struct {
	Items      []reservationJSON `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type errorJSON struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.manager.Ping(ctx); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	iv, err := reservation.ParseInterval(req.Start, req.End)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out, err := s.manager.Reserve(r.Context(), reservation.Candidate{
		RequesterID: req.RequesterID,
		ResourceID:  req.ResourceID,
		Start:       iv.Start,
		End:         iv.End,
		Note:        req.Note,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/reservations/%d", out.ID))
	writeJSON(w, http.StatusCreated, toJSON(out))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out, err := s.manager.Get(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(out))
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	status, err := reservation.ParseStatus(req.Status)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out, err := s.manager.ChangeStatus(r.Context(), id, status)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(out))
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req noteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if req.Note == nil {
		s.writeErr(w, r, fmt.Errorf("%w: note is required", reservation.ErrInvalidReservation))
		return
	}
	out, err := s.manager.UpdateNote(r.Context(), id, *req.Note)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(out))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.manager.Delete(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	f, err := s.parseFilter(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := s.manager.Query(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := pageJSON{Items: make([]reservationJSON, 0, len(page.Items))}
	for _, res := range page.Items {
		out.Items = append(out.Items, toJSON(res))
	}
	if page.Next != nil {
		if out.NextCursor, err = s.cursors.Encode(*page.Next, f); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) parseFilter(r *http.Request) (reservation.Filter, error) {
	q := r.URL.Query()
	f := reservation.Filter{
		ResourceID:  strings.TrimSpace(q.Get("resource_id")),
		RequesterID: strings.TrimSpace(q.Get("requester_id")),
	}
	for _, v := range q["status"] {
		for _, name := range splitCSV(v) {
			st, err := reservation.ParseStatus(name)
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	ws, we := q.Get("window_start"), q.Get("window_end")
	if ws != "" || we != "" {
		window, err := reservation.ParseInterval(ws, we)
		if err != nil {
			return f, err
		}
		f.Window = &window
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("%w: invalid limit %q", reservation.ErrInvalidReservation, v)
		}
		f.Limit = n
	}
	if v := q.Get("cursor"); v != "" {
		c, err := s.cursors.Decode(v, f)
		if err != nil {
			return f, err
		}
		f.After = &c
	}
	return f, nil
}

func pathID(r *http.Request) (reservation.ID, error) {
	v := r.PathValue("id")
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("reservation %q: %w", v, reservation.ErrNotFound)
	}
	return reservation.ID(n), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", reservation.ErrInvalidReservation, err)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, internaltypes.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, reservation.ErrInvalidTime), errors.Is(err, reservation.ErrInvalidReservation):
		return http.StatusBadRequest
	case errors.Is(err, reservation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservation.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrInvalidStatusTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, reservation.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	kind := reservation.Kind(err)
	if errors.Is(err, internaltypes.ErrUnauthorized) {
		kind = "unauthorized"
	}
	if code >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err,
			"request_id", w.Header().Get(requestIDHeader))
	}
	writeJSON(w, code, errorJSON{Error: err.Error(), Kind: kind})
}
