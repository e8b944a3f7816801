package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"reminders/internal/api/middleware"
	"reminders/internal/domain"
	"reminders/internal/metrics"
	"reminders/internal/store"
	"reminders/internal/sweep"
)

const maxBodyBytes = 64 * 1024

type Sweeper interface {
	Sweep(ctx context.Context) (sweep.Report, error)
}

type Server struct {
	r       *chi.Mux
	store   store.Store
	sweeper Sweeper
	log     zerolog.Logger
}

func NewServer(st store.Store, sweeper Sweeper, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID, chimw.RealIP, middleware.Logger(log), chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s := &Server{r: r, store: st, sweeper: sweeper, log: log}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/messages", s.listMessages)
	r.Post("/add-message", s.addMessage)
	r.Put("/delete-message", s.deleteMessage)
	r.Put("/modify-message", s.modifyMessage)
	r.Put("/clear", s.clear)
	r.Post("/check-messages", s.checkMessages)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type messageReq struct {
	ID            string          `json:"id"`
	Text          string          `json:"text"`
	ScheduledTime json.RawMessage `json:"scheduled_time"`
	Type          string          `json:"type"`
}

// message converts the request body, reporting the first missing field.
func (req messageReq) message() (domain.Message, error) {
	if req.Text == "" {
		return domain.Message{}, &domain.ValidationError{Field: "text", Reason: "is required"}
	}
	at, err := parseTime(req.ScheduledTime)
	if err != nil {
		return domain.Message{}, err
	}
	if req.Type == "" {
		return domain.Message{}, &domain.ValidationError{Field: "type", Reason: "is required"}
	}
	typ, err := domain.ParseType(req.Type)
	if err != nil {
		return domain.Message{}, err
	}
	m := domain.Message{ID: req.ID, Text: req.Text, ScheduledTime: at, Type: typ}
	return m, m.Validate()
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"}

// parseTime accepts an RFC3339 string or a number of unix milliseconds.
// Strings without a zone are read as UTC.
func parseTime(raw json.RawMessage) (time.Time, error) {
	missing := &domain.ValidationError{Field: "scheduled_time", Reason: "is required"}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, missing
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		ms, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr != nil {
			return time.Time{}, &domain.ValidationError{Field: "scheduled_time", Reason: "must be an RFC3339 string or unix milliseconds"}
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	if s == "" {
		return time.Time{}, missing
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &domain.ValidationError{Field: "scheduled_time", Reason: "must be an RFC3339 timestamp (got " + strconv.Quote(s) + ")"}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Messages found", "messages": msgs})
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	var req messageReq
	if !s.decode(w, r, &req) {
		return
	}
	req.ID = ""
	m, err := req.message()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.store.Insert(r.Context(), m)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.MessagesCreated.WithLabelValues(string(m.Type)).Inc()
	s.log.Info().Str("message_id", id).Str("type", string(m.Type)).Time("scheduled_time", m.ScheduledTime).Msg("message added")
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Message successfully added to the database", "id": id})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.fail(w, r, &domain.ValidationError{Field: "id", Reason: "is required"})
		return
	}
	if err := s.store.DeleteByID(r.Context(), req.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info().Str("message_id", req.ID).Msg("message deleted")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Message " + req.ID + " successfully deleted"})
}

func (s *Server) modifyMessage(w http.ResponseWriter, r *http.Request) {
	var req messageReq
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.fail(w, r, &domain.ValidationError{Field: "id", Reason: "is required"})
		return
	}
	m, err := req.message()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.UpdateByID(r.Context(), req.ID, store.Replace(m)); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info().Str("message_id", req.ID).Msg("message modified")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Message " + req.ID + " was successfully modified"})
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Clear(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info().Int("deleted", n).Msg("cleared all messages")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Cleared all messages", "deleted": n})
}

func (s *Server) checkMessages(w http.ResponseWriter, r *http.Request) {
	rep, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "All messages checked", "report": rep})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error: "+err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
