// Package api exposes sync triggers, status and stored messages over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/sync"
)

// defaultMessageLimit caps listings when no limit is given.
const defaultMessageLimit = 50

// SyncService is the engine surface used by the handlers.
type SyncService interface {
	RunCycle(ctx context.Context) sync.Report
	SyncAccount(ctx context.Context, accountID string) (sync.AccountResult, error)
	Status() sync.Status
}

// MessageReader lists stored messages.
type MessageReader interface {
	GetMessagesForUser(ctx context.Context, userID string, filter store.MessageFilter) ([]model.Message, error)
}

// NewRouter builds the HTTP handler.
func NewRouter(svc SyncService, messages MessageReader, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", HealthHandler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync/trigger", TriggerHandler(svc))
		r.Post("/sync/accounts/{id}", SyncAccountHandler(svc))
		r.Get("/sync/status", StatusHandler(svc))
		r.Get("/users/{id}/messages", UserMessagesHandler(messages))
	})

	return r
}

// HealthHandler reports liveness.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// TriggerHandler runs a full cycle and returns its report. The cycle is
// not cancelled if the client goes away.
func TriggerHandler(svc SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := svc.RunCycle(context.WithoutCancel(r.Context()))
		status := http.StatusOK
		if report.Error != "" {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, report)
	}
}

// SyncAccountHandler syncs one account.
func SyncAccountHandler(svc SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		res, err := svc.SyncAccount(context.WithoutCancel(r.Context()), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "account not found")
			return
		case errors.Is(err, sync.ErrAccountDisabled):
			writeError(w, http.StatusConflict, "account is disabled")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// StatusHandler returns the engine status.
func StatusHandler(svc SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// UserMessagesHandler lists a user's stored messages, newest first.
// Query parameters: limit, offset, category.
func UserMessagesHandler(messages MessageReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		q := r.URL.Query()

		filter := store.MessageFilter{Limit: defaultMessageLimit}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = n
		}
		if v := q.Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid offset")
				return
			}
			filter.Offset = n
		}
		if v := q.Get("category"); v != "" {
			c, ok := model.ParseCategory(v)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown category")
				return
			}
			filter.Category = &c
		}

		msgs, err := messages.GetMessagesForUser(r.Context(), userID, filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if msgs == nil {
			msgs = []model.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": msgs,
			"count":    len(msgs),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).Round(time.Microsecond),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
