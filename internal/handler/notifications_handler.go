package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultStreamKeepAlive = 25 * time.Second

// ============================================================
// Notifications & badges
// ============================================================

func listNotificationsHandler(svc *service.NotificationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/notifications")
		defer span.End()

		page, pageSize := parsePagination(r)
		unreadOnly := r.URL.Query().Get("unread") == "true"

		resp, err := svc.List(ctx, UserIDFromContext(ctx), unreadOnly, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func badgeCountsHandler(svc *service.NotificationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/notifications/counts")
		defer span.End()

		counts, err := svc.Counts(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func markNotificationReadHandler(svc *service.NotificationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/notifications/{notificationId}/read")
		defer span.End()

		id := chi.URLParam(r, "notificationId")
		if err := svc.MarkRead(ctx, UserIDFromContext(ctx), id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "notification read", ID: id})
	}
}

func markAllReadHandler(svc *service.NotificationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/notifications/read-all")
		defer span.End()

		category, ok := domain.ParseBadgeCategory(r.URL.Query().Get("category"))
		if !ok {
			writeError(w, http.StatusBadRequest, "category must be messages, offers or other")
			return
		}
		n, err := svc.MarkAllRead(ctx, UserIDFromContext(ctx), category)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"updated": n})
	}
}

// badgeStreamHandler pushes badge counts as server-sent events. The current
// counts are sent first, then every change until the client disconnects.
func badgeStreamHandler(svc *service.NotificationService, hub *service.BadgeHub, keepAlive time.Duration, logger *zap.Logger) http.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = defaultStreamKeepAlive
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		ctx := r.Context()
		userID := UserIDFromContext(ctx)

		updates, cancel := hub.Subscribe(userID)
		defer cancel()

		// Counts loads the hub from the cache or the database, which delivers
		// the first frame.
		if _, err := svc.Counts(ctx, userID); err != nil {
			logger.Warn("badge stream: initial counts failed", zap.String("user_id", userID), zap.Error(err))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case counts := <-updates:
				data, err := json.Marshal(counts)
				if err != nil {
					logger.Error("badge stream: encode failed", zap.Error(err))
					return
				}
				if _, err := fmt.Fprintf(w, "event: badges\ndata: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
