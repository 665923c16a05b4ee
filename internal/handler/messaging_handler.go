package handler

import (
	"net/http"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Conversations & messages
// ============================================================

func listConversationsHandler(svc *service.MessagingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/conversations")
		defer span.End()

		convs, err := svc.ListConversations(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if convs == nil {
			convs = []domain.Conversation{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": convs})
	}
}

func startConversationHandler(svc *service.MessagingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/conversations")
		defer span.End()

		var req domain.StartConversationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conv, err := svc.StartConversation(ctx, UserIDFromContext(ctx), req.ListingID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func listMessagesHandler(svc *service.MessagingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/conversations/{conversationId}/messages")
		defer span.End()

		page, pageSize := parsePagination(r)
		resp, err := svc.ListMessages(ctx, UserIDFromContext(ctx), chi.URLParam(r, "conversationId"), page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func sendMessageHandler(svc *service.MessagingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/conversations/{conversationId}/messages")
		defer span.End()

		var req domain.SendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		msg, err := svc.SendMessage(ctx, UserIDFromContext(ctx), chi.URLParam(r, "conversationId"), req.Body)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func markConversationReadHandler(svc *service.MessagingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/conversations/{conversationId}/read")
		defer span.End()

		n, err := svc.MarkConversationRead(ctx, UserIDFromContext(ctx), chi.URLParam(r, "conversationId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"updated": n})
	}
}
