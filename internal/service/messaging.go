package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"
	"github.com/boddenberg/campus-market-api/internal/infra/resilience"
	"github.com/boddenberg/campus-market-api/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	messagingNotifyFunction = "messaging-notify"
	previewLength           = 80
	edgeFunctionTimeout     = 5 * time.Second
)

// MessagingService handles conversations between buyers and sellers and
// notifies the recipient of new messages.
type MessagingService struct {
	store    port.MessagingStore
	listings port.ListingStore
	notifier port.Notifier
	edge     port.EdgeFunctionInvoker // nil when edge functions are disabled
	limiter  *resilience.KeyedLimiter
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewMessagingService creates the messaging service. edge may be nil.
func NewMessagingService(
	store port.MessagingStore,
	listings port.ListingStore,
	notifier port.Notifier,
	edge port.EdgeFunctionInvoker,
	limiter *resilience.KeyedLimiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *MessagingService {
	return &MessagingService{
		store:    store,
		listings: listings,
		notifier: notifier,
		edge:     edge,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *MessagingService) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.ListConversations")
	defer span.End()

	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// StartConversation opens (or returns the existing) thread between the
// caller and the seller of a listing.
func (s *MessagingService) StartConversation(ctx context.Context, userID, listingID string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.StartConversation")
	defer span.End()
	span.SetAttributes(attribute.String("listing.id", listingID))

	if listingID == "" {
		return nil, &domain.ErrValidation{Field: "listing_id", Message: "is required"}
	}
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == userID {
		return nil, &domain.ErrValidation{Field: "listing_id", Message: "cannot message yourself about your own listing"}
	}

	existing, err := s.store.FindConversation(ctx, listingID, userID)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	if listing.Status == domain.ListingRemoved {
		return nil, &domain.ErrConflict{Message: "listing is no longer available"}
	}

	conv, err := s.store.CreateConversation(ctx, &domain.Conversation{
		ListingID: listingID,
		BuyerID:   userID,
		SellerID:  listing.SellerID,
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("conversation started",
		zap.String("conversation_id", conv.ID),
		zap.String("listing_id", listingID),
	)
	return conv, nil
}

// participantConversation loads a conversation the user takes part in.
func (s *MessagingService) participantConversation(ctx context.Context, userID, convID string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, &domain.ErrForbidden{Action: "access conversation"}
	}
	return conv, nil
}

func (s *MessagingService) ListMessages(ctx context.Context, userID, convID string, page, pageSize int) (domain.ListResponse[domain.Message], error) {
	ctx, span := tracer.Start(ctx, "MessagingService.ListMessages")
	defer span.End()

	if _, err := s.participantConversation(ctx, userID, convID); err != nil {
		return domain.ListResponse[domain.Message]{}, err
	}
	msgs, err := s.store.ListMessages(ctx, convID, page, pageSize)
	if err != nil {
		return domain.ListResponse[domain.Message]{}, fmt.Errorf("list messages: %w", err)
	}
	return domain.NewListResponse(msgs, page, pageSize), nil
}

// SendMessage stores a message and notifies the other participant. The
// notification step is best effort; its failures never fail the send.
func (s *MessagingService) SendMessage(ctx context.Context, userID, convID, body string) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.SendMessage")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", convID))

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &domain.ErrValidation{Field: "body", Message: "is required"}
	}
	if len([]rune(body)) > domain.MaxMessageLength {
		return nil, &domain.ErrValidation{Field: "body", Message: fmt.Sprintf("must be at most %d characters", domain.MaxMessageLength)}
	}

	conv, err := s.participantConversation(ctx, userID, convID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.CreateMessage(ctx, &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       userID,
		RecipientID:    conv.Counterpart(userID),
		Body:           body,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	preview := truncateRunes(body, previewLength)
	if err := s.store.TouchConversation(ctx, conv.ID, preview, msg.CreatedAt); err != nil {
		s.logger.Warn("failed to update conversation preview",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}

	s.notifyRecipient(ctx, conv, msg, preview)
	return msg, nil
}

// notifyRecipient collapses into an existing unread notification and, for a
// new one, invokes the edge function unless the per-conversation limiter
// throttles the push. The in-app notification itself is never throttled so
// the first message after a read always shows up.
func (s *MessagingService) notifyRecipient(ctx context.Context, conv *domain.Conversation, msg *domain.Message, preview string) {
	_, created, err := s.notifier.NotifyOnce(ctx, &domain.NewNotification{
		UserID:    msg.RecipientID,
		Type:      domain.NotificationMessage,
		Title:     "New message",
		Body:      preview,
		Link:      "/messages/" + conv.ID,
		RelatedID: conv.ID,
	})
	if err != nil {
		s.logger.Warn("message notification failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return
	}
	if !created {
		s.metrics.IncrNotifySuppressed("collapsed")
		return
	}

	key := conv.ID + ":" + msg.RecipientID
	if !s.limiter.Allow(key) {
		s.metrics.IncrNotifySuppressed("rate_limited")
		s.logger.Debug("message push rate limited", zap.String("key", key))
		return
	}

	if s.edge == nil {
		return
	}
	edgeCtx, cancel := context.WithTimeout(ctx, edgeFunctionTimeout)
	defer cancel()
	err = s.edge.Invoke(edgeCtx, messagingNotifyFunction, domain.MessagingNotifyPayload{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Preview:        preview,
	})
	if err != nil {
		s.metrics.IncrExternalError("edge_functions")
		s.logger.Warn("messaging-notify edge function failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}

// MarkConversationRead marks the caller's received messages in a
// conversation read, together with its message notification.
func (s *MessagingService) MarkConversationRead(ctx context.Context, userID, convID string) (int, error) {
	ctx, span := tracer.Start(ctx, "MessagingService.MarkConversationRead")
	defer span.End()

	conv, err := s.participantConversation(ctx, userID, convID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.MarkMessagesRead(ctx, conv.ID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	if _, err := s.notifier.MarkRelatedRead(ctx, userID, domain.NotificationMessage, conv.ID); err != nil {
		s.logger.Warn("failed to clear message notification",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
	return n, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
