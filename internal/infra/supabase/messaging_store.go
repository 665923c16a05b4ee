package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Conversations & messages
// ============================================================

func (c *Client) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListConversations")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("conversations?or=(buyer_id.eq.%s,seller_id.eq.%s)&order=last_message_at.desc.nullslast&limit=100",
		searchTerm(userID), searchTerm(userID))
	return getRows[domain.Conversation](ctx, c, path)
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetConversation")
	defer span.End()

	conv, err := getOne[domain.Conversation](ctx, c, "conversations?"+eq("id", conversationID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	return conv, nil
}

func (c *Client) FindConversation(ctx context.Context, listingID, buyerID string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindConversation")
	defer span.End()

	path := fmt.Sprintf("conversations?%s&%s&limit=1", eq("listing_id", listingID), eq("buyer_id", buyerID))
	return getOne[domain.Conversation](ctx, c, path)
}

func (c *Client) CreateConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateConversation")
	defer span.End()

	return insertOne[domain.Conversation](ctx, c, "conversations", map[string]any{
		"listing_id": conv.ListingID,
		"buyer_id":   conv.BuyerID,
		"seller_id":  conv.SellerID,
	})
}

func (c *Client) TouchConversation(ctx context.Context, conversationID, preview string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.TouchConversation")
	defer span.End()

	return c.doPatch(ctx, "conversations?"+eq("id", conversationID), map[string]any{
		"last_message_at":      at.UTC().Format(time.RFC3339),
		"last_message_preview": preview,
	})
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMessages")
	defer span.End()

	path := fmt.Sprintf("messages?%s&order=created_at.desc&%s", eq("conversation_id", conversationID), pageWindow(page, pageSize))
	return getRows[domain.Message](ctx, c, path)
}

func (c *Client) CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateMessage")
	defer span.End()

	data := map[string]any{
		"conversation_id": msg.ConversationID,
		"sender_id":       msg.SenderID,
		"recipient_id":    msg.RecipientID,
		"body":            msg.Body,
		"is_read":         false,
	}
	if msg.ID != "" {
		data["id"] = msg.ID
	}
	return insertOne[domain.Message](ctx, c, "messages", data)
}

func (c *Client) MarkMessagesRead(ctx context.Context, conversationID, recipientID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MarkMessagesRead")
	defer span.End()

	path := fmt.Sprintf("messages?%s&%s&is_read=eq.false", eq("conversation_id", conversationID), eq("recipient_id", recipientID))
	return c.doPatchCount(ctx, path, map[string]any{"is_read": true})
}
