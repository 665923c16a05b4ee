package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Notifications over PostgREST and RPC
// ============================================================

func (c *Client) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListNotifications")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("notifications?%s&order=created_at.desc&%s", eq("user_id", userID), pageWindow(page, pageSize))
	if unreadOnly {
		path += "&is_read=eq.false"
	}
	return getRows[domain.Notification](ctx, c, path)
}

func (c *Client) GetNotification(ctx context.Context, notifID string) (*domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetNotification")
	defer span.End()

	n, err := getOne[domain.Notification](ctx, c, "notifications?"+eq("id", notifID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &domain.ErrNotFound{Resource: "notification", ID: notifID}
	}
	return n, nil
}

func (c *Client) CreateNotification(ctx context.Context, n *domain.NewNotification) (*domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateNotification")
	defer span.End()
	span.SetAttributes(attribute.String("notification.type", string(n.Type)))

	data := map[string]any{
		"user_id": n.UserID,
		"type":    n.Type,
		"title":   n.Title,
		"body":    n.Body,
		"is_read": false,
	}
	if n.Link != "" {
		data["link"] = n.Link
	}
	if n.RelatedID != "" {
		data["related_id"] = n.RelatedID
	}
	return insertOne[domain.Notification](ctx, c, "notifications", data)
}

func (c *Client) MarkNotificationRead(ctx context.Context, notifID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkNotificationRead")
	defer span.End()

	return c.doPatch(ctx, "notifications?"+eq("id", notifID), map[string]any{
		"is_read": true,
		"read_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// FindUnreadNotification returns the newest unread notification of a type
// about relatedID, or nil.
func (c *Client) FindUnreadNotification(ctx context.Context, userID string, t domain.NotificationType, relatedID string) (*domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindUnreadNotification")
	defer span.End()

	path := fmt.Sprintf("notifications?%s&%s&%s&is_read=eq.false&order=created_at.desc&limit=1",
		eq("user_id", userID), eq("type", string(t)), eq("related_id", relatedID))
	return getOne[domain.Notification](ctx, c, path)
}

func (c *Client) MarkRelatedNotificationsRead(ctx context.Context, userID string, t domain.NotificationType, relatedID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MarkRelatedNotificationsRead")
	defer span.End()

	path := fmt.Sprintf("notifications?%s&%s&%s&is_read=eq.false",
		eq("user_id", userID), eq("type", string(t)), eq("related_id", relatedID))
	return c.doPatchCount(ctx, path, map[string]any{
		"is_read": true,
		"read_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Client) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteReadNotificationsBefore")
	defer span.End()

	path := "notifications?is_read=eq.true&created_at=lt." + url.QueryEscape(cutoff.UTC().Format(time.RFC3339))
	n, err := c.doDeleteCount(ctx, path)
	if err != nil {
		return 0, err
	}
	c.logger.Info("supabase: purged read notifications",
		zap.Int("deleted", n),
		zap.Time("cutoff", cutoff),
	)
	return n, nil
}

// --- RPC path ---

type countsRow struct {
	Messages int `json:"messages"`
	Offers   int `json:"offers"`
	Other    int `json:"other"`
	Total    int `json:"total"`
}

// GetNotificationCountsRPC calls get_notification_counts(p_user_id).
// The function may return a single object or a one-row set.
func (c *Client) GetNotificationCountsRPC(ctx context.Context, userID string) (*domain.BadgeCounts, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RPC.get_notification_counts")
	defer span.End()

	body, err := c.doRPC(ctx, "get_notification_counts", map[string]any{"p_user_id": userID})
	if err != nil {
		return nil, err
	}

	var row countsRow
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0 || string(trimmed) == "null":
		return nil, fmt.Errorf("get_notification_counts returned no data")
	case trimmed[0] == '[':
		var rows []countsRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("decode notification counts: %w", err)
		}
		if len(rows) == 0 {
			return &domain.BadgeCounts{}, nil
		}
		row = rows[0]
	default:
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, fmt.Errorf("decode notification counts: %w", err)
		}
	}

	counts := domain.BadgeCounts{Messages: row.Messages, Offers: row.Offers, Other: row.Other}.Normalize()
	return &counts, nil
}

// MarkAllNotificationsReadRPC calls mark_all_notifications_read(p_user_id, p_types).
// A nil types slice marks every notification of the user.
func (c *Client) MarkAllNotificationsReadRPC(ctx context.Context, userID string, types []domain.NotificationType) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RPC.mark_all_notifications_read")
	defer span.End()

	args := map[string]any{"p_user_id": userID, "p_types": nil}
	if len(types) > 0 {
		args["p_types"] = types
	}
	body, err := c.doRPC(ctx, "mark_all_notifications_read", args)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(body)))
	if err != nil {
		// void functions answer with an empty body
		return 0, nil
	}
	return n, nil
}

// --- Fallback path ---

// ListUnreadNotificationTypes fetches only the columns needed for a local badge scan.
func (c *Client) ListUnreadNotificationTypes(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListUnreadNotificationTypes")
	defer span.End()

	path := fmt.Sprintf("notifications?select=id,type,is_read&%s&is_read=eq.false&limit=%d", eq("user_id", userID), limit)
	return getRows[domain.Notification](ctx, c, path)
}

func (c *Client) MarkNotificationsReadByType(ctx context.Context, userID string, types []domain.NotificationType) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MarkNotificationsReadByType")
	defer span.End()

	path := "notifications?" + eq("user_id", userID) + "&is_read=eq.false"
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		path += "&" + inList("type", names)
	}
	return c.doPatchCount(ctx, path, map[string]any{
		"is_read": true,
		"read_at": time.Now().UTC().Format(time.RFC3339),
	})
}
