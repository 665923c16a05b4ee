package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"
	"github.com/boddenberg/campus-market-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// fallbackScanLimit caps the rows read when counting badges locally.
const fallbackScanLimit = 1000

// NotificationService owns notification reads, writes and badge counts.
// Counts come from the cache, then the get_notification_counts RPC, then a
// local scan of unread rows. Writes adjust counts optimistically and any
// failure is repaired by an authoritative reconcile.
type NotificationService struct {
	store   port.NotificationStore
	hub     *BadgeHub
	cache   port.Cache[domain.BadgeCounts]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewNotificationService creates the notification service.
func NewNotificationService(
	store port.NotificationStore,
	hub *BadgeHub,
	cache port.Cache[domain.BadgeCounts],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		store:   store,
		hub:     hub,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

func badgeKey(userID string) string { return "badges:" + userID }

// List returns one page of the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) (domain.ListResponse[domain.Notification], error) {
	ctx, span := tracer.Start(ctx, "NotificationService.List")
	defer span.End()

	rows, err := s.store.ListNotifications(ctx, userID, unreadOnly, page, pageSize)
	if err != nil {
		return domain.ListResponse[domain.Notification]{}, fmt.Errorf("list notifications: %w", err)
	}
	return domain.NewListResponse(rows, page, pageSize), nil
}

// Counts returns the user's badge counts.
func (s *NotificationService) Counts(ctx context.Context, userID string) (domain.BadgeCounts, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.Counts")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if counts, ok := s.cache.Get(badgeKey(userID)); ok {
		s.metrics.IncrCacheHit("badges")
		s.hub.Prime(userID, counts)
		return counts, nil
	}
	s.metrics.IncrCacheMiss("badges")

	counts, err := s.fetchCounts(ctx, userID)
	if err != nil {
		return domain.BadgeCounts{}, err
	}
	s.cache.Set(badgeKey(userID), counts)
	s.hub.Publish(userID, counts)
	return counts, nil
}

// fetchCounts asks the RPC and falls back to scanning unread rows.
func (s *NotificationService) fetchCounts(ctx context.Context, userID string) (domain.BadgeCounts, error) {
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("badge_counts", time.Since(start)) }()

	counts, rpcErr := s.store.GetNotificationCountsRPC(ctx, userID)
	if rpcErr == nil {
		return counts.Normalize(), nil
	}

	s.metrics.IncrBadgeFallback()
	s.metrics.IncrExternalError("supabase_rpc")
	s.logger.Warn("get_notification_counts failed, scanning unread notifications",
		zap.String("user_id", userID),
		zap.Error(rpcErr),
	)

	rows, err := s.store.ListUnreadNotificationTypes(ctx, userID, fallbackScanLimit)
	if err != nil {
		return domain.BadgeCounts{}, fmt.Errorf("badge counts (rpc: %v): %w", rpcErr, err)
	}
	if len(rows) >= fallbackScanLimit {
		s.logger.Warn("badge fallback scan truncated",
			zap.String("user_id", userID),
			zap.Int("limit", fallbackScanLimit),
		)
	}
	return domain.CountBadges(rows), nil
}

// MarkRead marks one notification read. Only its owner may do so.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notifID string) error {
	ctx, span := tracer.Start(ctx, "NotificationService.MarkRead")
	defer span.End()

	n, err := s.store.GetNotification(ctx, notifID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return &domain.ErrNotFound{Resource: "notification", ID: notifID}
	}
	if n.IsRead {
		return nil
	}

	s.hub.Transition(userID, n.ID, n.Type, false, true)
	s.syncCache(userID, func(c domain.BadgeCounts) domain.BadgeCounts {
		return c.Add(domain.CategoryOf(n.Type), -1)
	})

	if err := s.store.MarkNotificationRead(ctx, notifID); err != nil {
		s.repair(ctx, userID, "mark_read", err)
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread notification of a category (all when
// empty) as read and returns how many rows changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string, category domain.BadgeCategory) (int, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.MarkAllRead")
	defer span.End()
	span.SetAttributes(attribute.String("badge.category", string(category)))

	types := domain.TypesOf(category)

	s.hub.Clear(userID, category)
	s.syncCache(userID, func(c domain.BadgeCounts) domain.BadgeCounts { return c.Clear(category) })

	n, err := s.store.MarkAllNotificationsReadRPC(ctx, userID, types)
	if err == nil {
		return n, nil
	}
	s.metrics.IncrExternalError("supabase_rpc")
	s.logger.Warn("mark_all_notifications_read failed, patching by type",
		zap.String("user_id", userID),
		zap.String("category", string(category)),
		zap.Error(err),
	)

	n, err = s.store.MarkNotificationsReadByType(ctx, userID, types)
	if err != nil {
		s.repair(ctx, userID, "mark_all_read", err)
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}

// MarkRelatedRead marks the user's unread notifications of type t about
// relatedID as read, e.g. the message notification of a conversation.
func (s *NotificationService) MarkRelatedRead(ctx context.Context, userID string, t domain.NotificationType, relatedID string) (int, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.MarkRelatedRead")
	defer span.End()

	n, err := s.store.MarkRelatedNotificationsRead(ctx, userID, t, relatedID)
	if err != nil {
		return 0, fmt.Errorf("mark related notifications read: %w", err)
	}
	if n > 0 {
		if _, _, err := s.Reconcile(ctx, userID); err != nil {
			s.logger.Warn("reconcile after related read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return n, nil
}

// Notify stores a notification and bumps the recipient's badge.
func (s *NotificationService) Notify(ctx context.Context, nn *domain.NewNotification) (*domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.Notify")
	defer span.End()

	nn.Title = strings.TrimSpace(nn.Title)
	if nn.UserID == "" {
		return nil, &domain.ErrValidation{Field: "user_id", Message: "is required"}
	}
	if nn.Type == "" {
		return nil, &domain.ErrValidation{Field: "type", Message: "is required"}
	}
	if nn.Title == "" {
		return nil, &domain.ErrValidation{Field: "title", Message: "is required"}
	}

	n, err := s.store.CreateNotification(ctx, nn)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	s.metrics.IncrNotificationSent(string(n.Type))

	s.hub.Transition(n.UserID, n.ID, n.Type, true, false)
	s.syncCache(n.UserID, func(c domain.BadgeCounts) domain.BadgeCounts {
		return c.Add(domain.CategoryOf(n.Type), 1)
	})

	s.logger.Debug("notification created",
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
		zap.String("notification_id", n.ID),
	)
	return n, nil
}

// NotifyOnce collapses notifications: while the recipient still has an
// unread notification of the same type about the same related id, that one
// is returned and nothing new is created.
func (s *NotificationService) NotifyOnce(ctx context.Context, nn *domain.NewNotification) (*domain.Notification, bool, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.NotifyOnce")
	defer span.End()

	if nn.RelatedID != "" {
		existing, err := s.store.FindUnreadNotification(ctx, nn.UserID, nn.Type, nn.RelatedID)
		if err != nil {
			return nil, false, fmt.Errorf("find unread notification: %w", err)
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	n, err := s.Notify(ctx, nn)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// Reconcile drops the cached counts, fetches authoritative ones and
// publishes them. changed reports whether they differ from what
// subscribers last saw.
func (s *NotificationService) Reconcile(ctx context.Context, userID string) (domain.BadgeCounts, bool, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.Reconcile")
	defer span.End()

	s.cache.Delete(badgeKey(userID))
	counts, err := s.fetchCounts(ctx, userID)
	if err != nil {
		s.metrics.IncrReconciliation("error")
		return domain.BadgeCounts{}, false, err
	}

	prev, tracked := s.hub.Snapshot(userID)
	changed := !tracked || prev != counts
	s.cache.Set(badgeKey(userID), counts)
	s.hub.Publish(userID, counts)

	if changed {
		s.metrics.IncrReconciliation("changed")
	} else {
		s.metrics.IncrReconciliation("unchanged")
	}
	return counts, changed, nil
}

// ReconcileActive reconciles every user with a live badge stream and
// returns how many were reconciled successfully.
func (s *NotificationService) ReconcileActive(ctx context.Context) int {
	ctx, span := tracer.Start(ctx, "NotificationService.ReconcileActive")
	defer span.End()

	ok := 0
	for _, userID := range s.hub.ActiveUsers() {
		if ctx.Err() != nil {
			break
		}
		_, changed, err := s.Reconcile(ctx, userID)
		if err != nil {
			s.logger.Warn("badge reconcile failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if changed {
			s.logger.Debug("badge counts corrected", zap.String("user_id", userID))
		}
		ok++
	}
	return ok
}

// HandleChange consumes a realtime change of the notifications table.
func (s *NotificationService) HandleChange(ctx context.Context, ev domain.ChangeEvent) {
	s.metrics.IncrRealtimeEvent(ev.Table, string(ev.Type))

	userID, needsReconcile := s.hub.ApplyChange(ev)
	if userID == "" {
		return
	}
	if needsReconcile {
		if _, _, err := s.Reconcile(ctx, userID); err != nil {
			s.logger.Warn("reconcile after realtime change failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}
	if counts, ok := s.hub.Snapshot(userID); ok {
		s.cache.Set(badgeKey(userID), counts)
		return
	}
	s.cache.Delete(badgeKey(userID))
}

// PurgeRead deletes read notifications created before now-olderThan.
func (s *NotificationService) PurgeRead(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.PurgeRead")
	defer span.End()

	n, err := s.store.DeleteReadNotificationsBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge read notifications: %w", err)
	}
	s.metrics.AddRetentionPurged(n)
	return n, nil
}

// syncCache keeps the cached counts in line with an optimistic change.
// Tracked users take the hub's value; others get the cached value adjusted.
func (s *NotificationService) syncCache(userID string, adjust func(domain.BadgeCounts) domain.BadgeCounts) {
	key := badgeKey(userID)
	if counts, ok := s.hub.Snapshot(userID); ok {
		s.cache.Set(key, counts)
		return
	}
	if counts, ok := s.cache.Get(key); ok {
		s.cache.Set(key, adjust(counts))
	}
}

// repair rolls optimistic state back after a failed write.
func (s *NotificationService) repair(ctx context.Context, userID, op string, cause error) {
	s.logger.Warn("notification write failed, reconciling badges",
		zap.String("user_id", userID),
		zap.String("op", op),
		zap.Error(cause),
	)
	if _, _, err := s.Reconcile(ctx, userID); err != nil {
		s.cache.Delete(badgeKey(userID))
	}
}
