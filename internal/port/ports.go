// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations (Supabase, Redis, Realtime).
package port

import (
	"context"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// NotificationStore is the persistence side of notifications and badges.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error)
	GetNotification(ctx context.Context, notifID string) (*domain.Notification, error)
	CreateNotification(ctx context.Context, n *domain.NewNotification) (*domain.Notification, error)
	MarkNotificationRead(ctx context.Context, notifID string) error
	FindUnreadNotification(ctx context.Context, userID string, t domain.NotificationType, relatedID string) (*domain.Notification, error)
	MarkRelatedNotificationsRead(ctx context.Context, userID string, t domain.NotificationType, relatedID string) (int, error)
	DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// RPC path
	GetNotificationCountsRPC(ctx context.Context, userID string) (*domain.BadgeCounts, error)
	MarkAllNotificationsReadRPC(ctx context.Context, userID string, types []domain.NotificationType) (int, error)

	// Fallback path
	ListUnreadNotificationTypes(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkNotificationsReadByType(ctx context.Context, userID string, types []domain.NotificationType) (int, error)
}

// ListingStore covers listings and offers.
type ListingStore interface {
	ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error)
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
	CreateListing(ctx context.Context, sellerID string, req *domain.CreateListingRequest) (*domain.Listing, error)
	UpdateListing(ctx context.Context, listingID string, changes map[string]any) (*domain.Listing, error)
	SetListingStatus(ctx context.Context, listingID string, status domain.ListingStatus) error

	CreateOffer(ctx context.Context, offer *domain.Offer) (*domain.Offer, error)
	GetOffer(ctx context.Context, offerID string) (*domain.Offer, error)
	ListOffersByListing(ctx context.Context, listingID string, status domain.OfferStatus) ([]domain.Offer, error)
	ListOffersByBuyer(ctx context.Context, buyerID string) ([]domain.Offer, error)
	FindPendingOffer(ctx context.Context, listingID, buyerID string) (*domain.Offer, error)
	SetOfferStatus(ctx context.Context, offerID string, status domain.OfferStatus) error
}

// MessagingStore covers conversations and messages.
type MessagingStore interface {
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	FindConversation(ctx context.Context, listingID, buyerID string) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)
	TouchConversation(ctx context.Context, conversationID, preview string, at time.Time) error

	ListMessages(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, error)
	CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, recipientID string) (int, error)
}

// AdminStore covers profiles, reports and dashboard counts.
type AdminStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	ListProfileIDs(ctx context.Context, page, pageSize int) ([]string, error)

	CreateReport(ctx context.Context, report *domain.Report) (*domain.Report, error)
	GetReport(ctx context.Context, reportID string) (*domain.Report, error)
	ListReports(ctx context.Context, status domain.ReportStatus) ([]domain.Report, error)
	ResolveReport(ctx context.Context, reportID string, status domain.ReportStatus, resolution, adminID string) error

	// Count returns the exact row count of table matching a PostgREST filter.
	Count(ctx context.Context, table, filter string) (int, error)
}

// EdgeFunctionInvoker calls a Supabase edge function by name.
type EdgeFunctionInvoker interface {
	Invoke(ctx context.Context, name string, payload any) error
}

// Notifier is the fan-out entry point used by domain services.
type Notifier interface {
	Notify(ctx context.Context, n *domain.NewNotification) (*domain.Notification, error)
	// NotifyOnce returns the existing unread notification of the same type
	// about the same related id instead of creating another one.
	NotifyOnce(ctx context.Context, n *domain.NewNotification) (notif *domain.Notification, created bool, err error)
	MarkRelatedRead(ctx context.Context, userID string, t domain.NotificationType, relatedID string) (int, error)
}

// MigrationTarget is where SQL migrations are applied and tracked.
type MigrationTarget interface {
	EnsureTracking(ctx context.Context) error
	Applied(ctx context.Context) ([]domain.AppliedMigration, error)
	// Apply runs every statement of m and records it. A failing statement
	// is reported as *domain.ErrStatement.
	Apply(ctx context.Context, m domain.Migration) error
}
