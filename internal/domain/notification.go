package domain

import "time"

// ============================================================
// Notifications & badge counts
// ============================================================

// NotificationType is the "type" column of the notifications table.
type NotificationType string

const (
	NotificationMessage        NotificationType = "message"
	NotificationOffer          NotificationType = "offer"
	NotificationOfferAccepted  NotificationType = "offer_accepted"
	NotificationOfferDeclined  NotificationType = "offer_declined"
	NotificationOfferWithdrawn NotificationType = "offer_withdrawn"
	NotificationListingSold    NotificationType = "listing_sold"
	NotificationListingRemoved NotificationType = "listing_removed"
	NotificationReportResolved NotificationType = "report_resolved"
	NotificationSystem         NotificationType = "system"
)

// BadgeCategory groups notification types into the three navbar badges.
type BadgeCategory string

const (
	BadgeMessages BadgeCategory = "messages"
	BadgeOffers   BadgeCategory = "offers"
	BadgeOther    BadgeCategory = "other"
)

// ParseBadgeCategory validates a category coming from a query string.
// An empty string means "all categories" and is returned as ok.
func ParseBadgeCategory(s string) (BadgeCategory, bool) {
	switch BadgeCategory(s) {
	case "", BadgeMessages, BadgeOffers, BadgeOther:
		return BadgeCategory(s), true
	}
	return "", false
}

// CategoryOf maps a notification type to its badge.
func CategoryOf(t NotificationType) BadgeCategory {
	switch t {
	case NotificationMessage:
		return BadgeMessages
	case NotificationOffer, NotificationOfferAccepted, NotificationOfferDeclined, NotificationOfferWithdrawn:
		return BadgeOffers
	default:
		return BadgeOther
	}
}

// TypesOf returns the known notification types of a badge category.
func TypesOf(c BadgeCategory) []NotificationType {
	switch c {
	case BadgeMessages:
		return []NotificationType{NotificationMessage}
	case BadgeOffers:
		return []NotificationType{NotificationOffer, NotificationOfferAccepted, NotificationOfferDeclined, NotificationOfferWithdrawn}
	case BadgeOther:
		return []NotificationType{NotificationListingSold, NotificationListingRemoved, NotificationReportResolved, NotificationSystem}
	}
	return nil
}

// Notification is a row of the notifications table.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Link      string           `json:"link,omitempty"`
	RelatedID string           `json:"related_id,omitempty"`
	IsRead    bool             `json:"is_read"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// BadgeCounts are the unread counters shown in the navbar.
type BadgeCounts struct {
	Messages int `json:"messages"`
	Offers   int `json:"offers"`
	Other    int `json:"other"`
	Total    int `json:"total"`
}

// Normalize clamps negatives to zero and recomputes Total.
func (b BadgeCounts) Normalize() BadgeCounts {
	if b.Messages < 0 {
		b.Messages = 0
	}
	if b.Offers < 0 {
		b.Offers = 0
	}
	if b.Other < 0 {
		b.Other = 0
	}
	b.Total = b.Messages + b.Offers + b.Other
	return b
}

// Add applies delta to one category and returns the normalized result.
func (b BadgeCounts) Add(c BadgeCategory, delta int) BadgeCounts {
	switch c {
	case BadgeMessages:
		b.Messages += delta
	case BadgeOffers:
		b.Offers += delta
	default:
		b.Other += delta
	}
	return b.Normalize()
}

// Clear zeroes one category, or every category when c is empty.
func (b BadgeCounts) Clear(c BadgeCategory) BadgeCounts {
	switch c {
	case "":
		return BadgeCounts{}
	case BadgeMessages:
		b.Messages = 0
	case BadgeOffers:
		b.Offers = 0
	default:
		b.Other = 0
	}
	return b.Normalize()
}

// CountBadges is the local fallback scan used when the counts RPC is not
// available. Read notifications are ignored.
func CountBadges(notifications []Notification) BadgeCounts {
	var b BadgeCounts
	for _, n := range notifications {
		if n.IsRead {
			continue
		}
		switch CategoryOf(n.Type) {
		case BadgeMessages:
			b.Messages++
		case BadgeOffers:
			b.Offers++
		default:
			b.Other++
		}
	}
	return b.Normalize()
}

// NewNotification is the payload used to create a notification.
type NewNotification struct {
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Link      string           `json:"link,omitempty"`
	RelatedID string           `json:"related_id,omitempty"`
}

// ============================================================
// Realtime change events
// ============================================================

// ChangeType is the Postgres change kind delivered by the realtime feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a decoded postgres_changes payload.
type ChangeEvent struct {
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	Type      ChangeType     `json:"type"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
	CommitAt  time.Time      `json:"commit_timestamp"`
}

// StringField reads a string column from a change record.
func StringField(rec map[string]any, key string) string {
	if rec == nil {
		return ""
	}
	s, _ := rec[key].(string)
	return s
}

// BoolField reads a boolean column; ok is false when the column is absent.
func BoolField(rec map[string]any, key string) (value, ok bool) {
	if rec == nil {
		return false, false
	}
	value, ok = rec[key].(bool)
	return value, ok
}
