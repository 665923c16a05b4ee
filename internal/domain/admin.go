package domain

import "time"

// ============================================================
// Profiles, reports and admin dashboard
// ============================================================

// Profile is a row of the profiles table (one per auth user).
type Profile struct {
	ID         string    `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	University string    `json:"university,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `json:"created_at"`
}

type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

// Report is a user complaint about a listing.
type Report struct {
	ID         string       `json:"id"`
	ReporterID string       `json:"reporter_id"`
	ListingID  string       `json:"listing_id"`
	Reason     string       `json:"reason"`
	Details    string       `json:"details,omitempty"`
	Status     ReportStatus `json:"status"`
	Resolution string       `json:"resolution,omitempty"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// ReportReasons is the fixed reason set.
var ReportReasons = []string{"spam", "prohibited_item", "scam", "offensive", "duplicate", "other"}

// ReportRequest is the body of POST /v1/listings/{id}/report.
type ReportRequest struct {
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

// Validate checks the reason against the fixed set.
func (r *ReportRequest) Validate() error {
	if !contains(ReportReasons, r.Reason) {
		return &ErrValidation{Field: "reason", Message: "unknown reason"}
	}
	if len([]rune(r.Details)) > 1000 {
		return &ErrValidation{Field: "details", Message: "must be at most 1000 characters"}
	}
	return nil
}

// ResolveAction is what an admin does with a report.
type ResolveAction string

const (
	ResolveDismiss       ResolveAction = "dismiss"
	ResolveRemoveListing ResolveAction = "remove_listing"
)

// ResolveReportRequest is the body of POST /v1/admin/reports/{id}/resolve.
type ResolveReportRequest struct {
	Action ResolveAction `json:"action"`
	Note   string        `json:"note"`
}

// BroadcastRequest is the body of POST /v1/admin/broadcast.
type BroadcastRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link"`
}

// BroadcastResult summarizes a fan-out.
type BroadcastResult struct {
	Recipients int `json:"recipients"`
	Failed     int `json:"failed"`
}

// DashboardStats is returned by GET /v1/admin/dashboard.
type DashboardStats struct {
	Users               int            `json:"users"`
	ActiveListings      int            `json:"active_listings"`
	SoldListings        int            `json:"sold_listings"`
	OpenReports         int            `json:"open_reports"`
	UnreadNotifications int            `json:"unread_notifications"`
	Runtime             RuntimeMetrics `json:"runtime"`
	GeneratedAt         time.Time      `json:"generated_at"`
}

// RuntimeMetrics are process-local counters read back from Prometheus.
type RuntimeMetrics struct {
	BadgeSubscribers    int     `json:"badge_subscribers"`
	RealtimeEvents      float64 `json:"realtime_events"`
	BadgeFallbacks      float64 `json:"badge_fallbacks"`
	Reconciliations     float64 `json:"reconciliations"`
	NotificationsSent   float64 `json:"notifications_sent"`
	NotifySuppressed    float64 `json:"notify_suppressed"`
	BadgeCacheHitRate   float64 `json:"badge_cache_hit_rate"`
	ExternalErrorsTotal float64 `json:"external_errors_total"`
}
