package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"
	"github.com/boddenberg/campus-market-api/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const broadcastPageSize = 500

// AdminService backs the moderation dashboard.
type AdminService struct {
	store       port.AdminStore
	listings    *ListingService
	notifier    port.Notifier
	adminCache  port.Cache[bool]
	metrics     *observability.Metrics
	concurrency int
	logger      *zap.Logger
}

// NewAdminService creates the admin service. concurrency bounds the
// parallel inserts of a broadcast.
func NewAdminService(
	store port.AdminStore,
	listings *ListingService,
	notifier port.Notifier,
	adminCache port.Cache[bool],
	metrics *observability.Metrics,
	concurrency int,
	logger *zap.Logger,
) *AdminService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &AdminService{
		store:       store,
		listings:    listings,
		notifier:    notifier,
		adminCache:  adminCache,
		metrics:     metrics,
		concurrency: concurrency,
		logger:      logger,
	}
}

// IsAdmin reads profiles.is_admin, cached per user.
func (s *AdminService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "AdminService.IsAdmin")
	defer span.End()

	key := "admin:" + userID
	if v, ok := s.adminCache.Get(key); ok {
		s.metrics.IncrCacheHit("admin")
		return v, nil
	}
	s.metrics.IncrCacheMiss("admin")

	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			s.adminCache.Set(key, false)
			return false, nil
		}
		return false, fmt.Errorf("load profile: %w", err)
	}
	s.adminCache.Set(key, p.IsAdmin)
	return p.IsAdmin, nil
}

// Dashboard counts the headline numbers concurrently and attaches the
// process-local runtime metrics.
func (s *AdminService) Dashboard(ctx context.Context) (*domain.DashboardStats, error) {
	ctx, span := tracer.Start(ctx, "AdminService.Dashboard")
	defer span.End()

	stats := &domain.DashboardStats{}
	g, gctx := errgroup.WithContext(ctx)

	counts := []struct {
		table  string
		filter string
		dst    *int
	}{
		{"profiles", "", &stats.Users},
		{"listings", "status=eq.active", &stats.ActiveListings},
		{"listings", "status=eq.sold", &stats.SoldListings},
		{"reports", "status=eq.open", &stats.OpenReports},
		{"notifications", "is_read=eq.false", &stats.UnreadNotifications},
	}
	for _, c := range counts {
		c := c
		g.Go(func() error {
			n, err := s.store.Count(gctx, c.table, c.filter)
			if err != nil {
				return fmt.Errorf("count %s: %w", c.table, err)
			}
			*c.dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Runtime = s.metrics.Snapshot()
	stats.GeneratedAt = time.Now().UTC()
	return stats, nil
}

func (s *AdminService) ListReports(ctx context.Context, status domain.ReportStatus) ([]domain.Report, error) {
	ctx, span := tracer.Start(ctx, "AdminService.ListReports")
	defer span.End()

	switch status {
	case "", domain.ReportOpen, domain.ReportResolved, domain.ReportDismissed:
	default:
		return nil, &domain.ErrValidation{Field: "status", Message: "unknown status"}
	}
	reports, err := s.store.ListReports(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// ReportListing files a user complaint about a listing.
func (s *AdminService) ReportListing(ctx context.Context, userID, listingID string, req *domain.ReportRequest) (*domain.Report, error) {
	ctx, span := tracer.Start(ctx, "AdminService.ReportListing")
	defer span.End()

	req.Details = strings.TrimSpace(req.Details)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.listings.Get(ctx, userID, listingID); err != nil {
		return nil, err
	}
	r, err := s.store.CreateReport(ctx, &domain.Report{
		ReporterID: userID,
		ListingID:  listingID,
		Reason:     req.Reason,
		Details:    req.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.logger.Info("listing reported",
		zap.String("report_id", r.ID),
		zap.String("listing_id", listingID),
		zap.String("reason", req.Reason),
	)
	return r, nil
}

// ResolveReport closes an open report, optionally removing the listing,
// and tells the reporter.
func (s *AdminService) ResolveReport(ctx context.Context, adminID, reportID string, req *domain.ResolveReportRequest) (*domain.Report, error) {
	ctx, span := tracer.Start(ctx, "AdminService.ResolveReport")
	defer span.End()

	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.ReportOpen {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("report is %s", r.Status)}
	}

	var status domain.ReportStatus
	var outcome string
	switch req.Action {
	case domain.ResolveDismiss:
		status = domain.ReportDismissed
		outcome = "Your report was reviewed and no action was needed."
	case domain.ResolveRemoveListing:
		if err := s.listings.SetStatus(ctx, r.ListingID, domain.ListingRemoved); err != nil {
			return nil, fmt.Errorf("remove reported listing: %w", err)
		}
		status = domain.ReportResolved
		outcome = "Thanks for your report. The listing has been removed."
	default:
		return nil, &domain.ErrValidation{Field: "action", Message: "must be dismiss or remove_listing"}
	}

	note := strings.TrimSpace(req.Note)
	if err := s.store.ResolveReport(ctx, r.ID, status, note, adminID); err != nil {
		return nil, fmt.Errorf("resolve report: %w", err)
	}
	r.Status = status
	r.Resolution = note
	r.ResolvedBy = adminID
	now := time.Now().UTC()
	r.ResolvedAt = &now

	if _, err := s.notifier.Notify(ctx, &domain.NewNotification{
		UserID:    r.ReporterID,
		Type:      domain.NotificationReportResolved,
		Title:     "Report reviewed",
		Body:      outcome,
		Link:      "/listings/" + r.ListingID,
		RelatedID: r.ID,
	}); err != nil {
		s.logger.Warn("report notification failed", zap.String("report_id", r.ID), zap.Error(err))
	}
	return r, nil
}

func (s *AdminService) SetListingStatus(ctx context.Context, listingID string, status domain.ListingStatus) error {
	return s.listings.SetStatus(ctx, listingID, status)
}

// Broadcast sends a system notification to every profile. Profiles are read
// page by page and each page is fanned out with bounded concurrency.
func (s *AdminService) Broadcast(ctx context.Context, adminID string, req *domain.BroadcastRequest) (*domain.BroadcastResult, error) {
	ctx, span := tracer.Start(ctx, "AdminService.Broadcast")
	defer span.End()

	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if n := len([]rune(req.Title)); n == 0 || n > 120 {
		return nil, &domain.ErrValidation{Field: "title", Message: "must be between 1 and 120 characters"}
	}
	if len([]rune(req.Body)) > 1000 {
		return nil, &domain.ErrValidation{Field: "body", Message: "must be at most 1000 characters"}
	}

	var sent, failed int64
	for page := 1; ; page++ {
		ids, err := s.store.ListProfileIDs(ctx, page, broadcastPageSize)
		if err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				_, err := s.notifier.Notify(gctx, &domain.NewNotification{
					UserID: id,
					Type:   domain.NotificationSystem,
					Title:  req.Title,
					Body:   req.Body,
					Link:   req.Link,
				})
				if err != nil {
					atomic.AddInt64(&failed, 1)
					s.logger.Debug("broadcast delivery failed", zap.String("user_id", id), zap.Error(err))
					return nil
				}
				atomic.AddInt64(&sent, 1)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(ids) < broadcastPageSize {
			break
		}
	}

	s.logger.Info("broadcast sent",
		zap.String("admin_id", adminID),
		zap.Int64("recipients", sent),
		zap.Int64("failed", failed),
	)
	return &domain.BroadcastResult{Recipients: int(sent), Failed: int(failed)}, nil
}
