package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
)

// ============================================================
// Profiles, reports, dashboard counts
// ============================================================

func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()

	p, err := getOne[domain.Profile](ctx, c, "profiles?"+eq("id", userID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return p, nil
}

// ListProfileIDs pages through every profile id, oldest first.
func (c *Client) ListProfileIDs(ctx context.Context, page, pageSize int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProfileIDs")
	defer span.End()

	offset := (page - 1) * pageSize
	path := fmt.Sprintf("profiles?select=id&order=created_at.asc&limit=%d&offset=%d", pageSize, offset)
	rows, err := getRows[struct {
		ID string `json:"id"`
	}](ctx, c, path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (c *Client) CreateReport(ctx context.Context, report *domain.Report) (*domain.Report, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateReport")
	defer span.End()

	return insertOne[domain.Report](ctx, c, "reports", map[string]any{
		"reporter_id": report.ReporterID,
		"listing_id":  report.ListingID,
		"reason":      report.Reason,
		"details":     report.Details,
		"status":      domain.ReportOpen,
	})
}

func (c *Client) GetReport(ctx context.Context, reportID string) (*domain.Report, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetReport")
	defer span.End()

	r, err := getOne[domain.Report](ctx, c, "reports?"+eq("id", reportID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &domain.ErrNotFound{Resource: "report", ID: reportID}
	}
	return r, nil
}

func (c *Client) ListReports(ctx context.Context, status domain.ReportStatus) ([]domain.Report, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListReports")
	defer span.End()

	path := "reports?order=created_at.desc&limit=200"
	if status != "" {
		path += "&" + eq("status", string(status))
	}
	return getRows[domain.Report](ctx, c, path)
}

func (c *Client) ResolveReport(ctx context.Context, reportID string, status domain.ReportStatus, resolution, adminID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.ResolveReport")
	defer span.End()

	return c.doPatch(ctx, "reports?"+eq("id", reportID), map[string]any{
		"status":      status,
		"resolution":  resolution,
		"resolved_by": adminID,
		"resolved_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Count returns the exact row count of table for a PostgREST filter.
func (c *Client) Count(ctx context.Context, table, filter string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Count."+table)
	defer span.End()

	return c.doCount(ctx, table, filter)
}
