package handler

import (
	"net/http"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Admin
// ============================================================

func dashboardHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/dashboard")
		defer span.End()

		stats, err := svc.Dashboard(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func listReportsHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/reports")
		defer span.End()

		reports, err := svc.ListReports(ctx, domain.ReportStatus(r.URL.Query().Get("status")))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if reports == nil {
			reports = []domain.Report{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": reports})
	}
}

func resolveReportHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/reports/{reportId}/resolve")
		defer span.End()

		var req domain.ResolveReportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		rep, err := svc.ResolveReport(ctx, UserIDFromContext(ctx), chi.URLParam(r, "reportId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

type setListingStatusRequest struct {
	Status domain.ListingStatus `json:"status"`
}

func setListingStatusHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/listings/{listingId}/status")
		defer span.End()

		var req setListingStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		listingID := chi.URLParam(r, "listingId")
		if err := svc.SetListingStatus(ctx, listingID, req.Status); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("admin changed listing status",
			zap.String("admin_id", UserIDFromContext(ctx)),
			zap.String("listing_id", listingID),
			zap.String("status", string(req.Status)),
		)
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "listing status updated", ID: listingID})
	}
}

func broadcastHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/broadcast")
		defer span.End()

		var req domain.BroadcastRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := svc.Broadcast(ctx, UserIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func reconcileBadgesHandler(svc *service.NotificationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/badges/{userId}/reconcile")
		defer span.End()

		counts, changed, err := svc.Reconcile(ctx, chi.URLParam(r, "userId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "changed": changed})
	}
}
