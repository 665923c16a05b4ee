package handler

import (
	"net/http"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Listings
// ============================================================

func listListingsHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/listings")
		defer span.End()

		q := r.URL.Query()
		page, pageSize := parsePagination(r)
		f := domain.ListingFilter{
			Category: q.Get("category"),
			Query:    q.Get("q"),
			Status:   domain.ListingStatus(q.Get("status")),
			SellerID: q.Get("seller_id"),
			Page:     page,
			PageSize: pageSize,
		}
		var err error
		if f.MinPrice, err = parseFloatParam(r, "min_price"); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if f.MaxPrice, err = parseFloatParam(r, "max_price"); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		resp, err := svc.List(ctx, f)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getListingHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/listings/{listingId}")
		defer span.End()

		listingID := chi.URLParam(r, "listingId")
		span.SetAttributes(attribute.String("listing.id", listingID))

		l, err := svc.Get(ctx, UserIDFromContext(ctx), listingID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func createListingHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/listings")
		defer span.End()

		var req domain.CreateListingRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		l, err := svc.Create(ctx, UserIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func updateListingHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/listings/{listingId}")
		defer span.End()

		var req domain.UpdateListingRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		l, err := svc.Update(ctx, UserIDFromContext(ctx), chi.URLParam(r, "listingId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func removeListingHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/listings/{listingId}")
		defer span.End()

		listingID := chi.URLParam(r, "listingId")
		if err := svc.Remove(ctx, UserIDFromContext(ctx), listingID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "listing removed", ID: listingID})
	}
}

func markSoldHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/listings/{listingId}/sold")
		defer span.End()

		listingID := chi.URLParam(r, "listingId")
		if err := svc.MarkSold(ctx, UserIDFromContext(ctx), listingID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "listing marked sold", ID: listingID})
	}
}

func reportListingHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/listings/{listingId}/report")
		defer span.End()

		var req domain.ReportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		rep, err := svc.ReportListing(ctx, UserIDFromContext(ctx), chi.URLParam(r, "listingId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, rep)
	}
}

// ============================================================
// Offers
// ============================================================

func makeOfferHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/listings/{listingId}/offers")
		defer span.End()

		var req domain.OfferRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		o, err := svc.MakeOffer(ctx, UserIDFromContext(ctx), chi.URLParam(r, "listingId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	}
}

func listListingOffersHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/listings/{listingId}/offers")
		defer span.End()

		offers, err := svc.ListOffersForListing(ctx, UserIDFromContext(ctx), chi.URLParam(r, "listingId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": offers})
	}
}

func listMyOffersHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/offers")
		defer span.End()

		offers, err := svc.ListMyOffers(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": offers})
	}
}

func acceptOfferHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/offers/{offerId}/accept")
		defer span.End()

		o, err := svc.AcceptOffer(ctx, UserIDFromContext(ctx), chi.URLParam(r, "offerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func declineOfferHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/offers/{offerId}/decline")
		defer span.End()

		o, err := svc.DeclineOffer(ctx, UserIDFromContext(ctx), chi.URLParam(r, "offerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func withdrawOfferHandler(svc *service.ListingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/offers/{offerId}/withdraw")
		defer span.End()

		o, err := svc.WithdrawOffer(ctx, UserIDFromContext(ctx), chi.URLParam(r, "offerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}
