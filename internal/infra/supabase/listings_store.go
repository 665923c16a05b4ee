package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Listings and offers via PostgREST
// ============================================================

// searchTerm strips characters that would break a PostgREST or=() expression.
func searchTerm(q string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '(', ')', '*', '%', '"', '\\':
			return ' '
		}
		return r
	}, strings.TrimSpace(q))
}

func (c *Client) ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListListings")
	defer span.End()

	params := []string{"select=*"}
	status := f.Status
	if status == "" {
		status = domain.ListingActive
	}
	params = append(params, eq("status", string(status)))
	if f.Category != "" {
		params = append(params, eq("category", f.Category))
	}
	if f.SellerID != "" {
		params = append(params, eq("seller_id", f.SellerID))
	}
	if f.MinPrice != nil {
		params = append(params, fmt.Sprintf("price=gte.%g", *f.MinPrice))
	}
	if f.MaxPrice != nil {
		params = append(params, fmt.Sprintf("price=lte.%g", *f.MaxPrice))
	}
	if q := searchTerm(f.Query); q != "" {
		pattern := url.QueryEscape("*" + q + "*")
		params = append(params, fmt.Sprintf("or=(title.ilike.%s,description.ilike.%s)", pattern, pattern))
	}
	params = append(params, "order=created_at.desc", pageWindow(f.Page, f.PageSize))

	return getRows[domain.Listing](ctx, c, "listings?"+strings.Join(params, "&"))
}

func (c *Client) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetListing")
	defer span.End()
	span.SetAttributes(attribute.String("listing.id", listingID))

	l, err := getOne[domain.Listing](ctx, c, "listings?"+eq("id", listingID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, &domain.ErrNotFound{Resource: "listing", ID: listingID}
	}
	return l, nil
}

func (c *Client) CreateListing(ctx context.Context, sellerID string, req *domain.CreateListingRequest) (*domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateListing")
	defer span.End()

	images := req.Images
	if images == nil {
		images = []string{}
	}
	listing, err := insertOne[domain.Listing](ctx, c, "listings", map[string]any{
		"seller_id":   sellerID,
		"title":       req.Title,
		"description": req.Description,
		"price":       req.Price,
		"category":    req.Category,
		"condition":   req.Condition,
		"images":      images,
		"status":      domain.ListingActive,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("supabase: listing created",
		zap.String("listing_id", listing.ID),
		zap.String("seller_id", sellerID),
	)
	return listing, nil
}

func (c *Client) UpdateListing(ctx context.Context, listingID string, changes map[string]any) (*domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateListing")
	defer span.End()

	changes["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := c.doPatch(ctx, "listings?"+eq("id", listingID), changes); err != nil {
		return nil, err
	}
	// Re-fetch to return what actually persisted
	return c.GetListing(ctx, listingID)
}

func (c *Client) SetListingStatus(ctx context.Context, listingID string, status domain.ListingStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetListingStatus")
	defer span.End()
	span.SetAttributes(attribute.String("listing.status", string(status)))

	return c.doPatch(ctx, "listings?"+eq("id", listingID), map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// ============================================================
// Offers
// ============================================================

func (c *Client) CreateOffer(ctx context.Context, offer *domain.Offer) (*domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateOffer")
	defer span.End()

	data := map[string]any{
		"listing_id": offer.ListingID,
		"buyer_id":   offer.BuyerID,
		"seller_id":  offer.SellerID,
		"amount":     offer.Amount,
		"status":     domain.OfferPending,
	}
	if offer.ID != "" {
		data["id"] = offer.ID
	}
	if offer.Message != "" {
		data["message"] = offer.Message
	}
	return insertOne[domain.Offer](ctx, c, "offers", data)
}

func (c *Client) GetOffer(ctx context.Context, offerID string) (*domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetOffer")
	defer span.End()

	o, err := getOne[domain.Offer](ctx, c, "offers?"+eq("id", offerID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, &domain.ErrNotFound{Resource: "offer", ID: offerID}
	}
	return o, nil
}

func (c *Client) ListOffersByListing(ctx context.Context, listingID string, status domain.OfferStatus) ([]domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListOffersByListing")
	defer span.End()

	path := "offers?" + eq("listing_id", listingID) + "&order=created_at.desc"
	if status != "" {
		path += "&" + eq("status", string(status))
	}
	return getRows[domain.Offer](ctx, c, path)
}

func (c *Client) ListOffersByBuyer(ctx context.Context, buyerID string) ([]domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListOffersByBuyer")
	defer span.End()

	return getRows[domain.Offer](ctx, c, "offers?"+eq("buyer_id", buyerID)+"&order=created_at.desc&limit=200")
}

func (c *Client) FindPendingOffer(ctx context.Context, listingID, buyerID string) (*domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindPendingOffer")
	defer span.End()

	path := fmt.Sprintf("offers?%s&%s&status=eq.pending&limit=1", eq("listing_id", listingID), eq("buyer_id", buyerID))
	return getOne[domain.Offer](ctx, c, path)
}

func (c *Client) SetOfferStatus(ctx context.Context, offerID string, status domain.OfferStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetOfferStatus")
	defer span.End()

	return c.doPatch(ctx, "offers?"+eq("id", offerID), map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}
