package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ListingService manages listings and the offers made on them.
type ListingService struct {
	store    port.ListingStore
	notifier port.Notifier
	logger   *zap.Logger
}

// NewListingService creates the listing service.
func NewListingService(store port.ListingStore, notifier port.Notifier, logger *zap.Logger) *ListingService {
	return &ListingService{store: store, notifier: notifier, logger: logger}
}

// ============================================================
// Listings
// ============================================================

func (s *ListingService) List(ctx context.Context, f domain.ListingFilter) (domain.ListResponse[domain.Listing], error) {
	ctx, span := tracer.Start(ctx, "ListingService.List")
	defer span.End()

	if f.Status != "" && !domain.ValidListingStatus(f.Status) {
		return domain.ListResponse[domain.Listing]{}, &domain.ErrValidation{Field: "status", Message: "unknown status"}
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return domain.ListResponse[domain.Listing]{}, &domain.ErrValidation{Field: "min_price", Message: "must not exceed max_price"}
	}
	rows, err := s.store.ListListings(ctx, f)
	if err != nil {
		return domain.ListResponse[domain.Listing]{}, fmt.Errorf("list listings: %w", err)
	}
	return domain.NewListResponse(rows, f.Page, f.PageSize), nil
}

// Get returns a listing. Removed listings are only visible to their seller.
func (s *ListingService) Get(ctx context.Context, userID, listingID string) (*domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "ListingService.Get")
	defer span.End()

	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status == domain.ListingRemoved && l.SellerID != userID {
		return nil, &domain.ErrNotFound{Resource: "listing", ID: listingID}
	}
	return l, nil
}

func (s *ListingService) Create(ctx context.Context, sellerID string, req *domain.CreateListingRequest) (*domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "ListingService.Create")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	l, err := s.store.CreateListing(ctx, sellerID, req)
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	return l, nil
}

// ownedListing loads a listing and checks the caller is its seller.
func (s *ListingService) ownedListing(ctx context.Context, userID, listingID string) (*domain.Listing, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID != userID {
		return nil, &domain.ErrForbidden{Action: "modify listing"}
	}
	return l, nil
}

func (s *ListingService) Update(ctx context.Context, userID, listingID string, req *domain.UpdateListingRequest) (*domain.Listing, error) {
	ctx, span := tracer.Start(ctx, "ListingService.Update")
	defer span.End()

	changes, err := req.Changes()
	if err != nil {
		return nil, err
	}
	l, err := s.ownedListing(ctx, userID, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status == domain.ListingSold || l.Status == domain.ListingRemoved {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("listing is %s", l.Status)}
	}
	updated, err := s.store.UpdateListing(ctx, listingID, changes)
	if err != nil {
		return nil, fmt.Errorf("update listing: %w", err)
	}
	return updated, nil
}

// Remove soft-deletes a listing and declines its pending offers.
func (s *ListingService) Remove(ctx context.Context, userID, listingID string) error {
	ctx, span := tracer.Start(ctx, "ListingService.Remove")
	defer span.End()

	l, err := s.ownedListing(ctx, userID, listingID)
	if err != nil {
		return err
	}
	if l.Status == domain.ListingRemoved {
		return nil
	}
	if err := s.store.SetListingStatus(ctx, listingID, domain.ListingRemoved); err != nil {
		return fmt.Errorf("remove listing: %w", err)
	}
	s.closePendingOffers(ctx, l, domain.NotificationListingRemoved,
		"Listing removed", fmt.Sprintf("%q is no longer available.", l.Title))
	return nil
}

// MarkSold closes a listing and tells every buyer with a pending offer.
func (s *ListingService) MarkSold(ctx context.Context, userID, listingID string) error {
	ctx, span := tracer.Start(ctx, "ListingService.MarkSold")
	defer span.End()

	l, err := s.ownedListing(ctx, userID, listingID)
	if err != nil {
		return err
	}
	switch l.Status {
	case domain.ListingSold:
		return nil
	case domain.ListingRemoved:
		return &domain.ErrConflict{Message: "listing was removed"}
	}
	if err := s.store.SetListingStatus(ctx, listingID, domain.ListingSold); err != nil {
		return fmt.Errorf("mark listing sold: %w", err)
	}
	s.closePendingOffers(ctx, l, domain.NotificationListingSold,
		"Listing sold", fmt.Sprintf("%q has been sold.", l.Title))
	return nil
}

// SetStatus is the admin override of a listing's status.
func (s *ListingService) SetStatus(ctx context.Context, listingID string, status domain.ListingStatus) error {
	ctx, span := tracer.Start(ctx, "ListingService.SetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("listing.status", string(status)))

	if !domain.ValidListingStatus(status) {
		return &domain.ErrValidation{Field: "status", Message: "unknown status"}
	}
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if l.Status == status {
		return nil
	}
	if err := s.store.SetListingStatus(ctx, listingID, status); err != nil {
		return fmt.Errorf("set listing status: %w", err)
	}
	if status == domain.ListingRemoved {
		s.notify(ctx, &domain.NewNotification{
			UserID:    l.SellerID,
			Type:      domain.NotificationListingRemoved,
			Title:     "Listing removed by a moderator",
			Body:      fmt.Sprintf("%q was removed.", l.Title),
			Link:      "/listings/" + l.ID,
			RelatedID: l.ID,
		})
		s.closePendingOffers(ctx, l, domain.NotificationListingRemoved,
			"Listing removed", fmt.Sprintf("%q is no longer available.", l.Title))
	}
	return nil
}

// closePendingOffers declines every pending offer of l and notifies the buyers.
func (s *ListingService) closePendingOffers(ctx context.Context, l *domain.Listing, t domain.NotificationType, title, body string) {
	offers, err := s.store.ListOffersByListing(ctx, l.ID, domain.OfferPending)
	if err != nil {
		s.logger.Warn("failed to load pending offers", zap.String("listing_id", l.ID), zap.Error(err))
		return
	}
	for _, o := range offers {
		if err := s.store.SetOfferStatus(ctx, o.ID, domain.OfferDeclined); err != nil {
			s.logger.Warn("failed to decline offer", zap.String("offer_id", o.ID), zap.Error(err))
		}
		s.notify(ctx, &domain.NewNotification{
			UserID:    o.BuyerID,
			Type:      t,
			Title:     title,
			Body:      body,
			Link:      "/listings/" + l.ID,
			RelatedID: l.ID,
		})
	}
}

// notify is best effort: a failed notification never fails the caller.
func (s *ListingService) notify(ctx context.Context, n *domain.NewNotification) {
	if _, err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification failed",
			zap.String("user_id", n.UserID),
			zap.String("type", string(n.Type)),
			zap.Error(err),
		)
	}
}

// ============================================================
// Offers
// ============================================================

func (s *ListingService) MakeOffer(ctx context.Context, buyerID, listingID string, req *domain.OfferRequest) (*domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "ListingService.MakeOffer")
	defer span.End()

	req.Message = strings.TrimSpace(req.Message)
	if req.Amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	if len([]rune(req.Message)) > 500 {
		return nil, &domain.ErrValidation{Field: "message", Message: "must be at most 500 characters"}
	}

	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID == buyerID {
		return nil, &domain.ErrValidation{Field: "listing_id", Message: "cannot make an offer on your own listing"}
	}
	if l.Status != domain.ListingActive {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("listing is %s", l.Status)}
	}

	pending, err := s.store.FindPendingOffer(ctx, listingID, buyerID)
	if err != nil {
		return nil, fmt.Errorf("find pending offer: %w", err)
	}
	if pending != nil {
		return nil, &domain.ErrDuplicate{Key: "pending offer for listing " + listingID}
	}

	offer, err := s.store.CreateOffer(ctx, &domain.Offer{
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  l.SellerID,
		Amount:    req.Amount,
		Message:   req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	s.notify(ctx, &domain.NewNotification{
		UserID:    l.SellerID,
		Type:      domain.NotificationOffer,
		Title:     "New offer",
		Body:      fmt.Sprintf("$%.2f offered for %q", req.Amount, l.Title),
		Link:      "/listings/" + l.ID + "/offers",
		RelatedID: offer.ID,
	})
	return offer, nil
}

func (s *ListingService) ListOffersForListing(ctx context.Context, userID, listingID string) ([]domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "ListingService.ListOffersForListing")
	defer span.End()

	if _, err := s.ownedListing(ctx, userID, listingID); err != nil {
		return nil, err
	}
	offers, err := s.store.ListOffersByListing(ctx, listingID, "")
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	return offers, nil
}

func (s *ListingService) ListMyOffers(ctx context.Context, buyerID string) ([]domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "ListingService.ListMyOffers")
	defer span.End()

	offers, err := s.store.ListOffersByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list my offers: %w", err)
	}
	return offers, nil
}

// pendingOffer loads an offer that must still be pending.
func (s *ListingService) pendingOffer(ctx context.Context, offerID string) (*domain.Offer, error) {
	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OfferPending {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("offer is %s", o.Status)}
	}
	return o, nil
}

// AcceptOffer accepts a pending offer and reserves the listing.
func (s *ListingService) AcceptOffer(ctx context.Context, sellerID, offerID string) (*domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "ListingService.AcceptOffer")
	defer span.End()

	o, err := s.pendingOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != sellerID {
		return nil, &domain.ErrForbidden{Action: "accept offer"}
	}
	l, err := s.store.GetListing(ctx, o.ListingID)
	if err != nil {
		return nil, err
	}
	if l.Status != domain.ListingActive {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("listing is %s", l.Status)}
	}

	// Reserve first so a failed reservation never leaves an accepted offer
	// on a listing that is still for sale.
	if err := s.store.SetListingStatus(ctx, l.ID, domain.ListingReserved); err != nil {
		return nil, fmt.Errorf("reserve listing: %w", err)
	}
	if err := s.store.SetOfferStatus(ctx, o.ID, domain.OfferAccepted); err != nil {
		if rerr := s.store.SetListingStatus(ctx, l.ID, domain.ListingActive); rerr != nil {
			s.logger.Error("failed to release reserved listing",
				zap.String("listing_id", l.ID),
				zap.String("offer_id", o.ID),
				zap.Error(rerr),
			)
		}
		return nil, fmt.Errorf("accept offer: %w", err)
	}
	o.Status = domain.OfferAccepted

	s.notify(ctx, &domain.NewNotification{
		UserID:    o.BuyerID,
		Type:      domain.NotificationOfferAccepted,
		Title:     "Offer accepted",
		Body:      fmt.Sprintf("Your offer for %q was accepted.", l.Title),
		Link:      "/listings/" + l.ID,
		RelatedID: o.ID,
	})
	return o, nil
}

func (s *ListingService) DeclineOffer(ctx context.Context, sellerID, offerID string) (*domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "ListingService.DeclineOffer")
	defer span.End()

	o, err := s.pendingOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != sellerID {
		return nil, &domain.ErrForbidden{Action: "decline offer"}
	}
	if err := s.store.SetOfferStatus(ctx, o.ID, domain.OfferDeclined); err != nil {
		return nil, fmt.Errorf("decline offer: %w", err)
	}
	o.Status = domain.OfferDeclined

	s.notify(ctx, &domain.NewNotification{
		UserID:    o.BuyerID,
		Type:      domain.NotificationOfferDeclined,
		Title:     "Offer declined",
		Body:      fmt.Sprintf("Your offer of $%.2f was declined.", o.Amount),
		Link:      "/listings/" + o.ListingID,
		RelatedID: o.ID,
	})
	return o, nil
}

func (s *ListingService) WithdrawOffer(ctx context.Context, buyerID, offerID string) (*domain.Offer, error) {
	ctx, span := tracer.Start(ctx, "ListingService.WithdrawOffer")
	defer span.End()

	o, err := s.pendingOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, &domain.ErrForbidden{Action: "withdraw offer"}
	}
	if err := s.store.SetOfferStatus(ctx, o.ID, domain.OfferWithdrawn); err != nil {
		return nil, fmt.Errorf("withdraw offer: %w", err)
	}
	o.Status = domain.OfferWithdrawn

	// the seller's "new offer" badge is stale now
	if _, err := s.notifier.MarkRelatedRead(ctx, o.SellerID, domain.NotificationOffer, o.ID); err != nil {
		s.logger.Warn("failed to clear offer notification", zap.String("offer_id", o.ID), zap.Error(err))
	}
	s.notify(ctx, &domain.NewNotification{
		UserID:    o.SellerID,
		Type:      domain.NotificationOfferWithdrawn,
		Title:     "Offer withdrawn",
		Body:      fmt.Sprintf("An offer of $%.2f was withdrawn.", o.Amount),
		Link:      "/listings/" + o.ListingID + "/offers",
		RelatedID: o.ID,
	})
	return o, nil
}
