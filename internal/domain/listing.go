package domain

import (
	"strings"
	"time"
)

// ============================================================
// Listings
// ============================================================

type ListingStatus string

const (
	ListingActive   ListingStatus = "active"
	ListingReserved ListingStatus = "reserved"
	ListingSold     ListingStatus = "sold"
	ListingRemoved  ListingStatus = "removed"
)

// ValidListingStatus reports whether s is a known listing status.
func ValidListingStatus(s ListingStatus) bool {
	switch s {
	case ListingActive, ListingReserved, ListingSold, ListingRemoved:
		return true
	}
	return false
}

// ListingCategories is the fixed category set shown in the UI filters.
var ListingCategories = []string{
	"textbooks", "electronics", "furniture", "clothing",
	"kitchen", "sports", "tickets", "services", "other",
}

// ListingConditions is the fixed condition set.
var ListingConditions = []string{"new", "like_new", "good", "fair", "poor"}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Listing is a row of the listings table.
type Listing struct {
	ID          string        `json:"id"`
	SellerID    string        `json:"seller_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Price       float64       `json:"price"`
	Category    string        `json:"category"`
	Condition   string        `json:"condition"`
	Status      ListingStatus `json:"status"`
	Images      []string      `json:"images"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ListingFilter narrows GET /v1/listings.
type ListingFilter struct {
	Category string
	Query    string
	MinPrice *float64
	MaxPrice *float64
	Status   ListingStatus
	SellerID string
	Page     int
	PageSize int
}

// CreateListingRequest is the body of POST /v1/listings.
type CreateListingRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Condition   string   `json:"condition"`
	Images      []string `json:"images"`
}

// Validate checks field constraints and trims text fields in place.
func (r *CreateListingRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	if n := len([]rune(r.Title)); n < 3 || n > 120 {
		return &ErrValidation{Field: "title", Message: "must be between 3 and 120 characters"}
	}
	if len([]rune(r.Description)) > 5000 {
		return &ErrValidation{Field: "description", Message: "must be at most 5000 characters"}
	}
	if r.Price < 0 {
		return &ErrValidation{Field: "price", Message: "must not be negative"}
	}
	if !contains(ListingCategories, r.Category) {
		return &ErrValidation{Field: "category", Message: "unknown category"}
	}
	if !contains(ListingConditions, r.Condition) {
		return &ErrValidation{Field: "condition", Message: "unknown condition"}
	}
	if len(r.Images) > 8 {
		return &ErrValidation{Field: "images", Message: "at most 8 images"}
	}
	return nil
}

// UpdateListingRequest is the body of PATCH /v1/listings/{id}.
// Nil fields are left untouched.
type UpdateListingRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Condition   *string   `json:"condition,omitempty"`
	Images      *[]string `json:"images,omitempty"`
}

// Changes validates the patch and returns the column map to send to PostgREST.
func (r *UpdateListingRequest) Changes() (map[string]any, error) {
	changes := map[string]any{}
	if r.Title != nil {
		t := strings.TrimSpace(*r.Title)
		if n := len([]rune(t)); n < 3 || n > 120 {
			return nil, &ErrValidation{Field: "title", Message: "must be between 3 and 120 characters"}
		}
		changes["title"] = t
	}
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		if len([]rune(d)) > 5000 {
			return nil, &ErrValidation{Field: "description", Message: "must be at most 5000 characters"}
		}
		changes["description"] = d
	}
	if r.Price != nil {
		if *r.Price < 0 {
			return nil, &ErrValidation{Field: "price", Message: "must not be negative"}
		}
		changes["price"] = *r.Price
	}
	if r.Category != nil {
		if !contains(ListingCategories, *r.Category) {
			return nil, &ErrValidation{Field: "category", Message: "unknown category"}
		}
		changes["category"] = *r.Category
	}
	if r.Condition != nil {
		if !contains(ListingConditions, *r.Condition) {
			return nil, &ErrValidation{Field: "condition", Message: "unknown condition"}
		}
		changes["condition"] = *r.Condition
	}
	if r.Images != nil {
		if len(*r.Images) > 8 {
			return nil, &ErrValidation{Field: "images", Message: "at most 8 images"}
		}
		changes["images"] = *r.Images
	}
	if len(changes) == 0 {
		return nil, &ErrValidation{Field: "body", Message: "no fields to update"}
	}
	return changes, nil
}

// ============================================================
// Offers
// ============================================================

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferDeclined  OfferStatus = "declined"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// Offer is a row of the offers table.
type Offer struct {
	ID        string      `json:"id"`
	ListingID string      `json:"listing_id"`
	BuyerID   string      `json:"buyer_id"`
	SellerID  string      `json:"seller_id"`
	Amount    float64     `json:"amount"`
	Message   string      `json:"message,omitempty"`
	Status    OfferStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// OfferRequest is the body of POST /v1/listings/{id}/offers.
type OfferRequest struct {
	Amount  float64 `json:"amount"`
	Message string  `json:"message"`
}
