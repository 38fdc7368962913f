package domain

import "time"

type ListingStatus string

const (
	ListingStatusPendingReview ListingStatus = "pending_review"
	ListingStatusApproved      ListingStatus = "approved"
	ListingStatusRejected      ListingStatus = "rejected"
	ListingStatusRented        ListingStatus = "rented"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusPendingReview, ListingStatusApproved, ListingStatusRejected, ListingStatusRented:
		return true
	}
	return false
}

// Listing is a rental property reported by a whistleblower.
type Listing struct {
	ID              string        `json:"listingId"`
	WhistleblowerID string        `json:"whistleblowerId"`
	Address         string        `json:"address"`
	City            string        `json:"city,omitempty"`
	Area            string        `json:"area,omitempty"`
	Bedrooms        int           `json:"bedrooms"`
	Bathrooms       int           `json:"bathrooms"`
	AnnualRentNGN   int64         `json:"annualRentNgn"`
	Description     string        `json:"description,omitempty"`
	Photos          []string      `json:"photos"`
	Status          ListingStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	RejectionReason string        `json:"rejectionReason,omitempty"`
}

func (l Listing) Clone() Listing {
	out := l
	if l.Photos != nil {
		out.Photos = append([]string(nil), l.Photos...)
	}
	return out
}

type CreateListingInput struct {
	WhistleblowerID string
	Address         string
	City            string
	Area            string
	Bedrooms        int
	Bathrooms       int
	AnnualRentNGN   int64
	Description     string
	Photos          []string
}

type ListingFilters struct {
	Status   ListingStatus
	Query    string
	Page     int
	PageSize int
}

type PaginatedListings struct {
	Listings   []Listing `json:"listings"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	TotalPages int       `json:"totalPages"`
}
