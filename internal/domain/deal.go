/**
 * @description
 * Core domain models for rent-financing deals. A deal splits a landlord's annual rent,
 * less the tenant's deposit, into a monthly repayment schedule.
 *
 * @notes
 * - Money is carried as shopspring/decimal values. Rent and deposit are whole naira;
 *   schedule amounts are rounded to kobo (2 decimal places).
 * - A Deal owns its schedule. Stores hand out clones so callers never alias store state.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DealStatus string

const (
	DealStatusDraft     DealStatus = "draft"
	DealStatusActive    DealStatus = "active"
	DealStatusCompleted DealStatus = "completed"
	DealStatusDefaulted DealStatus = "defaulted"
)

// Valid reports whether s is a known deal status.
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusDraft, DealStatusActive, DealStatusCompleted, DealStatusDefaulted:
		return true
	}
	return false
}

type ScheduleItemStatus string

const (
	ScheduleItemUpcoming ScheduleItemStatus = "upcoming"
	ScheduleItemDue      ScheduleItemStatus = "due"
	ScheduleItemPaid     ScheduleItemStatus = "paid"
	ScheduleItemLate     ScheduleItemStatus = "late"
)

func (s ScheduleItemStatus) Valid() bool {
	switch s {
	case ScheduleItemUpcoming, ScheduleItemDue, ScheduleItemPaid, ScheduleItemLate:
		return true
	}
	return false
}

// ScheduleItem is one monthly repayment. Period runs 1..TermMonths with no gaps.
type ScheduleItem struct {
	Period    int                `json:"period"`
	DueDate   time.Time          `json:"dueDate"`
	AmountNGN decimal.Decimal    `json:"amountNgn"`
	Status    ScheduleItemStatus `json:"status"`
}

// Deal is a financed tenancy. FinancedAmountNGN is always AnnualRentNGN - DepositNGN.
type Deal struct {
	ID                string          `json:"dealId"`
	TenantID          string          `json:"tenantId"`
	LandlordID        string          `json:"landlordId"`
	ListingID         *string         `json:"listingId,omitempty"`
	AnnualRentNGN     decimal.Decimal `json:"annualRentNgn"`
	DepositNGN        decimal.Decimal `json:"depositNgn"`
	FinancedAmountNGN decimal.Decimal `json:"financedAmountNgn"`
	TermMonths        int             `json:"termMonths"`
	CreatedAt         time.Time       `json:"createdAt"`
	Status            DealStatus      `json:"status"`
	Schedule          []ScheduleItem  `json:"schedule,omitempty"`
}

// Clone returns a deep copy of the deal, including its schedule.
func (d Deal) Clone() Deal {
	out := d
	if d.ListingID != nil {
		listingID := *d.ListingID
		out.ListingID = &listingID
	}
	if d.Schedule != nil {
		out.Schedule = make([]ScheduleItem, len(d.Schedule))
		copy(out.Schedule, d.Schedule)
	}
	return out
}

// WithoutSchedule returns a copy of the deal stripped of its schedule, as used in list views.
func (d Deal) WithoutSchedule() Deal {
	out := d.Clone()
	out.Schedule = nil
	return out
}

// PaidPeriods returns the periods whose schedule item is marked paid.
func (d Deal) PaidPeriods() []int {
	periods := make([]int, 0, len(d.Schedule))
	for _, item := range d.Schedule {
		if item.Status == ScheduleItemPaid {
			periods = append(periods, item.Period)
		}
	}
	return periods
}

// CreateDealInput is the validated input for originating a deal.
type CreateDealInput struct {
	TenantID      string
	LandlordID    string
	ListingID     *string
	AnnualRentNGN int64
	DepositNGN    int64
	TermMonths    int
}

// DealFilters narrows a deal listing. Zero values mean "no filter".
type DealFilters struct {
	TenantID   string
	LandlordID string
	Status     DealStatus
	Page       int
	PageSize   int
}

type PaginatedDeals struct {
	Deals      []Deal `json:"deals"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	TotalPages int    `json:"totalPages"`
}
