/**
 * @description
 * Deterministic repayment schedule generation for financed deals.
 *
 * @notes
 * - Periods 1..N-1 get the financed amount divided by the term, rounded half-up to kobo.
 *   The final period is the remainder, so the schedule always sums to the financed amount.
 * - Due dates advance by calendar months from the start date, clamped to the last day of
 *   shorter months (Jan 31 -> Feb 28 -> Mar 31).
 * - Status recomputation is a pure read-time projection and is never persisted.
 */

package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shelterflex/rent-service/internal/domain"
)

const (
	// AmountPlaces is the number of decimal places kept on each instalment.
	AmountPlaces = 2
	// GracePeriodDays is how long after its due date an unpaid instalment stays "due" before turning "late".
	GracePeriodDays = 5
)

var ErrInvalidTerm = errors.New("term must be at least one month")

// Generate splits financed into termMonths instalments starting one month after start.
func Generate(financed decimal.Decimal, termMonths int, start time.Time) ([]domain.ScheduleItem, error) {
	if termMonths < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTerm, termMonths)
	}

	base := financed.DivRound(decimal.NewFromInt(int64(termMonths)), AmountPlaces)
	items := make([]domain.ScheduleItem, 0, termMonths)
	sum := decimal.Zero

	for period := 1; period < termMonths; period++ {
		items = append(items, domain.ScheduleItem{
			Period:    period,
			DueDate:   addMonths(start, period),
			AmountNGN: base,
			Status:    domain.ScheduleItemUpcoming,
		})
		sum = sum.Add(base)
	}

	items = append(items, domain.ScheduleItem{
		Period:    termMonths,
		DueDate:   addMonths(start, termMonths),
		AmountNGN: financed.Sub(sum).Round(AmountPlaces),
		Status:    domain.ScheduleItemUpcoming,
	})
	return items, nil
}

// addMonths moves t forward by n calendar months keeping the day of month where it exists.
func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	// day 0 of the following month is the last day of the target month
	lastDay := time.Date(year, month+time.Month(n)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	hour, minute, sec := t.Clock()
	return time.Date(year, month+time.Month(n), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// RecomputeStatuses returns a copy of items with each status derived from now and the paid periods.
func RecomputeStatuses(items []domain.ScheduleItem, now time.Time, paidPeriods []int) []domain.ScheduleItem {
	paid := make(map[int]struct{}, len(paidPeriods))
	for _, p := range paidPeriods {
		paid[p] = struct{}{}
	}

	out := make([]domain.ScheduleItem, len(items))
	for i, item := range items {
		out[i] = item
		out[i].Status = statusAt(item, now, paid)
	}
	return out
}

func statusAt(item domain.ScheduleItem, now time.Time, paid map[int]struct{}) domain.ScheduleItemStatus {
	if _, ok := paid[item.Period]; ok {
		return domain.ScheduleItemPaid
	}
	if now.Before(item.DueDate) {
		return domain.ScheduleItemUpcoming
	}
	if !now.After(item.DueDate.AddDate(0, 0, GracePeriodDays)) {
		return domain.ScheduleItemDue
	}
	return domain.ScheduleItemLate
}

// TotalPaid sums the instalments for the given periods. Unknown periods contribute nothing.
func TotalPaid(items []domain.ScheduleItem, paidPeriods []int) decimal.Decimal {
	byPeriod := make(map[int]decimal.Decimal, len(items))
	for _, item := range items {
		byPeriod[item.Period] = item.AmountNGN
	}
	total := decimal.Zero
	for _, p := range paidPeriods {
		total = total.Add(byPeriod[p])
	}
	return total
}

// RemainingBalance sums the instalments not in paidPeriods.
func RemainingBalance(items []domain.ScheduleItem, paidPeriods []int) decimal.Decimal {
	paid := make(map[int]struct{}, len(paidPeriods))
	for _, p := range paidPeriods {
		paid[p] = struct{}{}
	}
	total := decimal.Zero
	for _, item := range items {
		if _, ok := paid[item.Period]; !ok {
			total = total.Add(item.AmountNGN)
		}
	}
	return total
}
