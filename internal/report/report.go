package report

import (
	"sort"
	"strings"
	"time"

	"shopledger/backend/internal/domain"
)

const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

const DefaultTopSellerLimit = 10

// Window computes the half-open UTC interval [from, to) covering the given
// period around an anchor time. Weekly windows start on Sunday. An
// unrecognized period yields the daily window of the anchor, never of the
// wall clock, so report and listing stay consistent for the same request.
func Window(period string, anchor time.Time) (time.Time, time.Time, string) {
	anchor = anchor.UTC()
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)

	switch strings.ToLower(strings.TrimSpace(period)) {
	case PeriodWeekly:
		start := day.AddDate(0, 0, -int(day.Weekday()))
		return start, start.AddDate(0, 0, 7), PeriodWeekly
	case PeriodMonthly:
		start := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), PeriodMonthly
	default:
		return day, day.AddDate(0, 0, 1), PeriodDaily
	}
}

// Profit sums revenue and point-in-time cost over the given lines. Callers
// pass lines already filtered to [from, to); the window is echoed back so
// responses are self-describing.
func Profit(period string, from time.Time, to time.Time, lines []domain.SaleLine) domain.ProfitReport {
	rep := domain.ProfitReport{
		Period: period,
		From:   from,
		To:     to,
	}
	for _, line := range lines {
		rep.RevenueCents += line.LineTotalCents
		rep.CostCents += line.CostPriceCents * int64(line.Quantity)
		rep.LineCount++
	}
	rep.ProfitCents = rep.RevenueCents - rep.CostCents
	return rep
}

// TopSellers groups lines by product name and ranks by quantity sold,
// descending, with a stable name tie-break. At most limit entries are
// returned.
func TopSellers(lines []domain.SaleLine, limit int) []domain.TopSeller {
	if limit < 1 {
		limit = DefaultTopSellerLimit
	}

	byName := make(map[string]*domain.TopSeller, len(lines))
	for _, line := range lines {
		entry, ok := byName[line.ProductName]
		if !ok {
			entry = &domain.TopSeller{ProductName: line.ProductName}
			byName[line.ProductName] = entry
		}
		entry.QuantitySold += line.Quantity
		entry.RevenueCents += line.LineTotalCents
	}

	ranked := make([]domain.TopSeller, 0, len(byName))
	for _, entry := range byName {
		ranked = append(ranked, *entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].QuantitySold != ranked[j].QuantitySold {
			return ranked[i].QuantitySold > ranked[j].QuantitySold
		}
		return ranked[i].ProductName < ranked[j].ProductName
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
