package analytics

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smallbiznis/booksight/internal/identity"
	"github.com/smallbiznis/booksight/internal/linker"
)

// Metric keys as persisted and served.
const (
	MetricTopRevenueDays      = "top_revenue_days"
	MetricUniqueCustomerCount = "unique_customer_count"
	MetricUniqueAuthorCount   = "unique_author_count"
	MetricMostPopularAuthor   = "most_popular_author"
	MetricTopCustomer         = "top_customer"
)

const topDayLimit = 5

// RevenueDay is one calendar day's total revenue.
type RevenueDay struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

// AuthorMetric describes the most popular author.
type AuthorMetric struct {
	AuthorID  uuid.UUID `json:"author_id"`
	Name      string    `json:"author_name"`
	BooksSold int       `json:"books_sold"`
}

// CustomerMetric describes the top customer, auditable back to raw
// sources through LinkedIDs.
type CustomerMetric struct {
	CustomerID uuid.UUID       `json:"customer_id"`
	Name       string          `json:"customer_name"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	LinkedIDs  []string        `json:"linked_ids"`
}

// Report is the full set of dashboard metrics for one pipeline run.
type Report struct {
	TopRevenueDays      []RevenueDay    `json:"top_revenue_days"`
	UniqueCustomerCount int             `json:"unique_customer_count"`
	UniqueAuthorCount   int             `json:"unique_author_count"`
	MostPopularAuthor   *AuthorMetric   `json:"most_popular_author,omitempty"`
	TopCustomer         *CustomerMetric `json:"top_customer,omitempty"`
	ComputedAt          time.Time       `json:"computed_at"`
}

// Aggregator computes the dashboard metrics in a single pass over the
// linked transactions plus lookups into the canonical sets.
type Aggregator struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Aggregator {
	return &Aggregator{log: log.Named("analytics.aggregator")}
}

func (a *Aggregator) Compute(res *identity.Resolution, txs []linker.LinkedTransaction, now time.Time) Report {
	revenueByDay := map[string]decimal.Decimal{}
	spendByCustomer := map[uuid.UUID]decimal.Decimal{}
	firstDateByCustomer := map[uuid.UUID]string{}
	salesByAuthor := map[uuid.UUID]int{}
	firstDateByAuthor := map[uuid.UUID]string{}

	for _, tx := range txs {
		revenueByDay[tx.Date] = revenueByDay[tx.Date].Add(tx.Amount)

		spendByCustomer[tx.CustomerID] = spendByCustomer[tx.CustomerID].Add(tx.Amount)
		if first, ok := firstDateByCustomer[tx.CustomerID]; !ok || tx.Date < first {
			firstDateByCustomer[tx.CustomerID] = tx.Date
		}

		if book, ok := res.BookByID(tx.BookID); ok {
			for _, authorID := range book.AuthorIDs {
				salesByAuthor[authorID]++
				if first, ok := firstDateByAuthor[authorID]; !ok || tx.Date < first {
					firstDateByAuthor[authorID] = tx.Date
				}
			}
		}
	}

	report := Report{
		TopRevenueDays:      topDays(revenueByDay),
		UniqueCustomerCount: len(res.Customers),
		UniqueAuthorCount:   len(res.Authors),
		MostPopularAuthor:   popularAuthor(res, salesByAuthor, firstDateByAuthor),
		TopCustomer:         topCustomer(res, spendByCustomer, firstDateByCustomer),
		ComputedAt:          now,
	}
	a.log.Debug("metrics computed",
		zap.Int("transactions", len(txs)),
		zap.Int("revenue_days", len(revenueByDay)),
	)
	return report
}

// topDays sorts days by revenue descending, earlier date first on ties,
// and truncates to the dashboard's five entries.
func topDays(revenueByDay map[string]decimal.Decimal) []RevenueDay {
	days := make([]RevenueDay, 0, len(revenueByDay))
	for date, revenue := range revenueByDay {
		days = append(days, RevenueDay{Date: date, Revenue: revenue})
	}
	sort.Slice(days, func(i, j int) bool {
		if c := days[i].Revenue.Cmp(days[j].Revenue); c != 0 {
			return c > 0
		}
		return days[i].Date < days[j].Date
	})
	if len(days) > topDayLimit {
		days = days[:topDayLimit]
	}
	return days
}

func popularAuthor(res *identity.Resolution, sales map[uuid.UUID]int, firstDate map[uuid.UUID]string) *AuthorMetric {
	var best *AuthorMetric
	var bestFirst string
	for i := range res.Authors {
		author := res.Authors[i]
		count := sales[author.ID]
		if count == 0 {
			continue
		}
		first := firstDate[author.ID]
		if best == nil || betterRank(count, first, author.ID.String(), best.BooksSold, bestFirst, best.AuthorID.String()) {
			best = &AuthorMetric{AuthorID: author.ID, Name: author.Name, BooksSold: count}
			bestFirst = first
		}
	}
	return best
}

func topCustomer(res *identity.Resolution, spend map[uuid.UUID]decimal.Decimal, firstDate map[uuid.UUID]string) *CustomerMetric {
	var best *CustomerMetric
	var bestFirst string
	for i := range res.Customers {
		customer := res.Customers[i]
		total, ok := spend[customer.ID]
		if !ok {
			continue
		}
		first := firstDate[customer.ID]
		if best == nil || betterSpendRank(total, first, customer.ID.String(), best.TotalSpent, bestFirst, best.CustomerID.String()) {
			linked := make([]string, 0, len(customer.SourceIDs))
			for _, sid := range customer.SourceIDs {
				linked = append(linked, sid.String())
			}
			best = &CustomerMetric{
				CustomerID: customer.ID,
				Name:       customer.Name,
				TotalSpent: total,
				LinkedIDs:  linked,
			}
			bestFirst = first
		}
	}
	return best
}

// betterRank orders by count descending, then earliest first transaction
// date, then canonical id, for full determinism.
func betterRank(count int, first, id string, bestCount int, bestFirst, bestID string) bool {
	if count != bestCount {
		return count > bestCount
	}
	if first != bestFirst {
		return first < bestFirst
	}
	return id < bestID
}

func betterSpendRank(total decimal.Decimal, first, id string, bestTotal decimal.Decimal, bestFirst, bestID string) bool {
	if c := total.Cmp(bestTotal); c != 0 {
		return c > 0
	}
	if first != bestFirst {
		return first < bestFirst
	}
	return id < bestID
}
