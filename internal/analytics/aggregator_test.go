package analytics_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/booksight/internal/analytics"
	"github.com/smallbiznis/booksight/internal/config"
	"github.com/smallbiznis/booksight/internal/identity"
	"github.com/smallbiznis/booksight/internal/linker"
	"github.com/smallbiznis/booksight/internal/normalize"
	"github.com/smallbiznis/booksight/internal/source"
)

func newResolution(t *testing.T, customers []normalize.CustomerRecord, books []normalize.BookRecord) *identity.Resolution {
	t.Helper()
	resolver := identity.NewResolver(config.NewStaticMatchingHolder(config.DefaultMatchingConfig()), zap.NewNop())
	return resolver.Resolve(customers, books)
}

func TestCompute_TopRevenueDays(t *testing.T) {
	txs := []linker.LinkedTransaction{
		{Date: "2024-01-01", Amount: decimal.RequireFromString("100")},
		{Date: "2024-01-02", Amount: decimal.RequireFromString("300")},
		{Date: "2024-01-03", Amount: decimal.RequireFromString("150")},
		{Date: "2024-01-03", Amount: decimal.RequireFromString("150")},
		{Date: "2024-01-04", Amount: decimal.RequireFromString("50")},
	}

	report := analytics.New(zap.NewNop()).Compute(&identity.Resolution{}, txs, time.Now())

	require.Len(t, report.TopRevenueDays, 4)
	// Descending revenue, the 300/300 tie broken by earlier date.
	assert.Equal(t, "2024-01-02", report.TopRevenueDays[0].Date)
	assert.Equal(t, "2024-01-03", report.TopRevenueDays[1].Date)
	assert.Equal(t, "2024-01-01", report.TopRevenueDays[2].Date)
	assert.Equal(t, "2024-01-04", report.TopRevenueDays[3].Date)
	assert.True(t, report.TopRevenueDays[1].Revenue.Equal(decimal.RequireFromString("300")))
}

func TestCompute_TruncatesToFiveDays(t *testing.T) {
	txs := make([]linker.LinkedTransaction, 0, 7)
	for _, d := range []string{"01", "02", "03", "04", "05", "06", "07"} {
		txs = append(txs, linker.LinkedTransaction{
			Date:   "2024-03-" + d,
			Amount: decimal.RequireFromString("10." + d),
		})
	}

	report := analytics.New(zap.NewNop()).Compute(&identity.Resolution{}, txs, time.Now())

	require.Len(t, report.TopRevenueDays, 5)
	assert.Equal(t, "2024-03-07", report.TopRevenueDays[0].Date)
	assert.Equal(t, "2024-03-03", report.TopRevenueDays[4].Date)
}

func TestCompute_PopularAuthorAndTopCustomer(t *testing.T) {
	res := newResolution(t,
		[]normalize.CustomerRecord{
			{ID: source.NewID(source.Source1, "c100"), Name: "Alice Smith", NameKey: "alice smith", Email: "alice@example.com", EmailKey: "alice@example.com"},
			{ID: source.NewID(source.Source2, "cust-42"), Name: "Alice Smith", NameKey: "alice smith", Email: "alice@example.com", EmailKey: "alice@example.com"},
			{ID: source.NewID(source.Source2, "c2"), Name: "Bob Jones", NameKey: "bob jones"},
		},
		[]normalize.BookRecord{
			{ID: source.NewID(source.Source1, "b1"), Title: "First", TitleKey: "first", Authors: []string{"Jane Doe"}, AuthorKeys: []string{"jane doe"}},
			{ID: source.NewID(source.Source1, "b2"), Title: "Second", TitleKey: "second", Authors: []string{"John Roe"}, AuthorKeys: []string{"john roe"}},
		},
	)
	require.Len(t, res.Customers, 2)

	alice, _ := res.CustomerBySource(source.NewID(source.Source1, "c100"))
	bob, _ := res.CustomerBySource(source.NewID(source.Source2, "c2"))
	first, _ := res.BookBySource(source.NewID(source.Source1, "b1"))
	second, _ := res.BookBySource(source.NewID(source.Source1, "b2"))

	txs := []linker.LinkedTransaction{
		{CustomerID: alice, BookID: first, Date: "2024-01-01", Amount: decimal.RequireFromString("30")},
		{CustomerID: alice, BookID: first, Date: "2024-01-02", Amount: decimal.RequireFromString("20")},
		{CustomerID: bob, BookID: second, Date: "2024-01-03", Amount: decimal.RequireFromString("40")},
	}

	report := analytics.New(zap.NewNop()).Compute(res, txs, time.Now())

	assert.Equal(t, 2, report.UniqueCustomerCount)
	assert.Equal(t, 2, report.UniqueAuthorCount)

	require.NotNil(t, report.MostPopularAuthor)
	assert.Equal(t, "Jane Doe", report.MostPopularAuthor.Name)
	assert.Equal(t, 2, report.MostPopularAuthor.BooksSold)

	require.NotNil(t, report.TopCustomer)
	assert.Equal(t, "Alice Smith", report.TopCustomer.Name)
	assert.True(t, report.TopCustomer.TotalSpent.Equal(decimal.RequireFromString("50")))
	assert.Equal(t, []string{"S1:c100", "S2:cust-42"}, report.TopCustomer.LinkedIDs)
}

func TestCompute_AuthorTieBrokenByFirstSaleDate(t *testing.T) {
	res := newResolution(t, nil, []normalize.BookRecord{
		{ID: source.NewID(source.Source1, "b1"), Title: "First", TitleKey: "first", Authors: []string{"Jane Doe"}, AuthorKeys: []string{"jane doe"}},
		{ID: source.NewID(source.Source1, "b2"), Title: "Second", TitleKey: "second", Authors: []string{"John Roe"}, AuthorKeys: []string{"john roe"}},
	})
	first, _ := res.BookBySource(source.NewID(source.Source1, "b1"))
	second, _ := res.BookBySource(source.NewID(source.Source1, "b2"))

	txs := []linker.LinkedTransaction{
		{BookID: second, Date: "2024-01-05", Amount: decimal.RequireFromString("10")},
		{BookID: first, Date: "2024-01-01", Amount: decimal.RequireFromString("10")},
	}

	report := analytics.New(zap.NewNop()).Compute(res, txs, time.Now())

	require.NotNil(t, report.MostPopularAuthor)
	assert.Equal(t, "Jane Doe", report.MostPopularAuthor.Name)
}

func TestCompute_NoTransactions(t *testing.T) {
	res := newResolution(t, []normalize.CustomerRecord{
		{ID: source.NewID(source.Source1, "c1"), Name: "Alice Smith", NameKey: "alice smith"},
	}, nil)

	report := analytics.New(zap.NewNop()).Compute(res, nil, time.Now())

	assert.Empty(t, report.TopRevenueDays)
	assert.Equal(t, 1, report.UniqueCustomerCount)
	assert.Nil(t, report.MostPopularAuthor)
	assert.Nil(t, report.TopCustomer)
}
