package normalize

import (
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/booksight/internal/source"
)

// CustomerRecord is a customer row after normalization, prior to
// cross-source merging. Display forms keep the original spelling;
// *Key fields are the comparison forms.
type CustomerRecord struct {
	ID      source.ID
	Name    string
	Email   string
	Address string
	Phone   string

	NameKey    string
	EmailKey   string
	AddressKey string
	PhoneKey   string
}

// Completeness counts the non-empty profile fields. Used to pick the
// display profile of a merged customer.
func (r CustomerRecord) Completeness() int {
	n := 0
	for _, v := range []string{r.Name, r.Email, r.Address, r.Phone} {
		if v != "" {
			n++
		}
	}
	return n
}

// BookRecord is a book row after normalization.
type BookRecord struct {
	ID         source.ID
	Title      string
	TitleKey   string
	Authors    []string
	AuthorKeys []string
	Publisher  string
	Year       int
	Category   string
}

// TransactionRecord is an order row after normalization. References are
// source-local: they point at records of the same source.
type TransactionRecord struct {
	ID          source.ID
	CustomerRef source.ID
	BookRef     source.ID
	Quantity    int
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	Date        string // YYYY-MM-DD
	Currency    string
}

// Error records one row that could not be normalized. The run continues
// without it.
type Error struct {
	Source  source.Tag
	Kind    source.Kind
	Ordinal int
	Reason  string
	Row     map[string]string
}

func newError(row source.RawRow, reason string) Error {
	return Error{
		Source:  row.Source,
		Kind:    row.Kind,
		Ordinal: row.Ordinal,
		Reason:  reason,
		Row:     row.Fields,
	}
}
