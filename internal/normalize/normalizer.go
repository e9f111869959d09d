package normalize

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/smallbiznis/booksight/internal/config"
	"github.com/smallbiznis/booksight/internal/source"
)

// Normalizer maps raw rows into typed source records using the
// per-source column layouts from the matching config.
type Normalizer struct {
	matching *config.MatchingHolder
}

func New(matching *config.MatchingHolder) *Normalizer {
	return &Normalizer{matching: matching}
}

// canonical rewrites a raw row's columns into canonical field names.
// Unmapped columns are dropped here; nothing downstream ever sees raw
// column names again.
func (n *Normalizer) canonical(row source.RawRow) map[string]string {
	mapping, ok := n.matching.Get().Mapping(row.Source)
	if !ok {
		return nil
	}
	fm := mapping.ForKind(row.Kind)
	out := make(map[string]string, len(fm))
	for rawName, value := range row.Fields {
		if canonicalName, ok := fm[rawName]; ok {
			out[canonicalName] = value
		}
	}
	return out
}

// Customer normalizes one customer row. A missing id or name is a
// normalization error; everything else degrades to empty fields.
func (n *Normalizer) Customer(row source.RawRow) (CustomerRecord, *Error) {
	fields := n.canonical(row)

	id := CollapseSpaces(fields[config.FieldID])
	if id == "" {
		e := newError(row, "missing customer id")
		return CustomerRecord{}, &e
	}
	name := CollapseSpaces(fields[config.FieldName])
	if name == "" {
		e := newError(row, "missing customer name")
		return CustomerRecord{}, &e
	}

	email := CollapseSpaces(fields[config.FieldEmail])
	address := CollapseSpaces(fields[config.FieldAddress])
	phone := StandardizePhone(fields[config.FieldPhone])

	rec := CustomerRecord{
		ID:      source.NewID(row.Source, id),
		Name:    name,
		Email:   email,
		Address: address,
		Phone:   phone,

		NameKey:    Key(name),
		EmailKey:   Key(email),
		AddressKey: Key(address),
		PhoneKey:   PhoneKey(phone),
	}
	return rec, nil
}

// Transaction normalizes one order row. Customer reference, amount and
// date are required.
func (n *Normalizer) Transaction(row source.RawRow) (TransactionRecord, *Error) {
	fields := n.canonical(row)

	customerRef := CollapseSpaces(fields[config.FieldCustomerID])
	if customerRef == "" {
		e := newError(row, "missing customer reference")
		return TransactionRecord{}, &e
	}
	bookRef := CollapseSpaces(fields[config.FieldBookID])
	if bookRef == "" {
		e := newError(row, "missing book reference")
		return TransactionRecord{}, &e
	}

	quantity, err := strconv.Atoi(CollapseSpaces(fields[config.FieldQuantity]))
	if err != nil || quantity <= 0 {
		e := newError(row, "unparseable quantity")
		return TransactionRecord{}, &e
	}

	unitPrice, err := ParseMoney(fields[config.FieldUnitPrice])
	if err != nil {
		e := newError(row, "unparseable amount")
		return TransactionRecord{}, &e
	}

	date, ok := ExtractDate(fields[config.FieldDate])
	if !ok {
		e := newError(row, "unparseable date")
		return TransactionRecord{}, &e
	}

	rec := TransactionRecord{
		ID:          source.NewID(row.Source, "o"+strconv.Itoa(row.Ordinal)),
		CustomerRef: source.NewID(row.Source, customerRef),
		BookRef:     source.NewID(row.Source, bookRef),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
		Date:        date,
		Currency:    "USD",
	}
	return rec, nil
}

// Books normalizes a source's book rows as a batch. Blank publishers
// are backfilled with the source's most frequent publisher, missing or
// zero years with the source's median year.
func (n *Normalizer) Books(rows []source.RawRow) ([]BookRecord, []Error) {
	records := make([]BookRecord, 0, len(rows))
	var errs []Error

	publisherCount := map[string]int{}
	var years []int

	for _, row := range rows {
		fields := n.canonical(row)

		id := CollapseSpaces(fields[config.FieldID])
		if id == "" {
			errs = append(errs, newError(row, "missing book id"))
			continue
		}
		title := CleanTitle(fields[config.FieldTitle])
		if title == "" {
			errs = append(errs, newError(row, "missing book title"))
			continue
		}

		authors := SplitAuthors(fields[config.FieldAuthor])
		authorKeys := make([]string, len(authors))
		for i, a := range authors {
			authorKeys[i] = Key(a)
		}

		publisher := CollapseSpaces(fields[config.FieldPublisher])
		if isMissingValue(publisher) {
			publisher = ""
		} else {
			publisherCount[publisher]++
		}

		year, _ := strconv.Atoi(CollapseSpaces(fields[config.FieldYear]))
		if year > 0 {
			years = append(years, year)
		}

		records = append(records, BookRecord{
			ID:         source.NewID(row.Source, id),
			Title:      title,
			TitleKey:   Key(title),
			Authors:    authors,
			AuthorKeys: authorKeys,
			Publisher:  publisher,
			Year:       year,
			Category:   CollapseSpaces(fields[config.FieldGenre]),
		})
	}

	fallbackPublisher := modePublisher(publisherCount)
	fallbackYear := medianYear(years)
	for i := range records {
		if records[i].Publisher == "" {
			records[i].Publisher = fallbackPublisher
		}
		if records[i].Year <= 0 {
			records[i].Year = fallbackYear
		}
	}

	return records, errs
}

func isMissingValue(s string) bool {
	return s == "" || s == "NULL" || s == "null"
}

func modePublisher(counts map[string]int) string {
	best := ""
	bestCount := 0
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}
	if best == "" {
		return "Unknown"
	}
	return best
}

func medianYear(years []int) int {
	if len(years) == 0 {
		return 0
	}
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
