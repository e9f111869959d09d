package identity

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/booksight/internal/config"
	"github.com/smallbiznis/booksight/internal/normalize"
	"github.com/smallbiznis/booksight/internal/source"
)

// Resolver partitions customer records and author mentions into
// canonical entities. Matching rules, in precedence order:
//
//  1. identical normalized email
//  2. identical normalized name plus a corroborating field (address by
//     default; phone corroborates when at least one of the matched
//     records has no address)
//  3. name alone never merges
//
// Records are bucketed by match key before any union happens, so the
// final partition is independent of input order.
type Resolver struct {
	matching *config.MatchingHolder
	log      *zap.Logger
}

func NewResolver(matching *config.MatchingHolder, log *zap.Logger) *Resolver {
	return &Resolver{
		matching: matching,
		log:      log.Named("identity.resolver"),
	}
}

// Resolve merges customer records and book records into canonical
// customers, authors and books. Singletons are valid entities, never
// errors.
func (r *Resolver) Resolve(customers []normalize.CustomerRecord, books []normalize.BookRecord) *Resolution {
	res := &Resolution{
		customerBySource: make(map[source.ID]uuid.UUID, len(customers)),
		bookBySource:     make(map[source.ID]uuid.UUID, len(books)),
	}

	r.resolveCustomers(res, customers)
	authorIDByMention := r.resolveAuthors(res, books)
	r.resolveBooks(res, books, authorIDByMention)

	res.index()
	r.log.Debug("resolution complete",
		zap.Int("customer_records", len(customers)),
		zap.Int("canonical_customers", len(res.Customers)),
		zap.Int("book_records", len(books)),
		zap.Int("canonical_books", len(res.Books)),
		zap.Int("canonical_authors", len(res.Authors)),
	)
	return res
}

func (r *Resolver) resolveCustomers(res *Resolution, input []normalize.CustomerRecord) {
	records := append([]normalize.CustomerRecord(nil), input...)
	sort.Slice(records, func(i, j int) bool { return records[i].ID.Less(records[j].ID) })

	uf := newUnionFind(len(records))
	strong := map[string][]int{}
	weak := map[string][]int{}
	lacksPrimary := make([]bool, len(records))
	for i, rec := range records {
		if rec.EmailKey != "" {
			key := "email\x1f" + rec.EmailKey
			strong[key] = append(strong[key], i)
		}
		primary, fallback := compositeKeys(rec, r.matching.Get().CompositeField)
		if primary != "" {
			strong[primary] = append(strong[primary], i)
		}
		if fallback != "" {
			weak[fallback] = append(weak[fallback], i)
			lacksPrimary[i] = primary == ""
		}
	}
	for _, members := range strong {
		for i := 1; i < len(members); i++ {
			uf.union(members[0], members[i])
		}
	}
	// The fallback field corroborates a same-name match only when at
	// least one of the matched records has no primary field.
	for _, members := range weak {
		anchor := -1
		for _, m := range members {
			if lacksPrimary[m] {
				anchor = m
				break
			}
		}
		if anchor < 0 {
			continue
		}
		for _, m := range members {
			uf.union(anchor, m)
		}
	}

	groups := uf.groups()
	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	// Records are pre-sorted, so the smallest member index is also the
	// highest-priority source id of each group.
	sort.Slice(roots, func(i, j int) bool {
		return groups[roots[i]][0] < groups[roots[j]][0]
	})

	for _, root := range roots {
		members := groups[root]
		customer := buildCustomer(records, members)
		for _, m := range members {
			res.customerBySource[records[m].ID] = customer.ID
		}
		res.Customers = append(res.Customers, customer)
	}
}

// compositeKeys builds the rule-2 match keys for a record: normalized
// name plus the primary corroborating field, and normalized name plus
// the fallback field. A record with neither value gets no keys at all
// (rule 3).
func compositeKeys(rec normalize.CustomerRecord, preferred string) (primary, fallback string) {
	if rec.NameKey == "" {
		return "", ""
	}
	primaryVal, fallbackVal := rec.AddressKey, rec.PhoneKey
	tag, fallbackTag := "addr", "phone"
	if preferred == config.CompositePhone {
		primaryVal, fallbackVal = rec.PhoneKey, rec.AddressKey
		tag, fallbackTag = "phone", "addr"
	}
	if primaryVal != "" {
		primary = "name+" + tag + "\x1f" + rec.NameKey + "\x1f" + primaryVal
	}
	if fallbackVal != "" {
		fallback = "name+" + fallbackTag + "\x1f" + rec.NameKey + "\x1f" + fallbackVal
	}
	return primary, fallback
}

// buildCustomer selects the merged profile: the most complete member
// record wins, ties go to the fixed source priority order. Empty fields
// are then backfilled from the remaining members.
func buildCustomer(records []normalize.CustomerRecord, members []int) Customer {
	best := members[0]
	for _, m := range members[1:] {
		if records[m].Completeness() > records[best].Completeness() {
			best = m
		}
	}

	customer := Customer{
		Name:    records[best].Name,
		Email:   records[best].Email,
		Address: records[best].Address,
		Phone:   records[best].Phone,
	}
	for _, m := range members {
		rec := records[m]
		if customer.Email == "" {
			customer.Email = rec.Email
		}
		if customer.Address == "" {
			customer.Address = rec.Address
		}
		if customer.Phone == "" {
			customer.Phone = rec.Phone
		}
		customer.SourceIDs = append(customer.SourceIDs, rec.ID)
	}
	sort.Slice(customer.SourceIDs, func(i, j int) bool { return customer.SourceIDs[i].Less(customer.SourceIDs[j]) })
	customer.ID = deterministicID(nsCustomer, customer.SourceIDs[0].String())
	return customer
}

// sourceAuthor is one source's view of an author name: every mention of
// the name within that source, with the set of titles it appears on.
// Mentions carry their own source ids so the author partition invariant
// holds even for co-authored books.
type sourceAuthor struct {
	name     string
	nameKey  string
	titles   map[string]bool
	mentions []source.ID
}

// resolveAuthors merges author mentions. Within one source an author
// name is a single record regardless of how many titles it appears on.
// Across sources, equal names merge when their title sets overlap; the
// union-find makes the overlap transitive. Equal names with disjoint
// title sets stay distinct.
// Returns mention id -> canonical author id for book assembly.
func (r *Resolver) resolveAuthors(res *Resolution, books []normalize.BookRecord) map[source.ID]uuid.UUID {
	records := append([]normalize.BookRecord(nil), books...)
	sort.Slice(records, func(i, j int) bool { return records[i].ID.Less(records[j].ID) })

	nodeIndex := map[string]int{}
	var nodes []*sourceAuthor
	mentionCount := 0
	for _, rec := range records {
		for i, key := range rec.AuthorKeys {
			nk := string(rec.ID.Source) + "\x1f" + key
			idx, ok := nodeIndex[nk]
			if !ok {
				idx = len(nodes)
				nodeIndex[nk] = idx
				nodes = append(nodes, &sourceAuthor{
					name:    rec.Authors[i],
					nameKey: key,
					titles:  map[string]bool{},
				})
			}
			nodes[idx].titles[rec.TitleKey] = true
			nodes[idx].mentions = append(nodes[idx].mentions, source.NewID(rec.ID.Source, rec.ID.Key+"#"+strconv.Itoa(i)))
			mentionCount++
		}
	}

	uf := newUnionFind(len(nodes))
	buckets := map[string][]int{}
	for i, n := range nodes {
		for title := range n.titles {
			key := n.nameKey + "\x1f" + title
			buckets[key] = append(buckets[key], i)
		}
	}
	for _, members := range buckets {
		for i := 1; i < len(members); i++ {
			uf.union(members[0], members[i])
		}
	}

	groups := uf.groups()
	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		return groups[roots[i]][0] < groups[roots[j]][0]
	})

	byMention := make(map[source.ID]uuid.UUID, mentionCount)
	for _, root := range roots {
		members := groups[root]
		author := Author{Name: nodes[members[0]].name}
		for _, m := range members {
			author.SourceIDs = append(author.SourceIDs, nodes[m].mentions...)
		}
		sort.Slice(author.SourceIDs, func(i, j int) bool { return author.SourceIDs[i].Less(author.SourceIDs[j]) })
		author.ID = deterministicID(nsAuthor, nodes[members[0]].nameKey+"\x1f"+author.SourceIDs[0].String())
		for _, id := range author.SourceIDs {
			byMention[id] = author.ID
		}
		res.Authors = append(res.Authors, author)
	}
	return byMention
}

// resolveBooks merges book records that share a normalized title and
// the same author set.
func (r *Resolver) resolveBooks(res *Resolution, books []normalize.BookRecord, authorIDByMention map[source.ID]uuid.UUID) {
	records := append([]normalize.BookRecord(nil), books...)
	sort.Slice(records, func(i, j int) bool { return records[i].ID.Less(records[j].ID) })

	buckets := map[string][]int{}
	order := []string{}
	for i, rec := range records {
		key := bookKey(rec)
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], i)
	}

	for _, key := range order {
		members := buckets[key]
		first := records[members[0]]
		book := Book{
			Title:     first.Title,
			Category:  first.Category,
			Publisher: first.Publisher,
			Year:      first.Year,
		}
		for _, m := range members {
			book.SourceIDs = append(book.SourceIDs, records[m].ID)
		}
		sort.Slice(book.SourceIDs, func(i, j int) bool { return book.SourceIDs[i].Less(book.SourceIDs[j]) })
		book.ID = deterministicID(nsBook, book.SourceIDs[0].String())

		seen := map[uuid.UUID]bool{}
		for i := range first.AuthorKeys {
			mention := source.NewID(first.ID.Source, first.ID.Key+"#"+strconv.Itoa(i))
			if aid, ok := authorIDByMention[mention]; ok && !seen[aid] {
				seen[aid] = true
				book.AuthorIDs = append(book.AuthorIDs, aid)
			}
		}

		for _, m := range members {
			res.bookBySource[records[m].ID] = book.ID
		}
		res.Books = append(res.Books, book)
	}
}

func bookKey(rec normalize.BookRecord) string {
	keys := append([]string(nil), rec.AuthorKeys...)
	sort.Strings(keys)
	return rec.TitleKey + "\x1f" + strings.Join(keys, ",")
}
