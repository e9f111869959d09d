package identity

import (
	"github.com/google/uuid"

	"github.com/smallbiznis/booksight/internal/source"
)

// Canonical IDs are derived from the merged partition's smallest source
// id, so reruns and input permutations produce the same identifiers.
var (
	nsCustomer = uuid.NewSHA1(uuid.NameSpaceOID, []byte("booksight/customer"))
	nsAuthor   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("booksight/author"))
	nsBook     = uuid.NewSHA1(uuid.NameSpaceOID, []byte("booksight/book"))
)

func deterministicID(ns uuid.UUID, key string) uuid.UUID {
	return uuid.NewSHA1(ns, []byte(key))
}

// Customer is the merged representation of one real-world customer.
type Customer struct {
	ID      uuid.UUID
	Name    string
	Email   string
	Address string
	Phone   string

	// SourceIDs is the full merged set, sorted. Never empty, never
	// shared with another canonical customer.
	SourceIDs []source.ID
}

// Author is the merged representation of one author name across book
// records. SourceIDs address the contributing author mentions.
type Author struct {
	ID        uuid.UUID
	Name      string
	SourceIDs []source.ID
}

// Book is the merged representation of one title.
type Book struct {
	ID        uuid.UUID
	Title     string
	Category  string
	Publisher string
	Year      int
	AuthorIDs []uuid.UUID
	SourceIDs []source.ID
}

// Resolution is the immutable output of identity resolution.
type Resolution struct {
	Customers []Customer
	Authors   []Author
	Books     []Book

	customerBySource map[source.ID]uuid.UUID
	bookBySource     map[source.ID]uuid.UUID
	customerByID     map[uuid.UUID]int
	authorByID       map[uuid.UUID]int
	bookByID         map[uuid.UUID]int
}

// CustomerBySource resolves a source-local customer reference.
func (r *Resolution) CustomerBySource(id source.ID) (uuid.UUID, bool) {
	cid, ok := r.customerBySource[id]
	return cid, ok
}

// BookBySource resolves a source-local book reference.
func (r *Resolution) BookBySource(id source.ID) (uuid.UUID, bool) {
	bid, ok := r.bookBySource[id]
	return bid, ok
}

func (r *Resolution) CustomerByID(id uuid.UUID) (Customer, bool) {
	i, ok := r.customerByID[id]
	if !ok {
		return Customer{}, false
	}
	return r.Customers[i], true
}

func (r *Resolution) AuthorByID(id uuid.UUID) (Author, bool) {
	i, ok := r.authorByID[id]
	if !ok {
		return Author{}, false
	}
	return r.Authors[i], true
}

func (r *Resolution) BookByID(id uuid.UUID) (Book, bool) {
	i, ok := r.bookByID[id]
	if !ok {
		return Book{}, false
	}
	return r.Books[i], true
}

func (r *Resolution) index() {
	r.customerByID = make(map[uuid.UUID]int, len(r.Customers))
	for i := range r.Customers {
		r.customerByID[r.Customers[i].ID] = i
	}
	r.authorByID = make(map[uuid.UUID]int, len(r.Authors))
	for i := range r.Authors {
		r.authorByID[r.Authors[i].ID] = i
	}
	r.bookByID = make(map[uuid.UUID]int, len(r.Books))
	for i := range r.Books {
		r.bookByID[r.Books[i].ID] = i
	}
}
