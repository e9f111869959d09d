package source

import (
	"fmt"
	"strings"
)

// Tag identifies one of the three raw data origins.
type Tag string

const (
	Source1 Tag = "S1"
	Source2 Tag = "S2"
	Source3 Tag = "S3"
)

// All returns the tags in fixed priority order, highest first.
func All() []Tag {
	return []Tag{Source1, Source2, Source3}
}

// Priority returns the tie-break rank of the tag. Lower wins.
func (t Tag) Priority() int {
	switch t {
	case Source1:
		return 0
	case Source2:
		return 1
	case Source3:
		return 2
	default:
		return 3
	}
}

func (t Tag) String() string {
	return string(t)
}

// ParseTag accepts the canonical tag spelling in any casing.
func ParseTag(raw string) (Tag, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "S1":
		return Source1, nil
	case "S2":
		return Source2, nil
	case "S3":
		return Source3, nil
	default:
		return "", fmt.Errorf("unknown source tag %q", raw)
	}
}

// Kind discriminates the record families a source ships.
type Kind string

const (
	KindBooks     Kind = "books"
	KindCustomers Kind = "customers"
	KindOrders    Kind = "orders"
)

// ID addresses a record inside a single source.
type ID struct {
	Source Tag    `json:"source"`
	Key    string `json:"key"`
}

func NewID(tag Tag, key string) ID {
	return ID{Source: tag, Key: key}
}

func (id ID) String() string {
	return string(id.Source) + ":" + id.Key
}

// Less orders IDs by source priority then key, giving every merged set a
// stable representative.
func (id ID) Less(other ID) bool {
	if id.Source != other.Source {
		return id.Source.Priority() < other.Source.Priority()
	}
	return id.Key < other.Key
}

// RawRow is a source-tagged, untyped row as loaded from disk. It only
// lives until normalization.
type RawRow struct {
	Source  Tag
	Kind    Kind
	Ordinal int
	Fields  map[string]string
}
