package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/smallbiznis/booksight/internal/source"
)

// Canonical field names produced by the normalizer. Per-source column
// layouts map onto these.
const (
	FieldID         = "id"
	FieldName       = "name"
	FieldAddress    = "address"
	FieldPhone      = "phone"
	FieldEmail      = "email"
	FieldTitle      = "title"
	FieldAuthor     = "author"
	FieldPublisher  = "publisher"
	FieldYear       = "year"
	FieldGenre      = "genre"
	FieldCustomerID = "customer_id"
	FieldBookID     = "book_id"
	FieldQuantity   = "quantity"
	FieldUnitPrice  = "unit_price"
	FieldDate       = "date"
)

// Corroborating fields accepted for the strong composite match.
const (
	CompositeAddress = "address"
	CompositePhone   = "phone"
)

// FieldMapping maps a source's raw column name to a canonical field.
type FieldMapping map[string]string

// SourceMapping enumerates one source's column layout per record kind.
type SourceMapping struct {
	Books     FieldMapping `mapstructure:"books"`
	Customers FieldMapping `mapstructure:"customers"`
	Orders    FieldMapping `mapstructure:"orders"`
}

func (m SourceMapping) ForKind(kind source.Kind) FieldMapping {
	switch kind {
	case source.KindBooks:
		return m.Books
	case source.KindCustomers:
		return m.Customers
	case source.KindOrders:
		return m.Orders
	default:
		return nil
	}
}

// MatchingConfig carries the per-deployment knobs of identity resolution:
// which field corroborates a same-name match, and how each source's raw
// columns map onto canonical fields.
type MatchingConfig struct {
	CompositeField string                   `mapstructure:"compositeField"`
	Sources        map[string]SourceMapping `mapstructure:"sources"`
}

// Mapping returns the column layout for one source tag.
func (c MatchingConfig) Mapping(tag source.Tag) (SourceMapping, bool) {
	m, ok := c.Sources[strings.ToLower(string(tag))]
	return m, ok
}

// DefaultMatchingConfig describes the three known source layouts. Column
// names differ per source; the canonical side is fixed.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		CompositeField: CompositeAddress,
		Sources: map[string]SourceMapping{
			"s1": {
				Customers: FieldMapping{"id": FieldID, "name": FieldName, "address": FieldAddress, "phone": FieldPhone, "email": FieldEmail},
				Books:     FieldMapping{"id": FieldID, "title": FieldTitle, "author": FieldAuthor, "publisher": FieldPublisher, "year": FieldYear, "genre": FieldGenre},
				Orders:    FieldMapping{"user_id": FieldCustomerID, "book_id": FieldBookID, "quantity": FieldQuantity, "unit_price": FieldUnitPrice, "timestamp": FieldDate},
			},
			"s2": {
				Customers: FieldMapping{"customer_id": FieldID, "full_name": FieldName, "addr": FieldAddress, "phone_number": FieldPhone, "email_address": FieldEmail},
				Books:     FieldMapping{"book_id": FieldID, "book_title": FieldTitle, "authors": FieldAuthor, "publisher_name": FieldPublisher, "published": FieldYear, "category": FieldGenre},
				Orders:    FieldMapping{"uid": FieldCustomerID, "book": FieldBookID, "qty": FieldQuantity, "price": FieldUnitPrice, "order_ts": FieldDate},
			},
			"s3": {
				Customers: FieldMapping{"uid": FieldID, "customer": FieldName, "street_address": FieldAddress, "contact": FieldPhone, "mail": FieldEmail},
				Books:     FieldMapping{"ref": FieldID, "name": FieldTitle, "written_by": FieldAuthor, "press": FieldPublisher, "yr": FieldYear, "shelf": FieldGenre},
				Orders:    FieldMapping{"buyer": FieldCustomerID, "item": FieldBookID, "count": FieldQuantity, "cost": FieldUnitPrice, "sold_on": FieldDate},
			},
		},
	}
}

// MatchingHolder serves the current matching config and hot-reloads it
// when the file changes. Invalid updates are ignored.
type MatchingHolder struct {
	current atomic.Value // holds MatchingConfig
}

// NewMatchingHolder reads matching.yml from the usual config paths,
// falling back to the built-in layouts when no file exists.
func NewMatchingHolder() (*MatchingHolder, error) {
	v := viper.New()

	v.SetConfigName("matching")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/booksight")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOOKSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultMatchingConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.CompositeField == "" {
		cfg.CompositeField = CompositeAddress
	}
	if err := validateMatchingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MatchingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultMatchingConfig()
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[matching-config] reload failed: %v", err)
			return
		}
		if updated.CompositeField == "" {
			updated.CompositeField = CompositeAddress
		}
		if err := validateMatchingConfig(updated); err != nil {
			log.Printf("[matching-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[matching-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticMatchingHolder wraps a fixed config, for tests.
func NewStaticMatchingHolder(cfg MatchingConfig) *MatchingHolder {
	holder := &MatchingHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *MatchingHolder) Get() MatchingConfig {
	return h.current.Load().(MatchingConfig)
}

func validateMatchingConfig(cfg MatchingConfig) error {
	switch cfg.CompositeField {
	case CompositeAddress, CompositePhone:
	default:
		return fmt.Errorf("compositeField must be %q or %q, got %q", CompositeAddress, CompositePhone, cfg.CompositeField)
	}
	if len(cfg.Sources) == 0 {
		return errors.New("sources cannot be empty")
	}
	required := map[source.Kind][]string{
		source.KindCustomers: {FieldID, FieldName},
		source.KindBooks:     {FieldID, FieldTitle, FieldAuthor},
		source.KindOrders:    {FieldCustomerID, FieldBookID, FieldQuantity, FieldUnitPrice, FieldDate},
	}
	for _, tag := range source.All() {
		mapping, ok := cfg.Mapping(tag)
		if !ok {
			return fmt.Errorf("missing mapping for source %s", tag)
		}
		for kind, fields := range required {
			fm := mapping.ForKind(kind)
			for _, want := range fields {
				if !mapsTo(fm, want) {
					return fmt.Errorf("source %s: %s mapping does not produce %q", tag, kind, want)
				}
			}
		}
	}
	return nil
}

func mapsTo(fm FieldMapping, canonical string) bool {
	for _, target := range fm {
		if target == canonical {
			return true
		}
	}
	return false
}
