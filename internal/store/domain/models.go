package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PipelineRun records one completed pipeline run and its input
// fingerprint. The newest row gates reprocessing.
type PipelineRun struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	Fingerprint     string       `gorm:"not null;index"`
	StartedAt       time.Time    `gorm:"not null"`
	CompletedAt     time.Time    `gorm:"not null"`
	RowsSkipped     int          `gorm:"not null;default:0"`
	RowsFailed      int          `gorm:"not null;default:0"`
	UnresolvedLinks int          `gorm:"not null;default:0"`
}

func (PipelineRun) TableName() string { return "pipeline_runs" }

// AnalyticsMetric is one named dashboard metric. Values are JSON or
// plain scalars depending on the key.
type AnalyticsMetric struct {
	MetricKey   string       `gorm:"primaryKey;size:100"`
	MetricValue string       `gorm:"type:text;not null"`
	RunID       snowflake.ID `gorm:"not null"`
	ComputedAt  time.Time    `gorm:"not null"`
}

func (AnalyticsMetric) TableName() string { return "analytics_metrics" }

// BookCatalogEntry is one canonical book.
type BookCatalogEntry struct {
	BookID          string `gorm:"primaryKey;size:36"`
	Title           string `gorm:"not null"`
	Authors         string
	Category        string
	Publisher       string
	PublicationYear int
	SourceIDs       string `gorm:"column:linked_source_ids"`
}

func (BookCatalogEntry) TableName() string { return "book_catalog" }

// CustomerProfile is one canonical customer with its merged source ids.
type CustomerProfile struct {
	CustomerID      string `gorm:"primaryKey;size:36"`
	Name            string `gorm:"not null"`
	Email           string
	Address         string
	Phone           string
	LinkedSourceIDs string `gorm:"column:linked_source_ids"`
}

func (CustomerProfile) TableName() string { return "customer_profiles" }

// TransactionRow is one linked transaction with resolved references.
type TransactionRow struct {
	SourceID        string          `gorm:"primaryKey;size:64"`
	CustomerID      string          `gorm:"not null;size:36;index"`
	BookID          string          `gorm:"not null;size:36;index"`
	Quantity        int             `gorm:"not null"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	TransactionDate string          `gorm:"size:10;not null"`
	Currency        string          `gorm:"size:3;not null"`
}

func (TransactionRow) TableName() string { return "transaction_records" }
