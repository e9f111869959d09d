package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/booksight/internal/analytics"
	"github.com/smallbiznis/booksight/internal/source"
	"github.com/smallbiznis/booksight/internal/store/domain"
)

type repo struct {
	db  *gorm.DB
	log *zap.Logger
}

// Provide builds the gorm-backed storage gateway and ensures the
// advertised schema exists.
func Provide(db *gorm.DB, log *zap.Logger) (domain.Gateway, error) {
	if err := db.AutoMigrate(
		&domain.PipelineRun{},
		&domain.AnalyticsMetric{},
		&domain.BookCatalogEntry{},
		&domain.CustomerProfile{},
		&domain.TransactionRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate storage schema: %w", err)
	}
	return &repo{db: db, log: log.Named("store.repository")}, nil
}

func (r *repo) LoadExistingFingerprint(ctx context.Context) (string, error) {
	var run domain.PipelineRun
	err := r.db.WithContext(ctx).
		Order("completed_at desc, id desc").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return run.Fingerprint, nil
}

func (r *repo) SaveRun(ctx context.Context, run domain.RunArtifacts) error {
	metrics, err := metricRows(run)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	books := bookRows(run)
	customers := customerRows(run)
	transactions := transactionRows(run)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"analytics_metrics", "book_catalog", "customer_profiles", "transaction_records"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&domain.PipelineRun{
			ID:              run.RunID,
			Fingerprint:     run.Fingerprint,
			StartedAt:       run.StartedAt,
			CompletedAt:     run.CompletedAt,
			RowsSkipped:     run.RowsSkipped,
			RowsFailed:      run.RowsFailed,
			UnresolvedLinks: run.UnresolvedLinks,
		}).Error; err != nil {
			return err
		}
		if len(metrics) > 0 {
			if err := tx.Create(&metrics).Error; err != nil {
				return err
			}
		}
		if len(books) > 0 {
			if err := tx.CreateInBatches(&books, 200).Error; err != nil {
				return err
			}
		}
		if len(customers) > 0 {
			if err := tx.CreateInBatches(&customers, 200).Error; err != nil {
				return err
			}
		}
		if len(transactions) > 0 {
			if err := tx.CreateInBatches(&transactions, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) LoadMetrics(ctx context.Context) (*analytics.Report, error) {
	var rows []domain.AnalyticsMetric
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	report := &analytics.Report{}
	for _, row := range rows {
		report.ComputedAt = row.ComputedAt
		switch row.MetricKey {
		case analytics.MetricTopRevenueDays:
			if err := json.Unmarshal([]byte(row.MetricValue), &report.TopRevenueDays); err != nil {
				return nil, fmt.Errorf("decode %s: %w", row.MetricKey, err)
			}
		case analytics.MetricUniqueCustomerCount:
			n, err := strconv.Atoi(row.MetricValue)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", row.MetricKey, err)
			}
			report.UniqueCustomerCount = n
		case analytics.MetricUniqueAuthorCount:
			n, err := strconv.Atoi(row.MetricValue)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", row.MetricKey, err)
			}
			report.UniqueAuthorCount = n
		case analytics.MetricMostPopularAuthor:
			if row.MetricValue == "" {
				continue
			}
			var m analytics.AuthorMetric
			if err := json.Unmarshal([]byte(row.MetricValue), &m); err != nil {
				return nil, fmt.Errorf("decode %s: %w", row.MetricKey, err)
			}
			report.MostPopularAuthor = &m
		case analytics.MetricTopCustomer:
			if row.MetricValue == "" {
				continue
			}
			var m analytics.CustomerMetric
			if err := json.Unmarshal([]byte(row.MetricValue), &m); err != nil {
				return nil, fmt.Errorf("decode %s: %w", row.MetricKey, err)
			}
			report.TopCustomer = &m
		}
	}
	return report, nil
}

func metricRows(run domain.RunArtifacts) ([]domain.AnalyticsMetric, error) {
	report := run.Report

	days, err := json.Marshal(report.TopRevenueDays)
	if err != nil {
		return nil, err
	}
	values := map[string]string{
		analytics.MetricTopRevenueDays:      string(days),
		analytics.MetricUniqueCustomerCount: strconv.Itoa(report.UniqueCustomerCount),
		analytics.MetricUniqueAuthorCount:   strconv.Itoa(report.UniqueAuthorCount),
		analytics.MetricMostPopularAuthor:   "",
		analytics.MetricTopCustomer:         "",
	}
	if report.MostPopularAuthor != nil {
		b, err := json.Marshal(report.MostPopularAuthor)
		if err != nil {
			return nil, err
		}
		values[analytics.MetricMostPopularAuthor] = string(b)
	}
	if report.TopCustomer != nil {
		b, err := json.Marshal(report.TopCustomer)
		if err != nil {
			return nil, err
		}
		values[analytics.MetricTopCustomer] = string(b)
	}

	keys := []string{
		analytics.MetricTopRevenueDays,
		analytics.MetricUniqueCustomerCount,
		analytics.MetricUniqueAuthorCount,
		analytics.MetricMostPopularAuthor,
		analytics.MetricTopCustomer,
	}
	rows := make([]domain.AnalyticsMetric, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, domain.AnalyticsMetric{
			MetricKey:   key,
			MetricValue: values[key],
			RunID:       run.RunID,
			ComputedAt:  report.ComputedAt,
		})
	}
	return rows, nil
}

func bookRows(run domain.RunArtifacts) []domain.BookCatalogEntry {
	res := run.Resolution
	rows := make([]domain.BookCatalogEntry, 0, len(res.Books))
	for _, book := range res.Books {
		names := make([]string, 0, len(book.AuthorIDs))
		for _, aid := range book.AuthorIDs {
			if author, ok := res.AuthorByID(aid); ok {
				names = append(names, author.Name)
			}
		}
		rows = append(rows, domain.BookCatalogEntry{
			BookID:          book.ID.String(),
			Title:           book.Title,
			Authors:         strings.Join(names, ", "),
			Category:        book.Category,
			Publisher:       book.Publisher,
			PublicationYear: book.Year,
			SourceIDs:       joinSourceIDs(book.SourceIDs),
		})
	}
	return rows
}

func customerRows(run domain.RunArtifacts) []domain.CustomerProfile {
	res := run.Resolution
	rows := make([]domain.CustomerProfile, 0, len(res.Customers))
	for _, customer := range res.Customers {
		rows = append(rows, domain.CustomerProfile{
			CustomerID:      customer.ID.String(),
			Name:            customer.Name,
			Email:           customer.Email,
			Address:         customer.Address,
			Phone:           customer.Phone,
			LinkedSourceIDs: joinSourceIDs(customer.SourceIDs),
		})
	}
	return rows
}

func transactionRows(run domain.RunArtifacts) []domain.TransactionRow {
	rows := make([]domain.TransactionRow, 0, len(run.Transactions))
	for _, tx := range run.Transactions {
		rows = append(rows, domain.TransactionRow{
			SourceID:        tx.ID.String(),
			CustomerID:      tx.CustomerID.String(),
			BookID:          tx.BookID.String(),
			Quantity:        tx.Quantity,
			UnitPrice:       tx.UnitPrice,
			TotalAmount:     tx.Amount,
			TransactionDate: tx.Date,
			Currency:        tx.Currency,
		})
	}
	return rows
}

func joinSourceIDs(ids []source.ID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return strings.Join(parts, ",")
}
