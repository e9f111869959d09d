package linker

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smallbiznis/booksight/internal/identity"
	"github.com/smallbiznis/booksight/internal/normalize"
	"github.com/smallbiznis/booksight/internal/source"
)

// LinkedTransaction is a transaction whose references resolved to
// canonical entities.
type LinkedTransaction struct {
	ID         source.ID
	CustomerID uuid.UUID
	BookID     uuid.UUID
	Quantity   int
	UnitPrice  decimal.Decimal
	Amount     decimal.Decimal
	Date       string
	Currency   string
}

// Unresolved records one transaction whose customer or book reference
// could not be resolved. Counted, never fatal.
type Unresolved struct {
	ID     source.ID
	Ref    source.ID
	Reason string
}

// Linker resolves transaction references through the source-id
// membership of canonical entities.
type Linker struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Linker {
	return &Linker{log: log.Named("linker")}
}

func (l *Linker) Link(txs []normalize.TransactionRecord, res *identity.Resolution) ([]LinkedTransaction, []Unresolved) {
	linked := make([]LinkedTransaction, 0, len(txs))
	var unresolved []Unresolved

	for _, tx := range txs {
		customerID, ok := res.CustomerBySource(tx.CustomerRef)
		if !ok {
			unresolved = append(unresolved, Unresolved{ID: tx.ID, Ref: tx.CustomerRef, Reason: "unknown customer reference"})
			continue
		}
		bookID, ok := res.BookBySource(tx.BookRef)
		if !ok {
			unresolved = append(unresolved, Unresolved{ID: tx.ID, Ref: tx.BookRef, Reason: "unknown book reference"})
			continue
		}
		linked = append(linked, LinkedTransaction{
			ID:         tx.ID,
			CustomerID: customerID,
			BookID:     bookID,
			Quantity:   tx.Quantity,
			UnitPrice:  tx.UnitPrice,
			Amount:     tx.Amount,
			Date:       tx.Date,
			Currency:   tx.Currency,
		})
	}

	if len(unresolved) > 0 {
		l.log.Warn("transactions excluded from aggregation", zap.Int("unresolved", len(unresolved)))
	}
	return linked, unresolved
}
