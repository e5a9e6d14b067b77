// Package ledger holds the immutable bank-feed transaction records that the
// reconciliation core matches against invoices.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is a bank-ledger entry imported by bank-feed ingestion.
// Amounts are ZAR minor units. The core never mutates a transaction except
// to set the reversal link.
type Transaction struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	AmountCents int64
	Date        time.Time
	Reference   string
	Description string
	PayeeName   string
	IsCredit    bool
	ReversalOf  *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
