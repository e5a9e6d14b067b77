// Package settlement commits matched payments against invoices and keeps the
// monetary invariants of the reconciliation core: every cent of a transaction
// is either allocated to an invoice, routed to a credit balance, or left
// unallocated and reported.
package settlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/billing"
)

// MatchType classifies how a payment relates to the invoice outstanding.
type MatchType string

const (
	MatchExact       MatchType = "EXACT"
	MatchPartial     MatchType = "PARTIAL"
	MatchOverpayment MatchType = "OVERPAYMENT"
	MatchManual      MatchType = "MANUAL"
)

// ActorKind distinguishes human-confirmed from system-applied settlements.
type ActorKind string

const (
	ActorHuman  ActorKind = "HUMAN"
	ActorSystem ActorKind = "SYSTEM"
)

// Actor identifies who confirmed a settlement.
type Actor struct {
	Kind ActorKind
	ID   string
}

// Payment is the durable settlement record linking one transaction to one
// invoice. Rows are never deleted; a reversal only flips the reversed flag.
type Payment struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	TransactionID  uuid.UUID
	InvoiceID      uuid.UUID
	AmountCents    int64
	Date           time.Time
	Reference      string
	MatchType      MatchType
	MatchedBy      ActorKind
	MatchedByID    string
	Confidence     *float64
	Reversed       bool
	ReversedAt     *time.Time
	ReversalReason string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllocationLine requests applying part of a transaction to one invoice.
type AllocationLine struct {
	InvoiceID   uuid.UUID
	AmountCents int64
}

// AllocationRequest asks the engine to settle a transaction against one or
// more invoices as a single atomic unit.
type AllocationRequest struct {
	TenantID      uuid.UUID
	TransactionID uuid.UUID
	Lines         []AllocationLine
	Actor         Actor
	Reference     string
}

// AllocationResult reports what a committed allocation produced.
type AllocationResult struct {
	Payments         []Payment
	InvoicesUpdated  []billing.Invoice
	CreditBalances   []billing.CreditBalance
	UnallocatedCents int64
}
