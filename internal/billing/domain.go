// Package billing holds invoice and credit-balance records for tenant accounts.
package billing

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "DRAFT"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusPaid          InvoiceStatus = "PAID"
	StatusVoid          InvoiceStatus = "VOID"
)

// Invoice is a billable document raised against a parent account for a child's
// enrolment period. Monetary fields are ZAR minor units.
type Invoice struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Number      string
	AccountID   uuid.UUID
	ChildID     *uuid.UUID
	ParentName  string
	ChildName   string
	TotalCents  int64
	PaidCents   int64
	Status      InvoiceStatus
	DueDate     time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutstandingCents is the amount still owed on the invoice.
func (i *Invoice) OutstandingCents() int64 {
	return i.TotalCents - i.PaidCents
}

// CreditBalance is residual value created when a payment exceeds what an
// invoice owed. It is owned by the parent account and consumable against
// future invoices.
type CreditBalance struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	AccountID       uuid.UUID
	SourcePaymentID uuid.UUID
	AmountCents     int64
	Reason          string
	CreatedAt       time.Time
}
