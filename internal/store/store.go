// package store defines the persistence abstraction used by the
// orchestrator and its Postgres and in-memory implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/beiralink/forwarding/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ProgressFlag names one of the shipment progress-flag columns.
type ProgressFlag string

const (
	FlagQuotationStatus        ProgressFlag = "quotation_status"
	FlagCustomsStatus          ProgressFlag = "customs_status"
	FlagCornelderPaymentStatus ProgressFlag = "cornelder_payment_status"
)

// Valid reports whether f is a known progress flag.
func (f ProgressFlag) Valid() bool {
	switch f {
	case FlagQuotationStatus, FlagCustomsStatus, FlagCornelderPaymentStatus:
		return true
	}
	return false
}

// Store is the persistence interface the orchestrator writes through.
// All mutating orchestrator operations run inside RunInTx; the Store
// passed to the callback is scoped to that transaction and every write
// either commits as a whole or rolls back as a whole.
type Store interface {
	// RunInTx executes fn within one transaction. On a non-nil error
	// from fn, all writes roll back and the error is returned unchanged.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	CreateShipment(ctx context.Context, in ShipmentInput) (models.Shipment, error)
	GetShipment(ctx context.Context, id uuid.UUID) (models.Shipment, error)
	// GetShipmentForUpdate locks the shipment row for the remainder of
	// the transaction, serializing concurrent mutations per shipment.
	GetShipmentForUpdate(ctx context.Context, id uuid.UUID) (models.Shipment, error)
	UpdateShipmentStatus(ctx context.Context, id uuid.UUID, status models.ShipmentStatus) error
	SetShipmentFlag(ctx context.Context, id uuid.UUID, flag ProgressFlag, value string) error
	ListShipments(ctx context.Context, limit, offset int) ([]models.Shipment, error)

	CreateStage(ctx context.Context, in StageInput) (models.Stage, error)
	ListStages(ctx context.Context, shipmentID uuid.UUID) ([]models.Stage, error)
	UpdateStage(ctx context.Context, in StageUpdate) (models.Stage, error)

	InsertDocument(ctx context.Context, in DocumentInput) (models.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (models.Document, error)
	ListDocuments(ctx context.Context, shipmentID uuid.UUID) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	InsertPaymentRequest(ctx context.Context, in PaymentRequestInput) (models.PaymentRequest, error)
	GetPaymentRequest(ctx context.Context, id uuid.UUID) (models.PaymentRequest, error)
	ListPaymentRequests(ctx context.Context, shipmentID uuid.UUID) ([]models.PaymentRequest, error)
	UpdatePaymentRequest(ctx context.Context, in PaymentRequestUpdate) (models.PaymentRequest, error)

	InsertActivity(ctx context.Context, in ActivityInput) (models.Activity, error)
	ListActivities(ctx context.Context, shipmentID uuid.UUID) ([]models.Activity, error)

	Ping(ctx context.Context) error
}

type ShipmentInput struct {
	ID          uuid.UUID
	Type        models.ShipmentType
	Status      models.ShipmentStatus
	Reference   string
	Origin      string
	Destination string
	Cargo       string
	ClientName  string
	CreatedBy   string
}

type StageInput struct {
	ID         uuid.UUID
	ShipmentID uuid.UUID
	Key        models.StageKey
	Position   int
	Status     models.StageStatus
	StartedAt  *time.Time
}

// StageUpdate mutates one stage. Nil pointer fields are left unchanged.
type StageUpdate struct {
	ID          uuid.UUID
	Status      models.StageStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Metadata    json.RawMessage
	UpdatedBy   string
}

type DocumentInput struct {
	ID         uuid.UUID
	ShipmentID uuid.UUID
	Type       models.DocumentType
	FileName   string
	Path       string
	Size       int64
	UploadedBy string
	Metadata   json.RawMessage
}

type PaymentRequestInput struct {
	ID             uuid.UUID
	ShipmentID     uuid.UUID
	Phase          models.StageKey
	ExpenseType    string
	Payee          string
	Amount         string
	Currency       string
	Status         models.PaymentRequestStatus
	QuotationDocID *uuid.UUID
	RequestedBy    string
}

// PaymentRequestUpdate advances one payment request. Status is always
// written; pointer fields are written only when non-nil.
type PaymentRequestUpdate struct {
	ID                uuid.UUID
	Status            models.PaymentRequestStatus
	ApprovedBy        *string
	PaidBy            *string
	RejectionReason   *string
	ProofDocID        *uuid.UUID
	ReceiptDocID      *uuid.UUID
	ApprovedAt        *time.Time
	RejectedAt        *time.Time
	CancelledAt       *time.Time
	PaymentStartedAt  *time.Time
	PaymentDate       *time.Time
	PaidAt            *time.Time
	ReceiptAttachedAt *time.Time
}

type ActivityInput struct {
	ID          uuid.UUID
	ShipmentID  uuid.UUID
	ActorID     string
	ActorName   string
	Action      string
	Description string
	Metadata    json.RawMessage
}

func ensureJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}
