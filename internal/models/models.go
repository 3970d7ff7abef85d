// package models contains the canonical domain types shared by the
// forwarding workflow core: shipments, stages, documents, payment
// requests and activity records.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ShipmentType identifies which operational process a shipment follows.
type ShipmentType string

const (
	ShipmentImport        ShipmentType = "import"
	ShipmentExport        ShipmentType = "export"
	ShipmentTransit       ShipmentType = "transit"
	ShipmentRoadTransport ShipmentType = "road_transport"
)

// Valid reports whether t is one of the known shipment types.
func (t ShipmentType) Valid() bool {
	switch t {
	case ShipmentImport, ShipmentExport, ShipmentTransit, ShipmentRoadTransport:
		return true
	}
	return false
}

// ShipmentStatus is the overall lifecycle status of a shipment. Intake
// creates the shipment active with its full stage set; there is no
// observable pre-active state.
type ShipmentStatus string

const (
	ShipmentActive    ShipmentStatus = "active"
	ShipmentCompleted ShipmentStatus = "completed"
	ShipmentCancelled ShipmentStatus = "cancelled"
	ShipmentBlocked   ShipmentStatus = "blocked"
)

// StageKey names one phase of a shipment's type-specific sequence.
type StageKey string

// Import sequence.
const (
	StageColetaDispersa StageKey = "coleta_dispersa"
	StageLegalizacao    StageKey = "legalizacao"
	StageAlfandegas     StageKey = "alfandegas"
	StageCornelder      StageKey = "cornelder"
	StageTaxacao        StageKey = "taxacao"
	StageFaturacao      StageKey = "faturacao"
	StagePOD            StageKey = "pod"
)

// Export sequence.
const (
	StageInstrucaoEmbarque   StageKey = "instrucao_embarque"
	StageRecolhaCarga        StageKey = "recolha_carga"
	StageDespachoSaida       StageKey = "despacho_saida"
	StagePortoEmbarque       StageKey = "porto_embarque"
	StageTaxacaoExport       StageKey = "taxacao_export"
	StageFaturacaoExport     StageKey = "faturacao_export"
	StageConfirmacaoEmbarque StageKey = "confirmacao_embarque"
)

// Transit sequence.
const (
	StageEntradaTransito     StageKey = "entrada_transito"
	StageLegalizacaoTransito StageKey = "legalizacao_transito"
	StageDespachoTransito    StageKey = "despacho_transito"
	StageEscolta             StageKey = "escolta"
	StageSaidaFronteira      StageKey = "saida_fronteira"
	StageFaturacaoTransito   StageKey = "faturacao_transito"
	StagePODTransito         StageKey = "pod_transito"
)

// Road transport sequence.
const (
	StageCarregamento StageKey = "carregamento"
	StageEntrega      StageKey = "entrega"
)

// StageStatus is the lifecycle status of a single stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageBlocked    StageStatus = "blocked"
)

// DocumentType is the semantic kind of an uploaded artifact.
type DocumentType string

const (
	DocBLOriginal         DocumentType = "bl_original"
	DocBLCarimbado        DocumentType = "bl_carimbado"
	DocDeliveryOrder      DocumentType = "delivery_order"
	DocCustomsDeclaration DocumentType = "customs_declaration"
	DocStorageInvoice     DocumentType = "storage_invoice"
	DocTaxationNote       DocumentType = "taxation_note"
	DocPOD                DocumentType = "pod"
	DocPackingList        DocumentType = "packing_list"
	DocCommercialInvoice  DocumentType = "commercial_invoice"
	DocBookingConfirm     DocumentType = "booking_confirmation"
	DocExportDeclaration  DocumentType = "export_declaration"
	DocTransitDeclaration DocumentType = "transit_declaration"
	DocEscortAuth         DocumentType = "escort_authorization"
	DocBorderExit         DocumentType = "border_exit_note"
	DocCMR                DocumentType = "cmr"
	DocQuotation          DocumentType = "quotation"
	DocPaymentProof       DocumentType = "payment_proof"
	DocReceipt            DocumentType = "receipt"
)

// Valid reports whether d is one of the known document types.
func (d DocumentType) Valid() bool {
	switch d {
	case DocBLOriginal, DocBLCarimbado, DocDeliveryOrder, DocCustomsDeclaration,
		DocStorageInvoice, DocTaxationNote, DocPOD, DocPackingList,
		DocCommercialInvoice, DocBookingConfirm, DocExportDeclaration,
		DocTransitDeclaration, DocEscortAuth, DocBorderExit, DocCMR,
		DocQuotation, DocPaymentProof, DocReceipt:
		return true
	}
	return false
}

// PaymentRequestStatus is the lifecycle status of a funding request.
// Transitions only move forward along the path defined in the workflow
// package; rejected and cancelled are terminal.
type PaymentRequestStatus string

const (
	PaymentPending   PaymentRequestStatus = "pending"
	PaymentApproved  PaymentRequestStatus = "approved"
	PaymentRejected  PaymentRequestStatus = "rejected"
	PaymentCancelled PaymentRequestStatus = "cancelled"
	PaymentInPayment PaymentRequestStatus = "in_payment"
	PaymentPaid      PaymentRequestStatus = "paid"
)

// Terminal reports whether the status admits no further transitions.
func (s PaymentRequestStatus) Terminal() bool {
	return s == PaymentRejected || s == PaymentCancelled || s == PaymentPaid
}

// FlagStatus values used by the shipment progress flags.
const (
	CustomsAuthorized      = "authorized"
	CornelderPaid          = "paid"
	QuotationAcceptedValue = "accepted"
)

// Shipment is the aggregation root. It exclusively owns its Stages and
// owns Documents, PaymentRequests and Activities; those reference each
// other only by id.
type Shipment struct {
	ID          uuid.UUID      `json:"id"`
	Type        ShipmentType   `json:"type"`
	Status      ShipmentStatus `json:"status"`
	Reference   string         `json:"reference"`
	Origin      string         `json:"origin"`
	Destination string         `json:"destination"`
	Cargo       string         `json:"cargo"`
	ClientName  string         `json:"clientName"`

	// Progress flags. Mirrors of phase-specific sub-state, written only
	// through the orchestrator's SetProgressFlag.
	QuotationStatus        string `json:"quotationStatus"`
	CustomsStatus          string `json:"customsStatus"`
	CornelderPaymentStatus string `json:"cornelderPaymentStatus"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stage is one phase instance for one shipment. The full ordered set is
// created when the shipment is created; stages are never deleted.
type Stage struct {
	ID          uuid.UUID       `json:"id"`
	ShipmentID  uuid.UUID       `json:"shipmentId"`
	Key         StageKey        `json:"key"`
	Position    int             `json:"position"`
	Status      StageStatus     `json:"status"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	UpdatedBy   string          `json:"updatedBy,omitempty"`
}

// Document is an uploaded artifact. Immutable once created except for
// deletion, which reverses any checklist satisfaction it provided.
type Document struct {
	ID         uuid.UUID       `json:"id"`
	ShipmentID uuid.UUID       `json:"shipmentId"`
	Type       DocumentType    `json:"type"`
	FileName   string          `json:"fileName"`
	Path       string          `json:"path"`
	Size       int64           `json:"size"`
	UploadedBy string          `json:"uploadedBy"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// PaymentRequest is a funding request tied to exactly one shipment and
// one phase key. Document references are weak lookups by id, never
// ownership.
type PaymentRequest struct {
	ID          uuid.UUID            `json:"id"`
	ShipmentID  uuid.UUID            `json:"shipmentId"`
	Phase       StageKey             `json:"phase"`
	ExpenseType string               `json:"expenseType"`
	Payee       string               `json:"payee"`
	Amount      string               `json:"amount"`
	Currency    string               `json:"currency"`
	Status      PaymentRequestStatus `json:"status"`

	QuotationDocID *uuid.UUID `json:"quotationDocId,omitempty"`
	ProofDocID     *uuid.UUID `json:"proofDocId,omitempty"`
	ReceiptDocID   *uuid.UUID `json:"receiptDocId,omitempty"`

	RequestedBy     string `json:"requestedBy"`
	ApprovedBy      string `json:"approvedBy,omitempty"`
	PaidBy          string `json:"paidBy,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`

	RequestedAt       time.Time  `json:"requestedAt"`
	ApprovedAt        *time.Time `json:"approvedAt,omitempty"`
	RejectedAt        *time.Time `json:"rejectedAt,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
	PaymentStartedAt  *time.Time `json:"paymentStartedAt,omitempty"`
	PaymentDate       *time.Time `json:"paymentDate,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
	ReceiptAttachedAt *time.Time `json:"receiptAttachedAt,omitempty"`
}

// Activity is an immutable audit record written as a side effect of every
// successful state transition.
type Activity struct {
	ID          uuid.UUID       `json:"id"`
	ShipmentID  uuid.UUID       `json:"shipmentId"`
	ActorID     string          `json:"actorId"`
	ActorName   string          `json:"actorName,omitempty"`
	Action      string          `json:"action"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewUUID returns a freshly-generated UUID.
func NewUUID() uuid.UUID {
	return uuid.New()
}
