// package checklist implements the document gate: a pure evaluation of
// which document types a stage requires and which of them the shipment's
// document ledger already satisfies.
//
// The required-set table is the single source of truth for what blocks a
// stage. Adding a process variant means adding table rows, not code.
package checklist

import (
	"github.com/beiralink/forwarding/internal/models"
)

// Item is one checklist entry for a stage.
type Item struct {
	DocType   models.DocumentType `json:"docType"`
	Label     string              `json:"label"`
	Required  bool                `json:"required"`
	Satisfied bool                `json:"satisfied"`
}

type requirement struct {
	docType  models.DocumentType
	label    string
	required bool
}

type tableKey struct {
	shipmentType models.ShipmentType
	stage        models.StageKey
}

var table = map[tableKey][]requirement{
	// Import
	{models.ShipmentImport, models.StageColetaDispersa}: {
		{models.DocBLOriginal, "Original bill of lading", true},
		{models.DocPackingList, "Packing list", false},
	},
	{models.ShipmentImport, models.StageLegalizacao}: {
		{models.DocBLCarimbado, "Stamped bill of lading", true},
		{models.DocDeliveryOrder, "Delivery order", true},
	},
	{models.ShipmentImport, models.StageAlfandegas}: {
		{models.DocCustomsDeclaration, "Customs declaration (DU)", true},
		{models.DocCommercialInvoice, "Commercial invoice", false},
	},
	{models.ShipmentImport, models.StageCornelder}: {
		{models.DocStorageInvoice, "Terminal storage invoice", true},
	},
	{models.ShipmentImport, models.StageTaxacao}: {
		{models.DocTaxationNote, "Taxation note", true},
	},
	{models.ShipmentImport, models.StageFaturacao}: {},
	{models.ShipmentImport, models.StagePOD}: {
		{models.DocPOD, "Proof of delivery", true},
	},

	// Export
	{models.ShipmentExport, models.StageInstrucaoEmbarque}: {
		{models.DocBookingConfirm, "Booking confirmation", true},
	},
	{models.ShipmentExport, models.StageRecolhaCarga}: {
		{models.DocPackingList, "Packing list", true},
		{models.DocCommercialInvoice, "Commercial invoice", true},
	},
	{models.ShipmentExport, models.StageDespachoSaida}: {
		{models.DocExportDeclaration, "Export declaration", true},
	},
	{models.ShipmentExport, models.StagePortoEmbarque}: {
		{models.DocStorageInvoice, "Terminal storage invoice", false},
	},
	{models.ShipmentExport, models.StageTaxacaoExport}: {
		{models.DocTaxationNote, "Taxation note", true},
	},
	{models.ShipmentExport, models.StageFaturacaoExport}: {},
	{models.ShipmentExport, models.StageConfirmacaoEmbarque}: {
		{models.DocBLOriginal, "Shipped-on-board bill of lading", true},
	},

	// Transit
	{models.ShipmentTransit, models.StageEntradaTransito}: {
		{models.DocBLOriginal, "Original bill of lading", true},
	},
	{models.ShipmentTransit, models.StageLegalizacaoTransito}: {
		{models.DocBLCarimbado, "Stamped bill of lading", true},
		{models.DocDeliveryOrder, "Delivery order", true},
	},
	{models.ShipmentTransit, models.StageDespachoTransito}: {
		{models.DocTransitDeclaration, "Transit declaration", true},
	},
	{models.ShipmentTransit, models.StageEscolta}: {
		{models.DocEscortAuth, "Escort authorization", true},
	},
	{models.ShipmentTransit, models.StageSaidaFronteira}: {
		{models.DocBorderExit, "Border exit note", true},
	},
	{models.ShipmentTransit, models.StageFaturacaoTransito}: {},
	{models.ShipmentTransit, models.StagePODTransito}: {
		{models.DocPOD, "Proof of delivery", true},
	},

	// Road transport
	{models.ShipmentRoadTransport, models.StageCarregamento}: {
		{models.DocCMR, "CMR consignment note", true},
		{models.DocPackingList, "Packing list", false},
	},
	{models.ShipmentRoadTransport, models.StageEntrega}: {
		{models.DocPOD, "Proof of delivery", true},
	},
}

// Evaluate returns the checklist for a stage given the shipment's
// documents. A document type is satisfied the moment any document of
// that type exists, regardless of upload order; re-uploading the same
// type never un-satisfies it. Pure: no side effects, stable output for
// identical input.
func Evaluate(t models.ShipmentType, stage models.StageKey, docs []models.Document) []Item {
	reqs := table[tableKey{t, stage}]
	present := make(map[models.DocumentType]bool, len(docs))
	for _, d := range docs {
		present[d.Type] = true
	}
	items := make([]Item, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, Item{
			DocType:   r.docType,
			Label:     r.label,
			Required:  r.required,
			Satisfied: present[r.docType],
		})
	}
	return items
}

// CanAdvance reports whether every required item for the stage is
// satisfied. When it returns false, blockedBy names the first missing
// required document type.
func CanAdvance(t models.ShipmentType, stage models.StageKey, docs []models.Document) (ok bool, blockedBy string) {
	for _, item := range Evaluate(t, stage, docs) {
		if item.Required && !item.Satisfied {
			return false, string(item.DocType)
		}
	}
	return true, ""
}

// Known reports whether the table has a row for (t, stage). Stages with
// an empty requirement list are known and always advance.
func Known(t models.ShipmentType, stage models.StageKey) bool {
	_, ok := table[tableKey{t, stage}]
	return ok
}
