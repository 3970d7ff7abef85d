// package workflow holds the data tables driving the shipment stage
// machine and the payment-request lifecycle: per-type stage sequences,
// stage guards and the allowed payment-request transitions.
package workflow

import (
	"github.com/beiralink/forwarding/internal/models"
)

// sequences maps each shipment type to its ordered stage keys. The first
// key goes in_progress at shipment creation, all others pending.
var sequences = map[models.ShipmentType][]models.StageKey{
	models.ShipmentImport: {
		models.StageColetaDispersa,
		models.StageLegalizacao,
		models.StageAlfandegas,
		models.StageCornelder,
		models.StageTaxacao,
		models.StageFaturacao,
		models.StagePOD,
	},
	models.ShipmentExport: {
		models.StageInstrucaoEmbarque,
		models.StageRecolhaCarga,
		models.StageDespachoSaida,
		models.StagePortoEmbarque,
		models.StageTaxacaoExport,
		models.StageFaturacaoExport,
		models.StageConfirmacaoEmbarque,
	},
	models.ShipmentTransit: {
		models.StageEntradaTransito,
		models.StageLegalizacaoTransito,
		models.StageDespachoTransito,
		models.StageEscolta,
		models.StageSaidaFronteira,
		models.StageFaturacaoTransito,
		models.StagePODTransito,
	},
	models.ShipmentRoadTransport: {
		models.StageCarregamento,
		models.StageEntrega,
	},
}

// Sequence returns the ordered stage keys for a shipment type, or nil for
// an unknown type.
func Sequence(t models.ShipmentType) []models.StageKey {
	seq, ok := sequences[t]
	if !ok {
		return nil
	}
	out := make([]models.StageKey, len(seq))
	copy(out, seq)
	return out
}

// NextStage returns the stage key following key in the sequence for t,
// and false when key is the last stage (or unknown).
func NextStage(t models.ShipmentType, key models.StageKey) (models.StageKey, bool) {
	seq := sequences[t]
	for i, k := range seq {
		if k == key && i+1 < len(seq) {
			return seq[i+1], true
		}
	}
	return "", false
}

// ValidStage reports whether key belongs to the sequence for t.
func ValidStage(t models.ShipmentType, key models.StageKey) bool {
	for _, k := range sequences[t] {
		if k == key {
			return true
		}
	}
	return false
}

// GuardContext carries the state a stage guard may inspect. Financially
// clear means the stage's phase has zero payment requests still pending,
// approved or in_payment.
type GuardContext struct {
	Shipment         *models.Shipment
	FinanciallyClear bool
}

// Guard checks a phase-specific business rule beyond the document
// checklist. It returns ok=false with the name of the blocking condition.
type Guard func(gc GuardContext) (ok bool, blockedBy string)

// guards is keyed by stage key. Stage keys are globally unique across
// shipment types, so no (type, key) pair is needed here.
var guards = map[models.StageKey]Guard{
	models.StageAlfandegas: func(gc GuardContext) (bool, string) {
		if gc.Shipment.CustomsStatus != models.CustomsAuthorized {
			return false, "customs_status=authorized"
		}
		return true, ""
	},
	models.StageCornelder: func(gc GuardContext) (bool, string) {
		if gc.Shipment.CornelderPaymentStatus != models.CornelderPaid {
			return false, "cornelder_payment_status=paid"
		}
		if !gc.FinanciallyClear {
			return false, "cornelder phase payment requests settled"
		}
		return true, ""
	},
	models.StageTaxacao: func(gc GuardContext) (bool, string) {
		if !gc.FinanciallyClear {
			return false, "taxacao phase payment requests settled"
		}
		return true, ""
	},
}

// CheckGuard runs the guard registered for key, if any. Stages without a
// registered guard pass by default.
func CheckGuard(key models.StageKey, gc GuardContext) (bool, string) {
	g, ok := guards[key]
	if !ok {
		return true, ""
	}
	return g(gc)
}
