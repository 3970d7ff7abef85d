package workflow

import (
	"testing"

	"github.com/beiralink/forwarding/internal/models"
)

func TestSequenceLengths(t *testing.T) {
	cases := map[models.ShipmentType]int{
		models.ShipmentImport:        7,
		models.ShipmentExport:        7,
		models.ShipmentTransit:       7,
		models.ShipmentRoadTransport: 2,
	}
	for st, want := range cases {
		if got := len(Sequence(st)); got != want {
			t.Fatalf("sequence for %s has %d stages, want %d", st, got, want)
		}
	}
	if Sequence(models.ShipmentType("air_freight")) != nil {
		t.Fatalf("unknown type should have no sequence")
	}
}

func TestSequenceReturnsCopy(t *testing.T) {
	seq := Sequence(models.ShipmentImport)
	seq[0] = "tampered"
	if Sequence(models.ShipmentImport)[0] != models.StageColetaDispersa {
		t.Fatalf("caller mutation leaked into the sequence table")
	}
}

func TestStageKeysGloballyUnique(t *testing.T) {
	seen := map[models.StageKey]models.ShipmentType{}
	for st := range sequences {
		for _, key := range sequences[st] {
			if prev, dup := seen[key]; dup {
				t.Fatalf("stage key %s appears in both %s and %s", key, prev, st)
			}
			seen[key] = st
		}
	}
}

func TestNextStage(t *testing.T) {
	next, ok := NextStage(models.ShipmentImport, models.StageColetaDispersa)
	if !ok || next != models.StageLegalizacao {
		t.Fatalf("next after coleta_dispersa = %s (%v)", next, ok)
	}
	if _, ok := NextStage(models.ShipmentImport, models.StagePOD); ok {
		t.Fatalf("final stage must have no successor")
	}
	if _, ok := NextStage(models.ShipmentImport, models.StageEntrega); ok {
		t.Fatalf("stage from another type must have no successor")
	}
}

func TestValidStage(t *testing.T) {
	if !ValidStage(models.ShipmentImport, models.StageCornelder) {
		t.Fatalf("cornelder should be valid for import")
	}
	if ValidStage(models.ShipmentExport, models.StageCornelder) {
		t.Fatalf("cornelder should not be valid for export")
	}
}

func TestGuards(t *testing.T) {
	base := func() *models.Shipment {
		return &models.Shipment{Type: models.ShipmentImport}
	}

	t.Run("alfandegas requires customs authorization", func(t *testing.T) {
		sh := base()
		if ok, blockedBy := CheckGuard(models.StageAlfandegas, GuardContext{Shipment: sh, FinanciallyClear: true}); ok || blockedBy == "" {
			t.Fatalf("expected guard failure, got ok=%v blockedBy=%q", ok, blockedBy)
		}
		sh.CustomsStatus = models.CustomsAuthorized
		if ok, _ := CheckGuard(models.StageAlfandegas, GuardContext{Shipment: sh, FinanciallyClear: true}); !ok {
			t.Fatalf("guard should pass once customs is authorized")
		}
	})

	t.Run("cornelder requires payment flag and clear phase", func(t *testing.T) {
		sh := base()
		sh.CornelderPaymentStatus = models.CornelderPaid
		if ok, _ := CheckGuard(models.StageCornelder, GuardContext{Shipment: sh, FinanciallyClear: false}); ok {
			t.Fatalf("guard should fail while phase payments are outstanding")
		}
		if ok, _ := CheckGuard(models.StageCornelder, GuardContext{Shipment: sh, FinanciallyClear: true}); !ok {
			t.Fatalf("guard should pass with flag set and phase clear")
		}
	})

	t.Run("taxacao requires clear phase only", func(t *testing.T) {
		if ok, _ := CheckGuard(models.StageTaxacao, GuardContext{Shipment: base(), FinanciallyClear: false}); ok {
			t.Fatalf("guard should fail while phase payments are outstanding")
		}
		if ok, _ := CheckGuard(models.StageTaxacao, GuardContext{Shipment: base(), FinanciallyClear: true}); !ok {
			t.Fatalf("guard should pass with phase clear")
		}
	})

	t.Run("unguarded stages pass", func(t *testing.T) {
		if ok, _ := CheckGuard(models.StageLegalizacao, GuardContext{Shipment: base()}); !ok {
			t.Fatalf("stage without a registered guard must pass")
		}
	})
}
