package checklist

import (
	"testing"

	"github.com/beiralink/forwarding/internal/models"
	"github.com/beiralink/forwarding/internal/workflow"
)

func doc(t models.DocumentType) models.Document {
	return models.Document{ID: models.NewUUID(), Type: t}
}

func TestCanAdvance(t *testing.T) {
	cases := []struct {
		name      string
		shipType  models.ShipmentType
		stage     models.StageKey
		docs      []models.Document
		want      bool
		blockedBy string
	}{
		{
			name:      "import first stage missing bl",
			shipType:  models.ShipmentImport,
			stage:     models.StageColetaDispersa,
			want:      false,
			blockedBy: "bl_original",
		},
		{
			name:     "import first stage with bl",
			shipType: models.ShipmentImport,
			stage:    models.StageColetaDispersa,
			docs:     []models.Document{doc(models.DocBLOriginal)},
			want:     true,
		},
		{
			name:     "optional docs never block",
			shipType: models.ShipmentImport,
			stage:    models.StageAlfandegas,
			docs:     []models.Document{doc(models.DocCustomsDeclaration)},
			want:     true,
		},
		{
			name:      "legalizacao reports first missing required doc",
			shipType:  models.ShipmentImport,
			stage:     models.StageLegalizacao,
			docs:      []models.Document{doc(models.DocDeliveryOrder)},
			want:      false,
			blockedBy: "bl_carimbado",
		},
		{
			name:     "empty requirement list always advances",
			shipType: models.ShipmentImport,
			stage:    models.StageFaturacao,
			want:     true,
		},
		{
			name:     "export cargo collection needs both docs",
			shipType: models.ShipmentExport,
			stage:    models.StageRecolhaCarga,
			docs: []models.Document{
				doc(models.DocPackingList),
				doc(models.DocCommercialInvoice),
			},
			want: true,
		},
		{
			name:      "transit escort needs authorization",
			shipType:  models.ShipmentTransit,
			stage:     models.StageEscolta,
			want:      false,
			blockedBy: "escort_authorization",
		},
		{
			name:     "road transport delivery",
			shipType: models.ShipmentRoadTransport,
			stage:    models.StageEntrega,
			docs:     []models.Document{doc(models.DocPOD)},
			want:     true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, blockedBy := CanAdvance(tc.shipType, tc.stage, tc.docs)
			if ok != tc.want {
				t.Fatalf("CanAdvance = %v, want %v", ok, tc.want)
			}
			if blockedBy != tc.blockedBy {
				t.Fatalf("blockedBy = %q, want %q", blockedBy, tc.blockedBy)
			}
		})
	}
}

func TestEvaluateIsOrderIndependent(t *testing.T) {
	forward := []models.Document{doc(models.DocBLCarimbado), doc(models.DocDeliveryOrder)}
	reverse := []models.Document{forward[1], forward[0]}

	a := Evaluate(models.ShipmentImport, models.StageLegalizacao, forward)
	b := Evaluate(models.ShipmentImport, models.StageLegalizacao, reverse)
	if len(a) != len(b) {
		t.Fatalf("item counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("item %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestEvaluateDuplicateUploads(t *testing.T) {
	docs := []models.Document{doc(models.DocBLOriginal), doc(models.DocBLOriginal)}
	items := Evaluate(models.ShipmentImport, models.StageColetaDispersa, docs)
	for _, item := range items {
		if item.DocType == models.DocBLOriginal && !item.Satisfied {
			t.Fatalf("duplicate upload should still satisfy %s", item.DocType)
		}
	}
}

// Every stage of every shipment type must have a checklist row, even an
// empty one, so an unknown stage can never slip through the gate.
func TestEveryStageIsKnown(t *testing.T) {
	types := []models.ShipmentType{
		models.ShipmentImport,
		models.ShipmentExport,
		models.ShipmentTransit,
		models.ShipmentRoadTransport,
	}
	for _, st := range types {
		for _, key := range workflow.Sequence(st) {
			if !Known(st, key) {
				t.Fatalf("no checklist row for %s/%s", st, key)
			}
		}
	}
}
