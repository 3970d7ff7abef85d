package workflow

import (
	"testing"

	"github.com/beiralink/forwarding/internal/models"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.PaymentRequestStatus }{
		{models.PaymentPending, models.PaymentApproved},
		{models.PaymentPending, models.PaymentRejected},
		{models.PaymentPending, models.PaymentCancelled},
		{models.PaymentApproved, models.PaymentInPayment},
		{models.PaymentInPayment, models.PaymentPaid},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Fatalf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	statuses := []models.PaymentRequestStatus{
		models.PaymentPending,
		models.PaymentApproved,
		models.PaymentRejected,
		models.PaymentCancelled,
		models.PaymentInPayment,
		models.PaymentPaid,
	}
	isAllowed := func(from, to models.PaymentRequestStatus) bool {
		for _, tr := range allowed {
			if tr.from == from && tr.to == to {
				return true
			}
		}
		return false
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if isAllowed(from, to) {
				continue
			}
			if CanTransition(from, to) {
				t.Fatalf("%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range []models.PaymentRequestStatus{
		models.PaymentRejected,
		models.PaymentCancelled,
		models.PaymentPaid,
	} {
		if !from.Terminal() {
			t.Fatalf("%s should be terminal", from)
		}
		if len(paymentTransitions[from]) != 0 {
			t.Fatalf("terminal status %s has outgoing transitions", from)
		}
	}
}

func TestFinanciallyClear(t *testing.T) {
	phase := models.StageCornelder
	req := func(status models.PaymentRequestStatus, p models.StageKey) models.PaymentRequest {
		return models.PaymentRequest{ID: models.NewUUID(), Phase: p, Status: status}
	}

	if !FinanciallyClear(nil, phase) {
		t.Fatalf("no requests means clear")
	}
	if !FinanciallyClear([]models.PaymentRequest{
		req(models.PaymentRejected, phase),
		req(models.PaymentCancelled, phase),
		req(models.PaymentPaid, phase),
	}, phase) {
		t.Fatalf("terminal requests must not block the phase")
	}
	for _, open := range []models.PaymentRequestStatus{
		models.PaymentPending,
		models.PaymentApproved,
		models.PaymentInPayment,
	} {
		if FinanciallyClear([]models.PaymentRequest{req(open, phase)}, phase) {
			t.Fatalf("%s request must block the phase", open)
		}
	}
	// Requests in other phases are irrelevant.
	if !FinanciallyClear([]models.PaymentRequest{req(models.PaymentPending, models.StageTaxacao)}, phase) {
		t.Fatalf("a request in another phase must not block")
	}
}
