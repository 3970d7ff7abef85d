package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/beiralink/forwarding/internal/auth"
	"github.com/beiralink/forwarding/internal/checklist"
	"github.com/beiralink/forwarding/internal/faults"
	"github.com/beiralink/forwarding/internal/models"
	"github.com/beiralink/forwarding/internal/notify"
	"github.com/beiralink/forwarding/internal/store"
	"github.com/beiralink/forwarding/internal/workflow"
)

// DocumentUpload carries the payload for a document created as part of a
// payment-request transition.
type DocumentUpload struct {
	FileName string
	Size     int64
	Content  io.Reader
	Metadata json.RawMessage
}

type CreatePaymentRequestRequest struct {
	ShipmentID  uuid.UUID
	Phase       models.StageKey
	ExpenseType string
	Payee       string
	Amount      string
	Currency    string
	Quotation   DocumentUpload
}

// CreatePaymentRequest raises a funding request against a shipment
// phase. The quotation document is mandatory; its upload and the request
// row are one atomic operation.
func (s *Service) CreatePaymentRequest(ctx context.Context, actor auth.Actor, req CreatePaymentRequestRequest) (models.PaymentRequest, error) {
	if !actor.Has(auth.CapAuthenticated) {
		return models.PaymentRequest{}, faults.PermissionDenied("authentication required")
	}
	if req.Payee == "" || req.Amount == "" || req.Currency == "" {
		return models.PaymentRequest{}, faults.Validation("payee, amount and currency required")
	}
	if req.Quotation.Content == nil {
		return models.PaymentRequest{}, faults.Validation("quotation document required")
	}

	var (
		pr     models.PaymentRequest
		events []event
	)
	err := s.withQuotationBlob(ctx, req, func(docID uuid.UUID, path string) error {
		return s.store.RunInTx(ctx, func(tx store.Store) error {
			sh, err := tx.GetShipmentForUpdate(ctx, req.ShipmentID)
			if err != nil {
				return mapStoreErr(err, "shipment")
			}
			if sh.Status == models.ShipmentCompleted || sh.Status == models.ShipmentCancelled {
				return faults.Precondition("shipment active", "shipment is %s", sh.Status)
			}
			if !workflow.ValidStage(sh.Type, req.Phase) {
				return faults.Validation("phase %q is not a stage of a %s shipment", req.Phase, sh.Type)
			}
			doc, err := tx.InsertDocument(ctx, store.DocumentInput{
				ID:         docID,
				ShipmentID: sh.ID,
				Type:       models.DocQuotation,
				FileName:   req.Quotation.FileName,
				Path:       path,
				Size:       req.Quotation.Size,
				UploadedBy: actor.ID,
				Metadata:   req.Quotation.Metadata,
			})
			if err != nil {
				return err
			}
			pr, err = tx.InsertPaymentRequest(ctx, store.PaymentRequestInput{
				ShipmentID:     sh.ID,
				Phase:          req.Phase,
				ExpenseType:    req.ExpenseType,
				Payee:          req.Payee,
				Amount:         req.Amount,
				Currency:       req.Currency,
				Status:         models.PaymentPending,
				QuotationDocID: &doc.ID,
				RequestedBy:    actor.ID,
			})
			if err != nil {
				return err
			}
			_, err = tx.InsertActivity(ctx, store.ActivityInput{
				ShipmentID:  sh.ID,
				ActorID:     actor.ID,
				ActorName:   actor.Name,
				Action:      notify.EventPaymentCreated,
				Description: fmt.Sprintf("Payment request raised for %s: %s %s to %s", req.Phase, req.Amount, req.Currency, req.Payee),
			})
			if err != nil {
				return err
			}
			events = []event{{notify.EventPaymentCreated, sh.ID.String(), pr}}
			return nil
		})
	})
	if err != nil {
		return models.PaymentRequest{}, err
	}
	s.publish(ctx, events)
	return pr, nil
}

// withQuotationBlob stores the quotation payload, runs fn, and removes
// the blob again if fn fails.
func (s *Service) withQuotationBlob(ctx context.Context, req CreatePaymentRequestRequest, fn func(docID uuid.UUID, path string) error) error {
	docID := models.NewUUID()
	name := req.Quotation.FileName
	if name == "" {
		name = "quotation"
	}
	path := fmt.Sprintf("shipments/%s/%s/%s_%s", req.ShipmentID, models.DocQuotation, docID, name)
	storedPath, err := s.blobs.Store(ctx, req.Quotation.Content, path)
	if err != nil {
		return fmt.Errorf("store quotation payload: %w", err)
	}
	if err := fn(docID, storedPath); err != nil {
		_ = s.blobs.Delete(ctx, storedPath)
		return err
	}
	return nil
}

// transitionPayment loads the request, locks its shipment, verifies the
// forward path and applies the update, all inside one transaction. The
// request is re-read after the lock: the pre-lock read only locates the
// shipment and may not see a transition committed while this
// transaction waited on the row.
func (s *Service) transitionPayment(
	ctx context.Context,
	actor auth.Actor,
	requestID uuid.UUID,
	to models.PaymentRequestStatus,
	action string,
	describe func(pr models.PaymentRequest) string,
	mutate func(tx store.Store, pr models.PaymentRequest, upd *store.PaymentRequestUpdate) error,
) (models.PaymentRequest, error) {
	var (
		updated models.PaymentRequest
		events  []event
	)
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		pr, err := tx.GetPaymentRequest(ctx, requestID)
		if err != nil {
			return mapStoreErr(err, "payment request")
		}
		if _, err := tx.GetShipmentForUpdate(ctx, pr.ShipmentID); err != nil {
			return mapStoreErr(err, "shipment")
		}
		pr, err = tx.GetPaymentRequest(ctx, requestID)
		if err != nil {
			return mapStoreErr(err, "payment request")
		}
		if !workflow.CanTransition(pr.Status, to) {
			return faults.Precondition(fmt.Sprintf("payment request %s", requiredFrom(to)),
				"payment request is %s, cannot move to %s", pr.Status, to)
		}
		upd := store.PaymentRequestUpdate{ID: pr.ID, Status: to}
		if mutate != nil {
			if err := mutate(tx, pr, &upd); err != nil {
				return err
			}
		}
		updated, err = tx.UpdatePaymentRequest(ctx, upd)
		if err != nil {
			return mapStoreErr(err, "payment request")
		}
		_, err = tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  pr.ShipmentID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      action,
			Description: describe(pr),
		})
		if err != nil {
			return err
		}
		events = []event{{action, pr.ShipmentID.String(), updated}}
		return nil
	})
	if err != nil {
		return models.PaymentRequest{}, err
	}
	s.publish(ctx, events)
	return updated, nil
}

// requiredFrom names the status a request must be in to reach to.
func requiredFrom(to models.PaymentRequestStatus) string {
	switch to {
	case models.PaymentApproved, models.PaymentRejected, models.PaymentCancelled:
		return string(models.PaymentPending)
	case models.PaymentInPayment:
		return string(models.PaymentApproved)
	case models.PaymentPaid:
		return string(models.PaymentInPayment)
	}
	return string(to)
}

// ApprovePaymentRequest moves a pending request to approved. Requires
// the approver capability.
func (s *Service) ApprovePaymentRequest(ctx context.Context, actor auth.Actor, requestID uuid.UUID) (models.PaymentRequest, error) {
	if !actor.Has(auth.CapApprover) {
		return models.PaymentRequest{}, faults.PermissionDenied("approver capability required")
	}
	now := time.Now().UTC()
	return s.transitionPayment(ctx, actor, requestID, models.PaymentApproved, notify.EventPaymentApproved,
		func(pr models.PaymentRequest) string {
			return fmt.Sprintf("Payment request for %s approved", pr.Phase)
		},
		func(tx store.Store, pr models.PaymentRequest, upd *store.PaymentRequestUpdate) error {
			upd.ApprovedBy = &actor.ID
			upd.ApprovedAt = &now
			return nil
		})
}

// RejectPaymentRequest terminally rejects a pending request. Requires
// the approver capability and a reason.
func (s *Service) RejectPaymentRequest(ctx context.Context, actor auth.Actor, requestID uuid.UUID, reason string) (models.PaymentRequest, error) {
	if !actor.Has(auth.CapApprover) {
		return models.PaymentRequest{}, faults.PermissionDenied("approver capability required")
	}
	if reason == "" {
		return models.PaymentRequest{}, faults.Validation("rejection reason required")
	}
	now := time.Now().UTC()
	return s.transitionPayment(ctx, actor, requestID, models.PaymentRejected, notify.EventPaymentRejected,
		func(pr models.PaymentRequest) string {
			return fmt.Sprintf("Payment request for %s rejected: %s", pr.Phase, reason)
		},
		func(tx store.Store, pr models.PaymentRequest, upd *store.PaymentRequestUpdate) error {
			upd.ApprovedBy = &actor.ID
			upd.RejectionReason = &reason
			upd.RejectedAt = &now
			return nil
		})
}

// CancelPaymentRequest terminally cancels a request. Only the original
// requester may cancel, and only while the request is still pending.
func (s *Service) CancelPaymentRequest(ctx context.Context, actor auth.Actor, requestID uuid.UUID) (models.PaymentRequest, error) {
	if !actor.Has(auth.CapAuthenticated) {
		return models.PaymentRequest{}, faults.PermissionDenied("authentication required")
	}
	now := time.Now().UTC()
	return s.transitionPayment(ctx, actor, requestID, models.PaymentCancelled, notify.EventPaymentCancelled,
		func(pr models.PaymentRequest) string {
			return fmt.Sprintf("Payment request for %s cancelled by requester", pr.Phase)
		},
		func(tx store.Store, pr models.PaymentRequest, upd *store.PaymentRequestUpdate) error {
			if pr.RequestedBy != actor.ID {
				return faults.PermissionDenied("only the requester may cancel a payment request")
			}
			upd.CancelledAt = &now
			return nil
		})
}

// StartPayment moves an approved request to in_payment. Requires the
// finance capability.
func (s *Service) StartPayment(ctx context.Context, actor auth.Actor, requestID uuid.UUID) (models.PaymentRequest, error) {
	if !actor.Has(auth.CapFinance) {
		return models.PaymentRequest{}, faults.PermissionDenied("finance capability required")
	}
	now := time.Now().UTC()
	return s.transitionPayment(ctx, actor, requestID, models.PaymentInPayment, notify.EventPaymentStarted,
		func(pr models.PaymentRequest) string {
			return fmt.Sprintf("Payment started for %s", pr.Phase)
		},
		func(tx store.Store, pr models.PaymentRequest, upd *store.PaymentRequestUpdate) error {
			upd.PaidBy = &actor.ID
			upd.PaymentStartedAt = &now
			return nil
		})
}

type ConfirmPaymentRequest struct {
	RequestID   uuid.UUID
	PaymentDate time.Time
	Proof       DocumentUpload
}

// ConfirmPayment moves an in_payment request to paid, attaching the
// payment-proof document in the same transaction. Requires the finance
// capability.
func (s *Service) ConfirmPayment(ctx context.Context, actor auth.Actor, req ConfirmPaymentRequest) (models.PaymentRequest, error) {
	if !actor.Has(auth.CapFinance) {
		return models.PaymentRequest{}, faults.PermissionDenied("finance capability required")
	}
	if req.Proof.Content == nil {
		return models.PaymentRequest{}, faults.Validation("payment proof document required")
	}
	if req.PaymentDate.IsZero() {
		return models.PaymentRequest{}, faults.Validation("payment date required")
	}

	// The proof blob is written once the request is known to be
	// transitionable and cleaned up if the transaction fails.
	docID := models.NewUUID()
	name := req.Proof.FileName
	if name == "" {
		name = "payment_proof"
	}
	var storedPath string
	now := time.Now().UTC()
	pr, err := s.transitionPayment(ctx, actor, req.RequestID, models.PaymentPaid, notify.EventPaymentPaid,
		func(pr models.PaymentRequest) string {
			return fmt.Sprintf("Payment for %s confirmed", pr.Phase)
		},
		func(tx store.Store, pr models.PaymentRequest, upd *store.PaymentRequestUpdate) error {
			path := fmt.Sprintf("shipments/%s/%s/%s_%s", pr.ShipmentID, models.DocPaymentProof, docID, name)
			var err error
			storedPath, err = s.blobs.Store(ctx, req.Proof.Content, path)
			if err != nil {
				return fmt.Errorf("store payment proof: %w", err)
			}
			doc, err := tx.InsertDocument(ctx, store.DocumentInput{
				ID:         docID,
				ShipmentID: pr.ShipmentID,
				Type:       models.DocPaymentProof,
				FileName:   name,
				Path:       storedPath,
				Size:       req.Proof.Size,
				UploadedBy: actor.ID,
				Metadata:   req.Proof.Metadata,
			})
			if err != nil {
				return err
			}
			pd := req.PaymentDate.UTC()
			upd.PaidBy = &actor.ID
			upd.ProofDocID = &doc.ID
			upd.PaymentDate = &pd
			upd.PaidAt = &now
			return nil
		})
	if err != nil {
		if storedPath != "" {
			_ = s.blobs.Delete(ctx, storedPath)
		}
		return models.PaymentRequest{}, err
	}
	return pr, nil
}

type AttachReceiptRequest struct {
	RequestID uuid.UUID
	Receipt   DocumentUpload
}

// AttachReceiptResult reports the attached receipt and, when the receipt
// closed out the current stage, the stage transition it triggered.
type AttachReceiptResult struct {
	Request        models.PaymentRequest `json:"request"`
	StageCompleted *StageTransition      `json:"stageCompleted,omitempty"`
}

// AttachReceipt closes a paid request's audit chain by attaching the
// receipt document. This is not a status change.
//
// Special case, intentional and the only exception to one-stage-per-call:
// when the receipt's phase is the shipment's current in_progress stage
// and that stage has nothing else outstanding (checklist and guard both
// pass), the stage completes in the same transaction.
func (s *Service) AttachReceipt(ctx context.Context, actor auth.Actor, req AttachReceiptRequest) (AttachReceiptResult, error) {
	if !actor.Has(auth.CapFinance) {
		return AttachReceiptResult{}, faults.PermissionDenied("finance capability required")
	}
	if req.Receipt.Content == nil {
		return AttachReceiptResult{}, faults.Validation("receipt document required")
	}

	docID := models.NewUUID()
	name := req.Receipt.FileName
	if name == "" {
		name = "receipt"
	}

	var (
		result     AttachReceiptResult
		events     []event
		storedPath string
	)
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		pr, err := tx.GetPaymentRequest(ctx, req.RequestID)
		if err != nil {
			return mapStoreErr(err, "payment request")
		}
		sh, err := tx.GetShipmentForUpdate(ctx, pr.ShipmentID)
		if err != nil {
			return mapStoreErr(err, "shipment")
		}
		// Re-read under the shipment lock; the first read may predate a
		// concurrent transition that committed while we waited.
		pr, err = tx.GetPaymentRequest(ctx, req.RequestID)
		if err != nil {
			return mapStoreErr(err, "payment request")
		}
		if pr.Status != models.PaymentPaid {
			return faults.Precondition("payment request paid",
				"payment request is %s, receipt can only follow paid", pr.Status)
		}
		if pr.ReceiptDocID != nil {
			return faults.Precondition("receipt not yet attached", "receipt already attached")
		}

		path := fmt.Sprintf("shipments/%s/%s/%s_%s", pr.ShipmentID, models.DocReceipt, docID, name)
		storedPath, err = s.blobs.Store(ctx, req.Receipt.Content, path)
		if err != nil {
			return fmt.Errorf("store receipt: %w", err)
		}
		doc, err := tx.InsertDocument(ctx, store.DocumentInput{
			ID:         docID,
			ShipmentID: pr.ShipmentID,
			Type:       models.DocReceipt,
			FileName:   name,
			Path:       storedPath,
			Size:       req.Receipt.Size,
			UploadedBy: actor.ID,
			Metadata:   req.Receipt.Metadata,
		})
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		updated, err := tx.UpdatePaymentRequest(ctx, store.PaymentRequestUpdate{
			ID:                pr.ID,
			Status:            models.PaymentPaid,
			ReceiptDocID:      &doc.ID,
			ReceiptAttachedAt: &now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  pr.ShipmentID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      notify.EventPaymentReceiptAttached,
			Description: fmt.Sprintf("Receipt attached for %s payment", pr.Phase),
		}); err != nil {
			return err
		}
		result.Request = updated
		events = []event{{notify.EventPaymentReceiptAttached, pr.ShipmentID.String(), updated}}

		tr, evs, completed, err := s.tryReceiptAutoComplete(ctx, tx, actor, sh, pr.Phase)
		if err != nil {
			return err
		}
		if completed {
			result.StageCompleted = &tr
			events = append(events, evs...)
		}
		return nil
	})
	if err != nil {
		if storedPath != "" {
			_ = s.blobs.Delete(ctx, storedPath)
		}
		return AttachReceiptResult{}, err
	}
	s.publish(ctx, events)
	return result, nil
}

// tryReceiptAutoComplete checks eligibility for the documented receipt
// auto-complete and performs it. An ineligible stage is not an error —
// the receipt attachment stands on its own — but a store failure during
// the advance aborts the whole transaction.
func (s *Service) tryReceiptAutoComplete(ctx context.Context, tx store.Store, actor auth.Actor, sh models.Shipment, phase models.StageKey) (StageTransition, []event, bool, error) {
	if sh.Status != models.ShipmentActive {
		return StageTransition{}, nil, false, nil
	}
	stages, err := tx.ListStages(ctx, sh.ID)
	if err != nil {
		return StageTransition{}, nil, false, err
	}
	var current *models.Stage
	for i := range stages {
		if stages[i].Status == models.StageInProgress {
			current = &stages[i]
			break
		}
	}
	if current == nil || current.Key != phase {
		return StageTransition{}, nil, false, nil
	}
	docs, err := tx.ListDocuments(ctx, sh.ID)
	if err != nil {
		return StageTransition{}, nil, false, err
	}
	if ok, _ := checklist.CanAdvance(sh.Type, current.Key, docs); !ok {
		return StageTransition{}, nil, false, nil
	}
	requests, err := tx.ListPaymentRequests(ctx, sh.ID)
	if err != nil {
		return StageTransition{}, nil, false, err
	}
	gc := workflow.GuardContext{
		Shipment:         &sh,
		FinanciallyClear: workflow.FinanciallyClear(requests, current.Key),
	}
	if ok, _ := workflow.CheckGuard(current.Key, gc); !ok {
		return StageTransition{}, nil, false, nil
	}
	tr, evs, err := s.advanceLocked(ctx, tx, actor, sh)
	if err != nil {
		return StageTransition{}, nil, false, err
	}
	return tr, evs, true, nil
}

// GetPaymentRequest returns one payment request.
func (s *Service) GetPaymentRequest(ctx context.Context, id uuid.UUID) (models.PaymentRequest, error) {
	pr, err := s.store.GetPaymentRequest(ctx, id)
	if err != nil {
		return models.PaymentRequest{}, mapStoreErr(err, "payment request")
	}
	return pr, nil
}

// PaymentRequests lists a shipment's payment requests.
func (s *Service) PaymentRequests(ctx context.Context, shipmentID uuid.UUID) ([]models.PaymentRequest, error) {
	if _, err := s.store.GetShipment(ctx, shipmentID); err != nil {
		return nil, mapStoreErr(err, "shipment")
	}
	return s.store.ListPaymentRequests(ctx, shipmentID)
}
