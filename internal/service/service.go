// package service implements the transition orchestrator: the single
// entry point for every write that touches shipment state. It is the
// only writer of shipment status, stage status and progress flags.
// Each operation runs its guard checks and writes inside one store
// transaction; notifications go out only after the commit.
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
	"github.com/beiralink/forwarding/internal/storage"
	"github.com/beiralink/forwarding/internal/store"
	"github.com/beiralink/forwarding/internal/workflow"
)

type Service struct {
	store    store.Store
	blobs    storage.Blob
	notifier notify.Notifier
}

func New(st store.Store, blobs storage.Blob, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{store: st, blobs: blobs, notifier: notifier}
}

type event struct {
	name    string
	key     string
	payload interface{}
}

func (s *Service) publish(ctx context.Context, events []event) {
	for _, ev := range events {
		s.notifier.Notify(ctx, ev.name, ev.key, ev.payload)
	}
}

func mapStoreErr(err error, what string) error {
	if err == store.ErrNotFound {
		return faults.NotFound("%s not found", what)
	}
	return err
}

// --- Shipment creation ---

type CreateShipmentRequest struct {
	Type        models.ShipmentType `json:"type"`
	Reference   string              `json:"reference"`
	Origin      string              `json:"origin"`
	Destination string              `json:"destination"`
	Cargo       string              `json:"cargo"`
	ClientName  string              `json:"clientName"`
}

// ShipmentView bundles a shipment with its ordered stages.
type ShipmentView struct {
	Shipment models.Shipment `json:"shipment"`
	Stages   []models.Stage  `json:"stages"`
}

// CreateShipment creates the shipment and the full ordered stage set for
// its type; the first stage starts in_progress, all others pending.
func (s *Service) CreateShipment(ctx context.Context, actor auth.Actor, req CreateShipmentRequest) (ShipmentView, error) {
	if !actor.Has(auth.CapAuthenticated) {
		return ShipmentView{}, faults.PermissionDenied("authentication required")
	}
	if !req.Type.Valid() {
		return ShipmentView{}, faults.Validation("unknown shipment type %q", req.Type)
	}
	if req.Reference == "" {
		return ShipmentView{}, faults.Validation("reference required")
	}

	var view ShipmentView
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		sh, err := tx.CreateShipment(ctx, store.ShipmentInput{
			Type:        req.Type,
			Status:      models.ShipmentActive,
			Reference:   req.Reference,
			Origin:      req.Origin,
			Destination: req.Destination,
			Cargo:       req.Cargo,
			ClientName:  req.ClientName,
			CreatedBy:   actor.ID,
		})
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i, key := range workflow.Sequence(req.Type) {
			in := store.StageInput{
				ShipmentID: sh.ID,
				Key:        key,
				Position:   i,
				Status:     models.StagePending,
			}
			if i == 0 {
				in.Status = models.StageInProgress
				in.StartedAt = &now
			}
			st, err := tx.CreateStage(ctx, in)
			if err != nil {
				return err
			}
			view.Stages = append(view.Stages, st)
		}
		if _, err := tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  sh.ID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      notify.EventShipmentCreated,
			Description: fmt.Sprintf("Shipment %s created (%s)", sh.Reference, sh.Type),
		}); err != nil {
			return err
		}
		view.Shipment = sh
		return nil
	})
	if err != nil {
		return ShipmentView{}, err
	}
	s.publish(ctx, []event{{notify.EventShipmentCreated, view.Shipment.ID.String(), view.Shipment}})
	return view, nil
}

// --- Documents ---

type UploadDocumentRequest struct {
	ShipmentID uuid.UUID
	Type       models.DocumentType
	FileName   string
	Size       int64
	Content    io.Reader
	Metadata   json.RawMessage
}

// UploadDocument appends a document to the shipment's ledger. The
// payload is written to blob storage before the transaction; if the
// transaction fails the blob is removed best-effort.
func (s *Service) UploadDocument(ctx context.Context, actor auth.Actor, req UploadDocumentRequest) (models.Document, error) {
	if !actor.Has(auth.CapAuthenticated) {
		return models.Document{}, faults.PermissionDenied("authentication required")
	}
	if !req.Type.Valid() {
		return models.Document{}, faults.Validation("unknown document type %q", req.Type)
	}
	if req.Content == nil {
		return models.Document{}, faults.Validation("document payload required")
	}
	if req.FileName == "" {
		req.FileName = string(req.Type)
	}

	docID := models.NewUUID()
	path := fmt.Sprintf("shipments/%s/%s/%s_%s", req.ShipmentID, req.Type, docID, req.FileName)
	storedPath, err := s.blobs.Store(ctx, req.Content, path)
	if err != nil {
		return models.Document{}, fmt.Errorf("store document payload: %w", err)
	}

	var doc models.Document
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		sh, err := tx.GetShipmentForUpdate(ctx, req.ShipmentID)
		if err != nil {
			return mapStoreErr(err, "shipment")
		}
		if sh.Status == models.ShipmentCompleted || sh.Status == models.ShipmentCancelled {
			return faults.Precondition("shipment active", "cannot upload documents to a %s shipment", sh.Status)
		}
		doc, err = tx.InsertDocument(ctx, store.DocumentInput{
			ID:         docID,
			ShipmentID: sh.ID,
			Type:       req.Type,
			FileName:   req.FileName,
			Path:       storedPath,
			Size:       req.Size,
			UploadedBy: actor.ID,
			Metadata:   req.Metadata,
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  sh.ID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      notify.EventDocumentUploaded,
			Description: fmt.Sprintf("Document %s uploaded (%s)", req.Type, req.FileName),
		})
		return err
	})
	if err != nil {
		_ = s.blobs.Delete(ctx, storedPath)
		return models.Document{}, err
	}
	s.publish(ctx, []event{{notify.EventDocumentUploaded, req.ShipmentID.String(), doc}})
	return doc, nil
}

// DeleteDocument removes a document from the ledger, reversing any
// checklist satisfaction it provided. Refused while a payment request
// still references the document.
func (s *Service) DeleteDocument(ctx context.Context, actor auth.Actor, docID uuid.UUID) error {
	if !actor.Has(auth.CapAuthenticated) {
		return faults.PermissionDenied("authentication required")
	}
	var (
		doc        models.Document
		shipmentID uuid.UUID
	)
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		doc, err = tx.GetDocument(ctx, docID)
		if err != nil {
			return mapStoreErr(err, "document")
		}
		if _, err := tx.GetShipmentForUpdate(ctx, doc.ShipmentID); err != nil {
			return mapStoreErr(err, "shipment")
		}
		shipmentID = doc.ShipmentID
		requests, err := tx.ListPaymentRequests(ctx, doc.ShipmentID)
		if err != nil {
			return err
		}
		for _, pr := range requests {
			if refersTo(pr, docID) {
				return faults.Precondition("document unreferenced",
					"document is referenced by payment request %s", pr.ID)
			}
		}
		if err := tx.DeleteDocument(ctx, docID); err != nil {
			return mapStoreErr(err, "document")
		}
		_, err = tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  doc.ShipmentID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      notify.EventDocumentDeleted,
			Description: fmt.Sprintf("Document %s deleted (%s)", doc.Type, doc.FileName),
		})
		return err
	})
	if err != nil {
		return err
	}
	// Blob removal is outside the invariant; best effort after commit.
	_ = s.blobs.Delete(ctx, doc.Path)
	s.publish(ctx, []event{{notify.EventDocumentDeleted, shipmentID.String(), doc}})
	return nil
}

func refersTo(pr models.PaymentRequest, docID uuid.UUID) bool {
	for _, ref := range []*uuid.UUID{pr.QuotationDocID, pr.ProofDocID, pr.ReceiptDocID} {
		if ref != nil && *ref == docID {
			return true
		}
	}
	return false
}

// --- Stage transitions ---

// StageTransition reports one completed advance: the stage that closed,
// the stage that opened (nil when the sequence ended) and the resulting
// shipment status.
type StageTransition struct {
	Completed      models.Stage          `json:"completed"`
	Started        *models.Stage         `json:"started,omitempty"`
	ShipmentStatus models.ShipmentStatus `json:"shipmentStatus"`
}

// AdvanceStage completes the current in_progress stage when its
// checklist and guard allow, and starts the next stage in sequence.
// Exactly one stage transitions per call; completing the final stage
// completes the shipment.
func (s *Service) AdvanceStage(ctx context.Context, actor auth.Actor, shipmentID uuid.UUID) (StageTransition, error) {
	if !actor.Has(auth.CapAuthenticated) {
		return StageTransition{}, faults.PermissionDenied("authentication required")
	}
	var (
		result StageTransition
		events []event
	)
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		sh, err := tx.GetShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return mapStoreErr(err, "shipment")
		}
		tr, evs, err := s.advanceLocked(ctx, tx, actor, sh)
		if err != nil {
			return err
		}
		result = tr
		events = evs
		return nil
	})
	if err != nil {
		return StageTransition{}, err
	}
	s.publish(ctx, events)
	return result, nil
}

// advanceLocked performs the one-stage transition. The shipment row is
// already locked by the caller's transaction; every guard is evaluated
// against the state read inside that transaction.
func (s *Service) advanceLocked(ctx context.Context, tx store.Store, actor auth.Actor, sh models.Shipment) (StageTransition, []event, error) {
	if sh.Status == models.ShipmentCompleted {
		return StageTransition{}, nil, faults.Precondition("no next stage", "shipment already completed")
	}
	if sh.Status != models.ShipmentActive {
		return StageTransition{}, nil, faults.Precondition("shipment active", "shipment is %s", sh.Status)
	}

	stages, err := tx.ListStages(ctx, sh.ID)
	if err != nil {
		return StageTransition{}, nil, err
	}
	var current *models.Stage
	for i := range stages {
		if stages[i].Status == models.StageInProgress {
			current = &stages[i]
			break
		}
	}
	if current == nil {
		return StageTransition{}, nil, faults.Precondition("stage in progress", "no stage is in progress")
	}

	docs, err := tx.ListDocuments(ctx, sh.ID)
	if err != nil {
		return StageTransition{}, nil, err
	}
	if ok, missing := checklist.CanAdvance(sh.Type, current.Key, docs); !ok {
		return StageTransition{}, nil, faults.Precondition(missing,
			"stage %s is missing required document %s", current.Key, missing)
	}

	requests, err := tx.ListPaymentRequests(ctx, sh.ID)
	if err != nil {
		return StageTransition{}, nil, err
	}
	gc := workflow.GuardContext{
		Shipment:         &sh,
		FinanciallyClear: workflow.FinanciallyClear(requests, current.Key),
	}
	if ok, blockedBy := workflow.CheckGuard(current.Key, gc); !ok {
		return StageTransition{}, nil, faults.Precondition(blockedBy,
			"stage %s guard not satisfied", current.Key)
	}

	now := time.Now().UTC()
	completed, err := tx.UpdateStage(ctx, store.StageUpdate{
		ID:          current.ID,
		Status:      models.StageCompleted,
		CompletedAt: &now,
		UpdatedBy:   actor.ID,
	})
	if err != nil {
		return StageTransition{}, nil, err
	}

	result := StageTransition{Completed: completed, ShipmentStatus: sh.Status}
	events := []event{{notify.EventStageCompleted, sh.ID.String(), completed}}

	if nextKey, ok := workflow.NextStage(sh.Type, current.Key); ok {
		for i := range stages {
			if stages[i].Key != nextKey {
				continue
			}
			started, err := tx.UpdateStage(ctx, store.StageUpdate{
				ID:        stages[i].ID,
				Status:    models.StageInProgress,
				StartedAt: &now,
				UpdatedBy: actor.ID,
			})
			if err != nil {
				return StageTransition{}, nil, err
			}
			result.Started = &started
			break
		}
	} else {
		if err := tx.UpdateShipmentStatus(ctx, sh.ID, models.ShipmentCompleted); err != nil {
			return StageTransition{}, nil, err
		}
		result.ShipmentStatus = models.ShipmentCompleted
		events = append(events, event{notify.EventShipmentCompleted, sh.ID.String(), sh.ID})
	}

	if _, err := tx.InsertActivity(ctx, store.ActivityInput{
		ShipmentID:  sh.ID,
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		Action:      notify.EventStageCompleted,
		Description: fmt.Sprintf("Stage %s completed", current.Key),
	}); err != nil {
		return StageTransition{}, nil, err
	}
	return result, events, nil
}

// BlockStage flags the current in_progress stage (manual, reversible).
func (s *Service) BlockStage(ctx context.Context, actor auth.Actor, shipmentID uuid.UUID, reason string) (models.Stage, error) {
	return s.toggleBlock(ctx, actor, shipmentID, reason, true)
}

// UnblockStage returns a blocked stage to in_progress.
func (s *Service) UnblockStage(ctx context.Context, actor auth.Actor, shipmentID uuid.UUID) (models.Stage, error) {
	return s.toggleBlock(ctx, actor, shipmentID, "", false)
}

func (s *Service) toggleBlock(ctx context.Context, actor auth.Actor, shipmentID uuid.UUID, reason string, block bool) (models.Stage, error) {
	if !actor.Has(auth.CapAuthenticated) {
		return models.Stage{}, faults.PermissionDenied("authentication required")
	}
	var (
		updated models.Stage
		evName  = notify.EventStageUnblocked
	)
	if block {
		evName = notify.EventStageBlocked
	}
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		sh, err := tx.GetShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return mapStoreErr(err, "shipment")
		}
		wantStage, wantShipment := models.StageInProgress, models.ShipmentActive
		newStage, newShipment := models.StageBlocked, models.ShipmentBlocked
		if !block {
			wantStage, wantShipment = models.StageBlocked, models.ShipmentBlocked
			newStage, newShipment = models.StageInProgress, models.ShipmentActive
		}
		if sh.Status != wantShipment {
			return faults.Precondition(fmt.Sprintf("shipment %s", wantShipment), "shipment is %s", sh.Status)
		}
		stages, err := tx.ListStages(ctx, shipmentID)
		if err != nil {
			return err
		}
		var target *models.Stage
		for i := range stages {
			if stages[i].Status == wantStage {
				target = &stages[i]
				break
			}
		}
		if target == nil {
			return faults.Precondition(fmt.Sprintf("stage %s", wantStage), "no %s stage found", wantStage)
		}
		updated, err = tx.UpdateStage(ctx, store.StageUpdate{
			ID:        target.ID,
			Status:    newStage,
			UpdatedBy: actor.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateShipmentStatus(ctx, shipmentID, newShipment); err != nil {
			return err
		}
		desc := fmt.Sprintf("Stage %s unblocked", target.Key)
		if block {
			desc = fmt.Sprintf("Stage %s blocked: %s", target.Key, reason)
		}
		_, err = tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  shipmentID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      evName,
			Description: desc,
		})
		return err
	})
	if err != nil {
		return models.Stage{}, err
	}
	s.publish(ctx, []event{{evName, shipmentID.String(), updated}})
	return updated, nil
}

// SetProgressFlag updates one of the shipment's phase-specific flags.
// The orchestrator is the only writer of these columns.
func (s *Service) SetProgressFlag(ctx context.Context, actor auth.Actor, shipmentID uuid.UUID, flag store.ProgressFlag, value string) error {
	if !actor.Has(auth.CapAuthenticated) {
		return faults.PermissionDenied("authentication required")
	}
	if !flag.Valid() {
		return faults.Validation("unknown progress flag %q", flag)
	}
	if value == "" {
		return faults.Validation("flag value required")
	}
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		sh, err := tx.GetShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return mapStoreErr(err, "shipment")
		}
		if sh.Status == models.ShipmentCompleted || sh.Status == models.ShipmentCancelled {
			return faults.Precondition("shipment active", "cannot update flags on a %s shipment", sh.Status)
		}
		if err := tx.SetShipmentFlag(ctx, shipmentID, flag, value); err != nil {
			return mapStoreErr(err, "shipment")
		}
		_, err = tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  shipmentID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      "shipment.flag_updated",
			Description: fmt.Sprintf("Flag %s set to %s", flag, value),
		})
		return err
	})
	return err
}

// CancelShipment terminally cancels a shipment. Refused while any
// payment request is still on the way to paid.
func (s *Service) CancelShipment(ctx context.Context, actor auth.Actor, shipmentID uuid.UUID, reason string) error {
	if !actor.Has(auth.CapAuthenticated) {
		return faults.PermissionDenied("authentication required")
	}
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		sh, err := tx.GetShipmentForUpdate(ctx, shipmentID)
		if err != nil {
			return mapStoreErr(err, "shipment")
		}
		if sh.Status == models.ShipmentCompleted || sh.Status == models.ShipmentCancelled {
			return faults.Precondition("shipment active", "shipment is already %s", sh.Status)
		}
		requests, err := tx.ListPaymentRequests(ctx, shipmentID)
		if err != nil {
			return err
		}
		for _, pr := range requests {
			if !pr.Status.Terminal() {
				return faults.Precondition("payment requests settled",
					"payment request %s is still %s", pr.ID, pr.Status)
			}
		}
		if err := tx.UpdateShipmentStatus(ctx, shipmentID, models.ShipmentCancelled); err != nil {
			return err
		}
		_, err = tx.InsertActivity(ctx, store.ActivityInput{
			ShipmentID:  shipmentID,
			ActorID:     actor.ID,
			ActorName:   actor.Name,
			Action:      notify.EventShipmentCancelled,
			Description: fmt.Sprintf("Shipment cancelled: %s", reason),
		})
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, []event{{notify.EventShipmentCancelled, shipmentID.String(), shipmentID}})
	return nil
}

// --- Queries ---

// ChecklistView is the evaluated checklist for the current stage.
type ChecklistView struct {
	Stage      models.StageKey  `json:"stage"`
	Items      []checklist.Item `json:"items"`
	CanAdvance bool             `json:"canAdvance"`
}

// Checklist evaluates the document gate for the shipment's current
// in_progress (or blocked) stage.
func (s *Service) Checklist(ctx context.Context, shipmentID uuid.UUID) (ChecklistView, error) {
	sh, err := s.store.GetShipment(ctx, shipmentID)
	if err != nil {
		return ChecklistView{}, mapStoreErr(err, "shipment")
	}
	stages, err := s.store.ListStages(ctx, shipmentID)
	if err != nil {
		return ChecklistView{}, err
	}
	var current *models.Stage
	for i := range stages {
		if stages[i].Status == models.StageInProgress || stages[i].Status == models.StageBlocked {
			current = &stages[i]
			break
		}
	}
	if current == nil {
		return ChecklistView{}, faults.Precondition("stage in progress", "no stage is in progress")
	}
	docs, err := s.store.ListDocuments(ctx, shipmentID)
	if err != nil {
		return ChecklistView{}, err
	}
	ok, _ := checklist.CanAdvance(sh.Type, current.Key, docs)
	return ChecklistView{
		Stage:      current.Key,
		Items:      checklist.Evaluate(sh.Type, current.Key, docs),
		CanAdvance: ok,
	}, nil
}

// ProgressView is the full read model for one shipment.
type ProgressView struct {
	Shipment        models.Shipment         `json:"shipment"`
	Stages          []models.Stage          `json:"stages"`
	Documents       []models.Document       `json:"documents"`
	PaymentRequests []models.PaymentRequest `json:"paymentRequests"`
}

// Progress returns the shipment with stages, documents and payment
// requests.
func (s *Service) Progress(ctx context.Context, shipmentID uuid.UUID) (ProgressView, error) {
	sh, err := s.store.GetShipment(ctx, shipmentID)
	if err != nil {
		return ProgressView{}, mapStoreErr(err, "shipment")
	}
	stages, err := s.store.ListStages(ctx, shipmentID)
	if err != nil {
		return ProgressView{}, err
	}
	docs, err := s.store.ListDocuments(ctx, shipmentID)
	if err != nil {
		return ProgressView{}, err
	}
	requests, err := s.store.ListPaymentRequests(ctx, shipmentID)
	if err != nil {
		return ProgressView{}, err
	}
	return ProgressView{Shipment: sh, Stages: stages, Documents: docs, PaymentRequests: requests}, nil
}

// Activities returns the shipment's audit trail.
func (s *Service) Activities(ctx context.Context, shipmentID uuid.UUID) ([]models.Activity, error) {
	if _, err := s.store.GetShipment(ctx, shipmentID); err != nil {
		return nil, mapStoreErr(err, "shipment")
	}
	return s.store.ListActivities(ctx, shipmentID)
}

// ListShipments returns shipments newest-first.
func (s *Service) ListShipments(ctx context.Context, limit, offset int) ([]models.Shipment, error) {
	return s.store.ListShipments(ctx, limit, offset)
}
