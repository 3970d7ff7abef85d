package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beiralink/forwarding/internal/models"
)

// MemoryStore is an in-memory Store used for development and tests.
// RunInTx runs the callback against a copy of the data set and swaps it
// in only on success, giving the same all-or-nothing semantics as the
// Postgres implementation.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

type memData struct {
	shipments  map[uuid.UUID]models.Shipment
	stages     map[uuid.UUID]models.Stage
	documents  map[uuid.UUID]models.Document
	payments   map[uuid.UUID]models.PaymentRequest
	activities []models.Activity
	seq        map[uuid.UUID]int
	nextSeq    int
}

func newMemData() *memData {
	return &memData{
		shipments: map[uuid.UUID]models.Shipment{},
		stages:    map[uuid.UUID]models.Stage{},
		documents: map[uuid.UUID]models.Document{},
		payments:  map[uuid.UUID]models.PaymentRequest{},
		seq:       map[uuid.UUID]int{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.shipments {
		c.shipments[k] = v
	}
	for k, v := range d.stages {
		c.stages[k] = v
	}
	for k, v := range d.documents {
		c.documents[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	c.activities = append(c.activities, d.activities...)
	for k, v := range d.seq {
		c.seq[k] = v
	}
	c.nextSeq = d.nextSeq
	return c
}

func (d *memData) mark(id uuid.UUID) {
	d.nextSeq++
	d.seq[id] = d.nextSeq
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.data.clone()
	if err := fn(&memTx{data: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// The non-transactional methods delegate to a tx view under the lock.

func (m *MemoryStore) view() *memTx { return &memTx{data: m.data} }

func (m *MemoryStore) CreateShipment(ctx context.Context, in ShipmentInput) (models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateShipment(ctx, in)
}

func (m *MemoryStore) GetShipment(ctx context.Context, id uuid.UUID) (models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetShipment(ctx, id)
}

func (m *MemoryStore) GetShipmentForUpdate(ctx context.Context, id uuid.UUID) (models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetShipment(ctx, id)
}

func (m *MemoryStore) UpdateShipmentStatus(ctx context.Context, id uuid.UUID, status models.ShipmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateShipmentStatus(ctx, id, status)
}

func (m *MemoryStore) SetShipmentFlag(ctx context.Context, id uuid.UUID, flag ProgressFlag, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SetShipmentFlag(ctx, id, flag, value)
}

func (m *MemoryStore) ListShipments(ctx context.Context, limit, offset int) ([]models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListShipments(ctx, limit, offset)
}

func (m *MemoryStore) CreateStage(ctx context.Context, in StageInput) (models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateStage(ctx, in)
}

func (m *MemoryStore) ListStages(ctx context.Context, shipmentID uuid.UUID) ([]models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListStages(ctx, shipmentID)
}

func (m *MemoryStore) UpdateStage(ctx context.Context, in StageUpdate) (models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateStage(ctx, in)
}

func (m *MemoryStore) InsertDocument(ctx context.Context, in DocumentInput) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertDocument(ctx, in)
}

func (m *MemoryStore) GetDocument(ctx context.Context, id uuid.UUID) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetDocument(ctx, id)
}

func (m *MemoryStore) ListDocuments(ctx context.Context, shipmentID uuid.UUID) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListDocuments(ctx, shipmentID)
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteDocument(ctx, id)
}

func (m *MemoryStore) InsertPaymentRequest(ctx context.Context, in PaymentRequestInput) (models.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertPaymentRequest(ctx, in)
}

func (m *MemoryStore) GetPaymentRequest(ctx context.Context, id uuid.UUID) (models.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetPaymentRequest(ctx, id)
}

func (m *MemoryStore) ListPaymentRequests(ctx context.Context, shipmentID uuid.UUID) ([]models.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListPaymentRequests(ctx, shipmentID)
}

func (m *MemoryStore) UpdatePaymentRequest(ctx context.Context, in PaymentRequestUpdate) (models.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdatePaymentRequest(ctx, in)
}

func (m *MemoryStore) InsertActivity(ctx context.Context, in ActivityInput) (models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertActivity(ctx, in)
}

func (m *MemoryStore) ListActivities(ctx context.Context, shipmentID uuid.UUID) ([]models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListActivities(ctx, shipmentID)
}

// memTx is the transaction-scoped view. The MemoryStore lock is already
// held for its whole lifetime, so its methods do not lock.
type memTx struct {
	data *memData
}

// RunInTx inside an open transaction joins it.
func (t *memTx) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) Ping(ctx context.Context) error { return nil }

func copyJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return append(json.RawMessage(nil), raw...)
}

func (t *memTx) CreateShipment(ctx context.Context, in ShipmentInput) (models.Shipment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	sh := models.Shipment{
		ID:          in.ID,
		Type:        in.Type,
		Status:      in.Status,
		Reference:   in.Reference,
		Origin:      in.Origin,
		Destination: in.Destination,
		Cargo:       in.Cargo,
		ClientName:  in.ClientName,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.data.shipments[sh.ID] = sh
	t.data.mark(sh.ID)
	return sh, nil
}

func (t *memTx) GetShipment(ctx context.Context, id uuid.UUID) (models.Shipment, error) {
	sh, ok := t.data.shipments[id]
	if !ok {
		return models.Shipment{}, ErrNotFound
	}
	return sh, nil
}

// GetShipmentForUpdate is equivalent to GetShipment here; the memory
// store serializes transactions under one mutex.
func (t *memTx) GetShipmentForUpdate(ctx context.Context, id uuid.UUID) (models.Shipment, error) {
	return t.GetShipment(ctx, id)
}

func (t *memTx) UpdateShipmentStatus(ctx context.Context, id uuid.UUID, status models.ShipmentStatus) error {
	sh, ok := t.data.shipments[id]
	if !ok {
		return ErrNotFound
	}
	sh.Status = status
	sh.UpdatedAt = time.Now().UTC()
	t.data.shipments[id] = sh
	return nil
}

func (t *memTx) SetShipmentFlag(ctx context.Context, id uuid.UUID, flag ProgressFlag, value string) error {
	sh, ok := t.data.shipments[id]
	if !ok {
		return ErrNotFound
	}
	switch flag {
	case FlagQuotationStatus:
		sh.QuotationStatus = value
	case FlagCustomsStatus:
		sh.CustomsStatus = value
	case FlagCornelderPaymentStatus:
		sh.CornelderPaymentStatus = value
	default:
		return ErrNotFound
	}
	sh.UpdatedAt = time.Now().UTC()
	t.data.shipments[id] = sh
	return nil
}

func (t *memTx) ListShipments(ctx context.Context, limit, offset int) ([]models.Shipment, error) {
	out := make([]models.Shipment, 0, len(t.data.shipments))
	for _, sh := range t.data.shipments {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return t.data.seq[out[i].ID] < t.data.seq[out[j].ID] })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) CreateStage(ctx context.Context, in StageInput) (models.Stage, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	st := models.Stage{
		ID:         in.ID,
		ShipmentID: in.ShipmentID,
		Key:        in.Key,
		Position:   in.Position,
		Status:     in.Status,
		StartedAt:  in.StartedAt,
		Metadata:   json.RawMessage("{}"),
	}
	t.data.stages[st.ID] = st
	return st, nil
}

func (t *memTx) ListStages(ctx context.Context, shipmentID uuid.UUID) ([]models.Stage, error) {
	var out []models.Stage
	for _, st := range t.data.stages {
		if st.ShipmentID == shipmentID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (t *memTx) UpdateStage(ctx context.Context, in StageUpdate) (models.Stage, error) {
	st, ok := t.data.stages[in.ID]
	if !ok {
		return models.Stage{}, ErrNotFound
	}
	st.Status = in.Status
	if in.StartedAt != nil {
		st.StartedAt = in.StartedAt
	}
	if in.CompletedAt != nil {
		st.CompletedAt = in.CompletedAt
	}
	if len(in.Metadata) > 0 {
		st.Metadata = copyJSON(in.Metadata, "{}")
	}
	if in.UpdatedBy != "" {
		st.UpdatedBy = in.UpdatedBy
	}
	t.data.stages[st.ID] = st
	return st, nil
}

func (t *memTx) InsertDocument(ctx context.Context, in DocumentInput) (models.Document, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	doc := models.Document{
		ID:         in.ID,
		ShipmentID: in.ShipmentID,
		Type:       in.Type,
		FileName:   in.FileName,
		Path:       in.Path,
		Size:       in.Size,
		UploadedBy: in.UploadedBy,
		Metadata:   copyJSON(in.Metadata, "{}"),
		CreatedAt:  time.Now().UTC(),
	}
	t.data.documents[doc.ID] = doc
	t.data.mark(doc.ID)
	return doc, nil
}

func (t *memTx) GetDocument(ctx context.Context, id uuid.UUID) (models.Document, error) {
	doc, ok := t.data.documents[id]
	if !ok {
		return models.Document{}, ErrNotFound
	}
	return doc, nil
}

func (t *memTx) ListDocuments(ctx context.Context, shipmentID uuid.UUID) ([]models.Document, error) {
	var out []models.Document
	for _, doc := range t.data.documents {
		if doc.ShipmentID == shipmentID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return t.data.seq[out[i].ID] < t.data.seq[out[j].ID] })
	return out, nil
}

func (t *memTx) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.data.documents[id]; !ok {
		return ErrNotFound
	}
	delete(t.data.documents, id)
	return nil
}

func (t *memTx) InsertPaymentRequest(ctx context.Context, in PaymentRequestInput) (models.PaymentRequest, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	pr := models.PaymentRequest{
		ID:             in.ID,
		ShipmentID:     in.ShipmentID,
		Phase:          in.Phase,
		ExpenseType:    in.ExpenseType,
		Payee:          in.Payee,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Status:         in.Status,
		QuotationDocID: in.QuotationDocID,
		RequestedBy:    in.RequestedBy,
		RequestedAt:    time.Now().UTC(),
	}
	t.data.payments[pr.ID] = pr
	t.data.mark(pr.ID)
	return pr, nil
}

func (t *memTx) GetPaymentRequest(ctx context.Context, id uuid.UUID) (models.PaymentRequest, error) {
	pr, ok := t.data.payments[id]
	if !ok {
		return models.PaymentRequest{}, ErrNotFound
	}
	return pr, nil
}

func (t *memTx) ListPaymentRequests(ctx context.Context, shipmentID uuid.UUID) ([]models.PaymentRequest, error) {
	var out []models.PaymentRequest
	for _, pr := range t.data.payments {
		if pr.ShipmentID == shipmentID {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return t.data.seq[out[i].ID] < t.data.seq[out[j].ID] })
	return out, nil
}

func (t *memTx) UpdatePaymentRequest(ctx context.Context, in PaymentRequestUpdate) (models.PaymentRequest, error) {
	pr, ok := t.data.payments[in.ID]
	if !ok {
		return models.PaymentRequest{}, ErrNotFound
	}
	pr.Status = in.Status
	if in.ApprovedBy != nil {
		pr.ApprovedBy = *in.ApprovedBy
	}
	if in.PaidBy != nil {
		pr.PaidBy = *in.PaidBy
	}
	if in.RejectionReason != nil {
		pr.RejectionReason = *in.RejectionReason
	}
	if in.ProofDocID != nil {
		pr.ProofDocID = in.ProofDocID
	}
	if in.ReceiptDocID != nil {
		pr.ReceiptDocID = in.ReceiptDocID
	}
	if in.ApprovedAt != nil {
		pr.ApprovedAt = in.ApprovedAt
	}
	if in.RejectedAt != nil {
		pr.RejectedAt = in.RejectedAt
	}
	if in.CancelledAt != nil {
		pr.CancelledAt = in.CancelledAt
	}
	if in.PaymentStartedAt != nil {
		pr.PaymentStartedAt = in.PaymentStartedAt
	}
	if in.PaymentDate != nil {
		pr.PaymentDate = in.PaymentDate
	}
	if in.PaidAt != nil {
		pr.PaidAt = in.PaidAt
	}
	if in.ReceiptAttachedAt != nil {
		pr.ReceiptAttachedAt = in.ReceiptAttachedAt
	}
	t.data.payments[pr.ID] = pr
	return pr, nil
}

func (t *memTx) InsertActivity(ctx context.Context, in ActivityInput) (models.Activity, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	act := models.Activity{
		ID:          in.ID,
		ShipmentID:  in.ShipmentID,
		ActorID:     in.ActorID,
		ActorName:   in.ActorName,
		Action:      in.Action,
		Description: in.Description,
		Metadata:    copyJSON(in.Metadata, "{}"),
		CreatedAt:   time.Now().UTC(),
	}
	t.data.activities = append(t.data.activities, act)
	return act, nil
}

func (t *memTx) ListActivities(ctx context.Context, shipmentID uuid.UUID) ([]models.Activity, error) {
	var out []models.Activity
	for _, act := range t.data.activities {
		if act.ShipmentID == shipmentID {
			out = append(out, act)
		}
	}
	return out, nil
}
