package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/beiralink/forwarding/internal/models"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func shipmentRows(id uuid.UUID) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "type", "status", "reference", "origin", "destination", "cargo", "client_name",
		"quotation_status", "customs_status", "cornelder_payment_status", "created_by", "created_at", "updated_at",
	}).AddRow(id.String(), "import", "active", "REF-1", "Durban", "Beira", "", "Acme", "", "authorized", "", "ops-1", now, now)
}

func TestPGGetShipmentForUpdateLocksRow(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM shipments WHERE id = .+ FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(shipmentRows(id))

	sh, err := st.GetShipmentForUpdate(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, id, sh.ID)
	assert.Equal(t, models.ShipmentImport, sh.Type)
	assert.Equal(t, "authorized", sh.CustomsStatus)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGGetShipmentNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM shipments WHERE id =`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	if _, err := st.GetShipment(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGSetShipmentFlagWritesOnlyItsColumn(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE shipments SET customs_status =`).
		WithArgs(id, models.CustomsAuthorized).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SetShipmentFlag(context.Background(), id, FlagCustomsStatus, models.CustomsAuthorized); err != nil {
		t.Fatalf("set shipment flag: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGSetShipmentFlagRejectsUnknownFlag(t *testing.T) {
	st, _ := newMockStore(t)
	if err := st.SetShipmentFlag(context.Background(), uuid.New(), "vessel_eta", "x"); err == nil {
		t.Fatalf("unknown flag must not reach the database")
	}
}

func TestPGUpdateShipmentStatusMissingRow(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE shipments SET status =`).
		WithArgs(id, models.ShipmentCompleted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.UpdateShipmentStatus(context.Background(), id, models.ShipmentCompleted)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on zero affected rows, got %v", err)
	}
}

func TestPGRunInTxCommit(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE shipments SET status =`).
		WithArgs(id, models.ShipmentBlocked).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.RunInTx(ctx, func(tx Store) error {
		return tx.UpdateShipmentStatus(ctx, id, models.ShipmentBlocked)
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGRunInTxRollbackOnError(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := st.RunInTx(ctx, func(tx Store) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx should return fn's error unchanged, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGListStagesScansNullTimestamps(t *testing.T) {
	st, mock := newMockStore(t)
	shipmentID := uuid.New()
	started := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "shipment_id", "key", "position", "status", "started_at", "completed_at", "metadata", "updated_by",
	}).
		AddRow(uuid.New().String(), shipmentID.String(), "coleta_dispersa", 0, "in_progress", started, nil, []byte("{}"), "ops-1").
		AddRow(uuid.New().String(), shipmentID.String(), "legalizacao", 1, "pending", nil, nil, []byte("{}"), nil)

	mock.ExpectQuery(`SELECT .+ FROM stages WHERE shipment_id =`).
		WithArgs(shipmentID).
		WillReturnRows(rows)

	stages, err := st.ListStages(context.Background(), shipmentID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("got %d stages", len(stages))
	}
	if stages[0].StartedAt == nil || stages[0].CompletedAt != nil {
		t.Fatalf("first stage timestamps = %+v", stages[0])
	}
	if stages[1].StartedAt != nil || stages[1].UpdatedBy != "" {
		t.Fatalf("nulls should scan to zero values: %+v", stages[1])
	}
}

func TestPGGetPaymentRequestScansNullRefs(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	shipmentID := uuid.New()
	quotationID := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "shipment_id", "phase", "expense_type", "payee", "amount", "currency", "status",
		"quotation_doc_id", "proof_doc_id", "receipt_doc_id", "requested_by", "approved_by", "paid_by", "rejection_reason",
		"requested_at", "approved_at", "rejected_at", "cancelled_at", "payment_started_at", "payment_date", "paid_at", "receipt_attached_at",
	}).AddRow(
		id.String(), shipmentID.String(), "cornelder", "terminal_fees", "Cornelder", "1500.00", "MZN", "pending",
		quotationID.String(), nil, nil, "ops-1", nil, nil, nil,
		now, nil, nil, nil, nil, nil, nil, nil,
	)

	mock.ExpectQuery(`FROM payment_requests WHERE id =`).
		WithArgs(id).
		WillReturnRows(rows)

	pr, err := st.GetPaymentRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("get payment request: %v", err)
	}
	if pr.Status != models.PaymentPending || pr.Phase != models.StageCornelder {
		t.Fatalf("scanned request = %+v", pr)
	}
	if pr.QuotationDocID == nil || *pr.QuotationDocID != quotationID {
		t.Fatalf("quotation ref = %v, want %s", pr.QuotationDocID, quotationID)
	}
	if pr.ProofDocID != nil || pr.ReceiptDocID != nil || pr.ApprovedAt != nil {
		t.Fatalf("null columns must scan to nil: %+v", pr)
	}
}

func TestPGCreateShipment(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO shipments`).
		WithArgs(id, models.ShipmentImport, models.ShipmentActive, "REF-1", "Durban", "Beira", "", "Acme", "ops-1").
		WillReturnRows(shipmentRows(id))

	sh, err := st.CreateShipment(context.Background(), ShipmentInput{
		ID:          id,
		Type:        models.ShipmentImport,
		Status:      models.ShipmentActive,
		Reference:   "REF-1",
		Origin:      "Durban",
		Destination: "Beira",
		ClientName:  "Acme",
		CreatedBy:   "ops-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "REF-1", sh.Reference)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
