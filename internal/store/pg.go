package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beiralink/forwarding/internal/models"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PGStore persists the workflow entities into Postgres.
type PGStore struct {
	db *sql.DB
	pgQueries
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, pgQueries: pgQueries{q: db}}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// RunInTx opens a transaction and runs fn against a transaction-scoped
// store. Any error from fn rolls everything back and is returned
// unchanged.
func (p *PGStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &pgTx{tx: sqlTx, pgQueries: pgQueries{q: sqlTx}}
	if err := fn(txStore); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgTx is the transaction-scoped store.
type pgTx struct {
	tx *sql.Tx
	pgQueries
}

// RunInTx inside an open transaction joins it.
func (t *pgTx) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *pgTx) Ping(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `SELECT 1`)
	return err
}

// pgQueries implements the entity operations against either *sql.DB or
// *sql.Tx.
type pgQueries struct {
	q queryer
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const shipmentColumns = `id, type, status, reference, origin, destination, cargo, client_name,
	quotation_status, customs_status, cornelder_payment_status, created_by, created_at, updated_at`

func scanShipment(row rowScanner) (models.Shipment, error) {
	var sh models.Shipment
	if err := row.Scan(
		&sh.ID,
		&sh.Type,
		&sh.Status,
		&sh.Reference,
		&sh.Origin,
		&sh.Destination,
		&sh.Cargo,
		&sh.ClientName,
		&sh.QuotationStatus,
		&sh.CustomsStatus,
		&sh.CornelderPaymentStatus,
		&sh.CreatedBy,
		&sh.CreatedAt,
		&sh.UpdatedAt,
	); err != nil {
		return models.Shipment{}, err
	}
	return sh, nil
}

func (p pgQueries) CreateShipment(ctx context.Context, in ShipmentInput) (models.Shipment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO shipments (id, type, status, reference, origin, destination, cargo, client_name, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING ` + shipmentColumns
	row := p.q.QueryRowContext(ctx, query,
		in.ID, in.Type, in.Status, in.Reference, in.Origin, in.Destination, in.Cargo, in.ClientName, in.CreatedBy)
	sh, err := scanShipment(row)
	if err != nil {
		return models.Shipment{}, fmt.Errorf("insert shipment: %w", err)
	}
	return sh, nil
}

func (p pgQueries) getShipment(ctx context.Context, id uuid.UUID, lock bool) (models.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	sh, err := scanShipment(p.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Shipment{}, ErrNotFound
		}
		return models.Shipment{}, fmt.Errorf("query shipment: %w", err)
	}
	return sh, nil
}

func (p pgQueries) GetShipment(ctx context.Context, id uuid.UUID) (models.Shipment, error) {
	return p.getShipment(ctx, id, false)
}

// GetShipmentForUpdate takes a row lock so two concurrent advance calls
// on the same shipment serialize; the second re-reads post-commit state
// and fails its guard instead of double-advancing.
func (p pgQueries) GetShipmentForUpdate(ctx context.Context, id uuid.UUID) (models.Shipment, error) {
	return p.getShipment(ctx, id, true)
}

func (p pgQueries) UpdateShipmentStatus(ctx context.Context, id uuid.UUID, status models.ShipmentStatus) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE shipments SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update shipment status: %w", err)
	}
	return requireRow(res)
}

func (p pgQueries) SetShipmentFlag(ctx context.Context, id uuid.UUID, flag ProgressFlag, value string) error {
	var column string
	switch flag {
	case FlagQuotationStatus:
		column = "quotation_status"
	case FlagCustomsStatus:
		column = "customs_status"
	case FlagCornelderPaymentStatus:
		column = "cornelder_payment_status"
	default:
		return fmt.Errorf("unknown progress flag %q", flag)
	}
	res, err := p.q.ExecContext(ctx,
		`UPDATE shipments SET `+column+` = $2, updated_at = now() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("set shipment flag: %w", err)
	}
	return requireRow(res)
}

func (p pgQueries) ListShipments(ctx context.Context, limit, offset int) ([]models.Shipment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()
	var out []models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

const stageColumns = `id, shipment_id, key, position, status, started_at, completed_at, metadata, updated_by`

func scanStage(row rowScanner) (models.Stage, error) {
	var (
		st        models.Stage
		started   sql.NullTime
		completed sql.NullTime
		metadata  []byte
		updatedBy sql.NullString
	)
	if err := row.Scan(
		&st.ID,
		&st.ShipmentID,
		&st.Key,
		&st.Position,
		&st.Status,
		&started,
		&completed,
		&metadata,
		&updatedBy,
	); err != nil {
		return models.Stage{}, err
	}
	if started.Valid {
		tt := started.Time
		st.StartedAt = &tt
	}
	if completed.Valid {
		tt := completed.Time
		st.CompletedAt = &tt
	}
	st.Metadata = append(st.Metadata, metadata...)
	if updatedBy.Valid {
		st.UpdatedBy = updatedBy.String
	}
	return st, nil
}

func (p pgQueries) CreateStage(ctx context.Context, in StageInput) (models.Stage, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO stages (id, shipment_id, key, position, status, started_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,'{}')
		RETURNING ` + stageColumns
	st, err := scanStage(p.q.QueryRowContext(ctx, query, in.ID, in.ShipmentID, in.Key, in.Position, in.Status, in.StartedAt))
	if err != nil {
		return models.Stage{}, fmt.Errorf("insert stage: %w", err)
	}
	return st, nil
}

func (p pgQueries) ListStages(ctx context.Context, shipmentID uuid.UUID) ([]models.Stage, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE shipment_id = $1 ORDER BY position`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()
	var out []models.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p pgQueries) UpdateStage(ctx context.Context, in StageUpdate) (models.Stage, error) {
	query := `
		UPDATE stages SET
			status = $2,
			started_at = COALESCE($3, started_at),
			completed_at = COALESCE($4, completed_at),
			metadata = COALESCE($5, metadata),
			updated_by = CASE WHEN $6 = '' THEN updated_by ELSE $6 END
		WHERE id = $1
		RETURNING ` + stageColumns
	var metadata interface{}
	if len(in.Metadata) > 0 {
		metadata = []byte(in.Metadata)
	}
	st, err := scanStage(p.q.QueryRowContext(ctx, query, in.ID, in.Status, in.StartedAt, in.CompletedAt, metadata, in.UpdatedBy))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Stage{}, ErrNotFound
		}
		return models.Stage{}, fmt.Errorf("update stage: %w", err)
	}
	return st, nil
}

const documentColumns = `id, shipment_id, doc_type, file_name, path, size_bytes, uploaded_by, metadata, created_at`

func scanDocument(row rowScanner) (models.Document, error) {
	var (
		doc      models.Document
		metadata []byte
	)
	if err := row.Scan(
		&doc.ID,
		&doc.ShipmentID,
		&doc.Type,
		&doc.FileName,
		&doc.Path,
		&doc.Size,
		&doc.UploadedBy,
		&metadata,
		&doc.CreatedAt,
	); err != nil {
		return models.Document{}, err
	}
	doc.Metadata = append(doc.Metadata, metadata...)
	return doc, nil
}

func (p pgQueries) InsertDocument(ctx context.Context, in DocumentInput) (models.Document, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO documents (id, shipment_id, doc_type, file_name, path, size_bytes, uploaded_by, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING ` + documentColumns
	doc, err := scanDocument(p.q.QueryRowContext(ctx, query,
		in.ID, in.ShipmentID, in.Type, in.FileName, in.Path, in.Size, in.UploadedBy, ensureJSON(in.Metadata, "{}")))
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (p pgQueries) GetDocument(ctx context.Context, id uuid.UUID) (models.Document, error) {
	doc, err := scanDocument(p.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Document{}, ErrNotFound
		}
		return models.Document{}, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

func (p pgQueries) ListDocuments(ctx context.Context, shipmentID uuid.UUID) ([]models.Document, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE shipment_id = $1 ORDER BY created_at`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (p pgQueries) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(res)
}

const paymentColumns = `id, shipment_id, phase, expense_type, payee, amount, currency, status,
	quotation_doc_id, proof_doc_id, receipt_doc_id, requested_by, approved_by, paid_by, rejection_reason,
	requested_at, approved_at, rejected_at, cancelled_at, payment_started_at, payment_date, paid_at, receipt_attached_at`

func scanPaymentRequest(row rowScanner) (models.PaymentRequest, error) {
	var (
		pr                                  models.PaymentRequest
		quotationDoc, proofDoc, receiptDoc  sql.NullString
		approvedBy, paidBy, rejectionReason sql.NullString
		approvedAt, rejectedAt, cancelledAt sql.NullTime
		paymentStartedAt, paymentDate       sql.NullTime
		paidAt, receiptAttachedAt           sql.NullTime
	)
	if err := row.Scan(
		&pr.ID,
		&pr.ShipmentID,
		&pr.Phase,
		&pr.ExpenseType,
		&pr.Payee,
		&pr.Amount,
		&pr.Currency,
		&pr.Status,
		&quotationDoc,
		&proofDoc,
		&receiptDoc,
		&pr.RequestedBy,
		&approvedBy,
		&paidBy,
		&rejectionReason,
		&pr.RequestedAt,
		&approvedAt,
		&rejectedAt,
		&cancelledAt,
		&paymentStartedAt,
		&paymentDate,
		&paidAt,
		&receiptAttachedAt,
	); err != nil {
		return models.PaymentRequest{}, err
	}
	pr.QuotationDocID = nullUUID(quotationDoc)
	pr.ProofDocID = nullUUID(proofDoc)
	pr.ReceiptDocID = nullUUID(receiptDoc)
	if approvedBy.Valid {
		pr.ApprovedBy = approvedBy.String
	}
	if paidBy.Valid {
		pr.PaidBy = paidBy.String
	}
	if rejectionReason.Valid {
		pr.RejectionReason = rejectionReason.String
	}
	pr.ApprovedAt = nullTime(approvedAt)
	pr.RejectedAt = nullTime(rejectedAt)
	pr.CancelledAt = nullTime(cancelledAt)
	pr.PaymentStartedAt = nullTime(paymentStartedAt)
	pr.PaymentDate = nullTime(paymentDate)
	pr.PaidAt = nullTime(paidAt)
	pr.ReceiptAttachedAt = nullTime(receiptAttachedAt)
	return pr, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

func nullUUID(s sql.NullString) *uuid.UUID {
	if !s.Valid {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}

func (p pgQueries) InsertPaymentRequest(ctx context.Context, in PaymentRequestInput) (models.PaymentRequest, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO payment_requests
			(id, shipment_id, phase, expense_type, payee, amount, currency, status, quotation_doc_id, requested_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING ` + paymentColumns
	pr, err := scanPaymentRequest(p.q.QueryRowContext(ctx, query,
		in.ID, in.ShipmentID, in.Phase, in.ExpenseType, in.Payee, in.Amount, in.Currency, in.Status, in.QuotationDocID, in.RequestedBy))
	if err != nil {
		return models.PaymentRequest{}, fmt.Errorf("insert payment request: %w", err)
	}
	return pr, nil
}

func (p pgQueries) GetPaymentRequest(ctx context.Context, id uuid.UUID) (models.PaymentRequest, error) {
	pr, err := scanPaymentRequest(p.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_requests WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.PaymentRequest{}, ErrNotFound
		}
		return models.PaymentRequest{}, fmt.Errorf("query payment request: %w", err)
	}
	return pr, nil
}

func (p pgQueries) ListPaymentRequests(ctx context.Context, shipmentID uuid.UUID) ([]models.PaymentRequest, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_requests WHERE shipment_id = $1 ORDER BY requested_at`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("list payment requests: %w", err)
	}
	defer rows.Close()
	var out []models.PaymentRequest
	for rows.Next() {
		pr, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p pgQueries) UpdatePaymentRequest(ctx context.Context, in PaymentRequestUpdate) (models.PaymentRequest, error) {
	query := `
		UPDATE payment_requests SET
			status = $2,
			approved_by = COALESCE($3, approved_by),
			paid_by = COALESCE($4, paid_by),
			rejection_reason = COALESCE($5, rejection_reason),
			proof_doc_id = COALESCE($6, proof_doc_id),
			receipt_doc_id = COALESCE($7, receipt_doc_id),
			approved_at = COALESCE($8, approved_at),
			rejected_at = COALESCE($9, rejected_at),
			cancelled_at = COALESCE($10, cancelled_at),
			payment_started_at = COALESCE($11, payment_started_at),
			payment_date = COALESCE($12, payment_date),
			paid_at = COALESCE($13, paid_at),
			receipt_attached_at = COALESCE($14, receipt_attached_at)
		WHERE id = $1
		RETURNING ` + paymentColumns
	pr, err := scanPaymentRequest(p.q.QueryRowContext(ctx, query,
		in.ID, in.Status, in.ApprovedBy, in.PaidBy, in.RejectionReason, in.ProofDocID, in.ReceiptDocID,
		in.ApprovedAt, in.RejectedAt, in.CancelledAt, in.PaymentStartedAt, in.PaymentDate, in.PaidAt, in.ReceiptAttachedAt))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.PaymentRequest{}, ErrNotFound
		}
		return models.PaymentRequest{}, fmt.Errorf("update payment request: %w", err)
	}
	return pr, nil
}

const activityColumns = `id, shipment_id, actor_id, actor_name, action, description, metadata, created_at`

func scanActivity(row rowScanner) (models.Activity, error) {
	var (
		act      models.Activity
		metadata []byte
	)
	if err := row.Scan(
		&act.ID,
		&act.ShipmentID,
		&act.ActorID,
		&act.ActorName,
		&act.Action,
		&act.Description,
		&metadata,
		&act.CreatedAt,
	); err != nil {
		return models.Activity{}, err
	}
	act.Metadata = append(act.Metadata, metadata...)
	return act, nil
}

func (p pgQueries) InsertActivity(ctx context.Context, in ActivityInput) (models.Activity, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO activities (id, shipment_id, actor_id, actor_name, action, description, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING ` + activityColumns
	act, err := scanActivity(p.q.QueryRowContext(ctx, query,
		in.ID, in.ShipmentID, in.ActorID, in.ActorName, in.Action, in.Description, ensureJSON(in.Metadata, "{}")))
	if err != nil {
		return models.Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return act, nil
}

func (p pgQueries) ListActivities(ctx context.Context, shipmentID uuid.UUID) ([]models.Activity, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE shipment_id = $1 ORDER BY created_at`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	var out []models.Activity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
