// package httpserver exposes the workflow orchestrator over HTTP. Every
// mutating endpoint either fully applies its effect or fails with a
// structured validation/guard error; nothing is partially applied.
package httpserver

import (
	"context"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/beiralink/forwarding/internal/auth"
	"github.com/beiralink/forwarding/internal/config"
	"github.com/beiralink/forwarding/internal/models"
	"github.com/beiralink/forwarding/internal/service"
	"github.com/beiralink/forwarding/internal/store"
)

type Server struct {
	cfg     *config.Config
	service *service.Service
	store   store.Store
}

func New(cfg *config.Config, svc *service.Service, st store.Store) *Server {
	return &Server{cfg: cfg, service: svc, store: st}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.cfg.JWTSecret))

		r.Route("/shipments", func(r chi.Router) {
			r.Post("/", s.handleCreateShipment)
			r.Get("/", s.handleListShipments)
			r.Get("/{id}/progress", s.handleProgress)
			r.Get("/{id}/checklist", s.handleChecklist)
			r.Get("/{id}/activities", s.handleActivities)
			r.Post("/{id}/advance", s.handleAdvance)
			r.Post("/{id}/block", s.handleBlock)
			r.Post("/{id}/unblock", s.handleUnblock)
			r.Post("/{id}/cancel", s.handleCancelShipment)
			r.Post("/{id}/flags", s.handleSetFlag)
			r.Post("/{id}/documents/{docType}", s.handleUploadDocument)
		})

		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Route("/payment-requests", func(r chi.Router) {
			r.Post("/{shipment}", s.handleCreatePaymentRequest)
			r.Get("/{id}", s.handleGetPaymentRequest)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/cancel", s.handleCancelPaymentRequest)
			r.Post("/{id}/start-payment", s.handleStartPayment)
			r.Post("/{id}/confirm-payment", s.handleConfirmPayment)
			r.Post("/{id}/attach-receipt", s.handleAttachReceipt)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{"ok": true, "time": time.Now().UTC()}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func actorFrom(r *http.Request) auth.Actor {
	a, _ := auth.FromContext(r.Context())
	return a
}

func urlID(r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	return id, err == nil
}

// --- Shipments ---

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req service.CreateShipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.service.CreateShipment(r.Context(), actorFrom(r), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// queryInt parses an integer query parameter, falling back to def for
// missing or out-of-range values.
func queryInt(r *http.Request, name string, def, min, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}

func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 200)
	offset := queryInt(r, "offset", 0, 0, 1<<30)
	shipments, err := s.service.ListShipments(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"shipments": shipments})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	view, err := s.service.Progress(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	view, err := s.service.Checklist(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	acts, err := s.service.Activities(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"activities": acts})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	tr, err := s.service.AdvanceStage(r.Context(), actorFrom(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tr)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.service.BlockStage(r.Context(), actorFrom(r), id, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	st, err := s.service.UnblockStage(r.Context(), actorFrom(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancelShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.CancelShipment(r.Context(), actorFrom(r), id, req.Reason); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	var req struct {
		Flag  string `json:"flag"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.SetProgressFlag(r.Context(), actorFrom(r), id, store.ProgressFlag(req.Flag), req.Value); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- Documents ---

// formFile pulls one named file out of a multipart form, enforcing the
// upload ceiling before any bytes reach the orchestrator.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid or oversized multipart form")
		return nil, nil, false
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field "+field)
		return nil, nil, false
	}
	return f, hdr, true
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	f, hdr, ok := s.formFile(w, r, "file")
	if !ok {
		return
	}
	defer f.Close()

	doc, err := s.service.UploadDocument(r.Context(), actorFrom(r), service.UploadDocumentRequest{
		ShipmentID: id,
		Type:       models.DocumentType(chi.URLParam(r, "docType")),
		FileName:   hdr.Filename,
		Size:       hdr.Size,
		Content:    f,
		Metadata:   []byte(r.FormValue("metadata")),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := s.service.DeleteDocument(r.Context(), actorFrom(r), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Payment requests ---

func (s *Server) handleCreatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	shipmentID, ok := urlID(r, "shipment")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid shipment id")
		return
	}
	f, hdr, ok := s.formFile(w, r, "quotation")
	if !ok {
		return
	}
	defer f.Close()

	pr, err := s.service.CreatePaymentRequest(r.Context(), actorFrom(r), service.CreatePaymentRequestRequest{
		ShipmentID:  shipmentID,
		Phase:       models.StageKey(r.FormValue("phase")),
		ExpenseType: r.FormValue("expenseType"),
		Payee:       r.FormValue("payee"),
		Amount:      r.FormValue("amount"),
		Currency:    r.FormValue("currency"),
		Quotation: service.DocumentUpload{
			FileName: hdr.Filename,
			Size:     hdr.Size,
			Content:  f,
			Metadata: []byte(r.FormValue("metadata")),
		},
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, pr)
}

func (s *Server) handleGetPaymentRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid payment request id")
		return
	}
	pr, err := s.service.GetPaymentRequest(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid payment request id")
		return
	}
	pr, err := s.service.ApprovePaymentRequest(r.Context(), actorFrom(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid payment request id")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pr, err := s.service.RejectPaymentRequest(r.Context(), actorFrom(r), id, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleCancelPaymentRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid payment request id")
		return
	}
	pr, err := s.service.CancelPaymentRequest(r.Context(), actorFrom(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleStartPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid payment request id")
		return
	}
	pr, err := s.service.StartPayment(r.Context(), actorFrom(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid payment request id")
		return
	}
	f, hdr, ok := s.formFile(w, r, "proof")
	if !ok {
		return
	}
	defer f.Close()

	paymentDate, err := time.Parse(time.RFC3339, r.FormValue("paymentDate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "paymentDate must be RFC3339")
		return
	}
	pr, err := s.service.ConfirmPayment(r.Context(), actorFrom(r), service.ConfirmPaymentRequest{
		RequestID:   id,
		PaymentDate: paymentDate,
		Proof: service.DocumentUpload{
			FileName: hdr.Filename,
			Size:     hdr.Size,
			Content:  f,
			Metadata: []byte(r.FormValue("metadata")),
		},
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleAttachReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid payment request id")
		return
	}
	f, hdr, ok := s.formFile(w, r, "receipt")
	if !ok {
		return
	}
	defer f.Close()

	result, err := s.service.AttachReceipt(r.Context(), actorFrom(r), service.AttachReceiptRequest{
		RequestID: id,
		Receipt: service.DocumentUpload{
			FileName: hdr.Filename,
			Size:     hdr.Size,
			Content:  f,
			Metadata: []byte(r.FormValue("metadata")),
		},
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
