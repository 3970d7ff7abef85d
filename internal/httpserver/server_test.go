package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beiralink/forwarding/internal/config"
	"github.com/beiralink/forwarding/internal/service"
	"github.com/beiralink/forwarding/internal/storage"
	"github.com/beiralink/forwarding/internal/store"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{JWTSecret: testSecret, MaxUploadBytes: 1 << 20}
	st := store.NewMemoryStore()
	svc := service.New(st, storage.NewFSBlob(t.TempDir()), nil)
	return New(cfg, svc, st).Router()
}

func mintToken(t *testing.T, subject string, capabilities []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          subject,
		"name":         "Test User",
		"capabilities": capabilities,
		"exp":          time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doUpload(t *testing.T, h http.Handler, path, token, field, fileName string, extra map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("test pdf")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range extra {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/shipments", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestShipmentFlowOverHTTP(t *testing.T) {
	h := newTestServer(t)
	token := mintToken(t, "ops-1", nil)

	rec := doJSON(t, h, http.MethodPost, "/shipments", token, map[string]string{
		"type":      "import",
		"reference": "REF-HTTP-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shipment status = %d, body = %s", rec.Code, rec.Body)
	}
	var created struct {
		Shipment struct {
			ID string `json:"id"`
		} `json:"shipment"`
		Stages []struct {
			Key    string `json:"key"`
			Status string `json:"status"`
		} `json:"stages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(created.Stages) != 7 || created.Stages[0].Status != "in_progress" {
		t.Fatalf("unexpected stages: %+v", created.Stages)
	}
	id := created.Shipment.ID

	// Advancing without the bill of lading fails the document gate.
	rec = doJSON(t, h, http.MethodPost, "/shipments/"+id+"/advance", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("gated advance status = %d, body = %s", rec.Code, rec.Body)
	}
	var gateErr map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &gateErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if gateErr["blockedBy"] != "bl_original" {
		t.Fatalf("blockedBy = %q, want bl_original", gateErr["blockedBy"])
	}

	rec = doUpload(t, h, "/shipments/"+id+"/documents/bl_original", token, "file", "bl.pdf", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodPost, "/shipments/"+id+"/advance", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("advance status = %d, body = %s", rec.Code, rec.Body)
	}
	var tr struct {
		Completed struct {
			Key string `json:"key"`
		} `json:"completed"`
		Started *struct {
			Key string `json:"key"`
		} `json:"started"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode advance response: %v", err)
	}
	if tr.Completed.Key != "coleta_dispersa" || tr.Started == nil || tr.Started.Key != "legalizacao" {
		t.Fatalf("advance result = %+v", tr)
	}

	rec = doJSON(t, h, http.MethodGet, "/shipments/"+id+"/checklist", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checklist status = %d", rec.Code)
	}
}

func TestPaymentRequestOverHTTP(t *testing.T) {
	h := newTestServer(t)
	opsToken := mintToken(t, "ops-1", nil)
	approverToken := mintToken(t, "mgr-1", []string{"approver"})

	rec := doJSON(t, h, http.MethodPost, "/shipments", opsToken, map[string]string{
		"type":      "import",
		"reference": "REF-HTTP-2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shipment status = %d", rec.Code)
	}
	var created struct {
		Shipment struct {
			ID string `json:"id"`
		} `json:"shipment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = doUpload(t, h, "/payment-requests/"+created.Shipment.ID, opsToken, "quotation", "quote.pdf", map[string]string{
		"phase":    "cornelder",
		"payee":    "Cornelder de Mocambique",
		"amount":   "1500.00",
		"currency": "MZN",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create payment request status = %d, body = %s", rec.Code, rec.Body)
	}
	var pr struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pr); err != nil {
		t.Fatalf("decode payment request: %v", err)
	}
	if pr.Status != "pending" {
		t.Fatalf("status = %s, want pending", pr.Status)
	}

	// Approval needs the approver capability.
	rec = doJSON(t, h, http.MethodPost, "/payment-requests/"+pr.ID+"/approve", opsToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("approve without capability status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/payment-requests/"+pr.ID+"/approve", approverToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodGet, "/payment-requests/"+pr.ID, opsToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get payment request status = %d", rec.Code)
	}
	var got struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode payment request: %v", err)
	}
	if got.Status != "approved" {
		t.Fatalf("status = %s, want approved", got.Status)
	}
}

func TestListShipmentsPaginationParams(t *testing.T) {
	h := newTestServer(t)
	token := mintToken(t, "ops-1", nil)

	for _, ref := range []string{"REF-P-1", "REF-P-2", "REF-P-3"} {
		rec := doJSON(t, h, http.MethodPost, "/shipments", token, map[string]string{
			"type":      "import",
			"reference": ref,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %s status = %d", ref, rec.Code)
		}
	}

	listed := func(path string) int {
		rec := doJSON(t, h, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list status = %d for %s", rec.Code, path)
		}
		var body struct {
			Shipments []json.RawMessage `json:"shipments"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode list response: %v", err)
		}
		return len(body.Shipments)
	}

	if n := listed("/shipments?limit=2"); n != 2 {
		t.Fatalf("limit=2 returned %d shipments", n)
	}
	if n := listed("/shipments?limit=2&offset=2"); n != 1 {
		t.Fatalf("limit=2 offset=2 returned %d shipments", n)
	}
	// Unparseable values fall back to the defaults.
	if n := listed("/shipments?limit=abc&offset=-1"); n != 3 {
		t.Fatalf("bad params returned %d shipments", n)
	}
}

func TestUnknownShipmentReturns404(t *testing.T) {
	h := newTestServer(t)
	token := mintToken(t, "ops-1", nil)
	rec := doJSON(t, h, http.MethodGet, "/shipments/11111111-2222-3333-4444-555555555555/progress", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
