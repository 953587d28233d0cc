package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store/memory"
)

// newTestAPI builds a full API with the seeded in-memory store, a real
// AuthManager and real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopReportCache{}, 5*time.Second, 5)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_ListsWithClassification(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.ProductView `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatalf("expected seeded products")
	}
	for _, p := range body.Products {
		if p.StockStatus == "" {
			t.Fatalf("product %s missing stock status", p.ID)
		}
	}
}

func TestHandleRecordSale_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	payload, _ := json.Marshal(domain.SaleRequest{
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-seed-noodle", Quantity: 2, SalePriceCents: 5000},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Sale == nil || resp.Sale.TotalAmountCents != 10000 {
		t.Fatalf("unexpected sale response: %+v", resp)
	}
}

func TestHandleListSales_ReturnsWindowedSales(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	payload, _ := json.Marshal(domain.SaleRequest{
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-seed-noodle", Quantity: 3, SalePriceCents: 5000},
		},
	})
	saleReq := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	saleReq.Header.Set("Content-Type", "application/json")
	saleReq.Header.Set("Authorization", "Bearer "+token)
	saleReq.Header.Set("X-CSRF-Token", csrf)
	saleRec := httptest.NewRecorder()
	handler.ServeHTTP(saleRec, saleReq)
	if saleRec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", saleRec.Code, saleRec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales?period=daily", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var listing domain.SaleListResponse
	if err := json.NewDecoder(rec.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Period != "daily" {
		t.Fatalf("expected period daily, got %s", listing.Period)
	}
	if len(listing.Sales) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(listing.Sales))
	}
	if listing.Sales[0].TotalAmountCents != 15000 {
		t.Fatalf("expected total 15000, got %d", listing.Sales[0].TotalAmountCents)
	}
}

func TestHandleListSales_RejectsBadAnchor(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales?period=daily&anchor=not-a-date", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed anchor, got %d", rec.Code)
	}
}

func TestHandleProfitReport_RejectsBadAnchor(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/profit?anchor=2025-13-99", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed anchor, got %d", rec.Code)
	}
}

func TestHandleRecordSale_InsufficientStock(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	// The seeded candle product has zero stock.
	payload, _ := json.Marshal(domain.SaleRequest{
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-seed-candle", Quantity: 1, SalePriceCents: 500},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Error      string                 `json:"error"`
		Rejections []domain.SaleRejection `json:"rejections"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Rejections) != 1 || body.Rejections[0].Reason != domain.RejectInsufficientStock {
		t.Fatalf("expected one insufficient-stock rejection, got %+v", body.Rejections)
	}
}

func TestMutatingRequestRequiresCSRF(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	payload, _ := json.Marshal(domain.SaleRequest{
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-seed-noodle", Quantity: 1, SalePriceCents: 5000},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestUsersEndpointRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
}

func TestCreateUserThenFirstLoginFlagsPasswordChange(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginAs(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)

	payload, _ := json.Marshal(domain.UserCreateRequest{
		Username:    "newclerk",
		Password:    "initial1",
		Role:        "cashier",
		FullName:    "New Clerk",
		LicenseYear: "2099",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	loginPayload, _ := json.Marshal(map[string]string{
		"username": "newclerk",
		"password": "initial1",
	})
	loginReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(loginPayload))
	loginReq.Header.Set("Content-Type", "application/json")
	loginRec := httptest.NewRecorder()
	handler.ServeHTTP(loginRec, loginReq)

	if loginRec.Code != http.StatusOK {
		t.Fatalf("login as new user failed: %d %s", loginRec.Code, loginRec.Body.String())
	}
	var loginResp domain.LoginResponse
	if err := json.NewDecoder(loginRec.Body).Decode(&loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if !loginResp.MustChangePassword {
		t.Fatalf("expected first login to require a password change")
	}
}

func TestHandleChangePassword_WrongCurrent(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	payload, _ := json.Marshal(domain.ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "brandnew1",
		ConfirmPassword: "brandnew1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/change-password", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProfitReport(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)

	salePayload, _ := json.Marshal(domain.SaleRequest{
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-seed-soap", Quantity: 2, SalePriceCents: 70000},
		},
	})
	saleReq := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(salePayload))
	saleReq.Header.Set("Content-Type", "application/json")
	saleReq.Header.Set("Authorization", "Bearer "+token)
	saleReq.Header.Set("X-CSRF-Token", csrf)
	saleRec := httptest.NewRecorder()
	handler.ServeHTTP(saleRec, saleReq)
	if saleRec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", saleRec.Code, saleRec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/profit?period=daily", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var rep domain.ProfitReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.RevenueCents != 140000 {
		t.Fatalf("expected revenue 140000, got %d", rep.RevenueCents)
	}
	if rep.CostCents != 90000 {
		t.Fatalf("expected cost 90000, got %d", rep.CostCents)
	}
}
