package handlers

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nurealazmie002/santri-billing-core/gateway"
	"github.com/nurealazmie002/santri-billing-core/models"
	"github.com/nurealazmie002/santri-billing-core/services"
)

const testServerKey = "test-server-key"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.PaymentAttempt{},
		&models.Transaction{},
		&models.GatewayEvent{},
	))
	return db
}

type mockGateway struct{}

func (m *mockGateway) OpenSession(ctx context.Context, orderID string, amount int64) (*gateway.Session, error) {
	return &gateway.Session{OrderID: orderID, Token: "snap-token"}, nil
}

func (m *mockGateway) PollStatus(ctx context.Context, orderID string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Outcome: gateway.OutcomePending}, nil
}

type mockDirectory struct{}

func (m *mockDirectory) GetStudent(id string) (*services.Student, error) {
	if id == "santri-1" {
		return &services.Student{ID: id, DisplayName: "Ahmad Fauzi", NIS: "2024001"}, nil
	}
	return nil, fmt.Errorf("student %s not found", id)
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)

	invoices := services.NewInvoiceStore(db)
	transactions := services.NewTransactionStore(db)
	reconciler := services.NewReconciler(db, &mockGateway{}, zerolog.Nop())
	aggregator := services.NewAggregator(db, &mockDirectory{}, zerolog.Nop())
	h := NewBillingHandler(invoices, transactions, reconciler, aggregator, &mockDirectory{}, testServerKey, zerolog.Nop())

	router := gin.New()
	api := router.Group("/api/v1")
	api.POST("/invoices", h.CreateInvoice)
	api.GET("/invoices", h.ListInvoices)
	api.GET("/invoices/:id", h.GetInvoice)
	api.POST("/invoices/:id/cancel", h.CancelInvoice)
	api.POST("/invoices/:id/payment-sessions", h.OpenPaymentSession)
	api.GET("/invoices/:id/receipt", h.InvoiceReceipt)
	api.POST("/payments/notification", h.GatewayNotification)
	api.POST("/payment-attempts/:id/sync", h.SyncPaymentAttempt)
	api.POST("/transactions", h.CreateTransaction)
	api.GET("/transactions", h.ListTransactions)
	api.GET("/transactions/:id", h.GetTransaction)
	api.PUT("/transactions/:id", h.UpdateTransaction)
	api.DELETE("/transactions/:id", h.DeleteTransaction)
	api.GET("/dashboard/cashflow", h.CashFlow)
	api.GET("/dashboard/unpaid", h.UnpaidInvoices)
	return router, db
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func createInvoice(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, "POST", "/api/v1/invoices", gin.H{
		"student_id": "santri-1",
		"items":      []gin.H{{"description": "SPP Januari", "unit_amount": 500000, "quantity": 1}},
		"due_date":   time.Now().AddDate(0, 0, 7).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Invoice models.Invoice `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Invoice.ID
}

func openSession(t *testing.T, router *gin.Engine, invoiceID string, amount int64) string {
	t.Helper()
	w := doJSON(router, "POST", "/api/v1/invoices/"+invoiceID+"/payment-sessions", gin.H{"amount": amount})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		AttemptID    string `json:"attempt_id"`
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "snap-token", resp.SessionToken)
	return resp.AttemptID
}

func signNotification(n gin.H) gin.H {
	h := sha512.Sum512([]byte(n["order_id"].(string) + n["status_code"].(string) + n["gross_amount"].(string) + testServerKey))
	n["signature_key"] = hex.EncodeToString(h[:])
	return n
}

func TestInvoicePaymentFlow(t *testing.T) {
	router, _ := setupRouter(t)

	invoiceID := createInvoice(t, router)
	attemptID := openSession(t, router, invoiceID, 500000)

	notification := signNotification(gin.H{
		"order_id":           attemptID,
		"transaction_id":     "T1",
		"transaction_status": "settlement",
		"status_code":        "200",
		"gross_amount":       "500000.00",
	})
	w := doJSON(router, "POST", "/api/v1/payments/notification", notification)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.InvoiceStatusPaid)

	w = doJSON(router, "GET", "/api/v1/invoices/"+invoiceID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"effective_status":"PAID"`)

	w = doJSON(router, "GET", "/api/v1/invoices/"+invoiceID+"/receipt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var receipt services.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, int64(500000), receipt.TotalAmount)
	assert.Equal(t, "Ahmad Fauzi", receipt.PayerName)
}

func TestGatewayNotificationFailsClosed(t *testing.T) {
	router, db := setupRouter(t)

	invoiceID := createInvoice(t, router)
	attemptID := openSession(t, router, invoiceID, 500000)

	notification := gin.H{
		"order_id":           attemptID,
		"transaction_id":     "T1",
		"transaction_status": "settlement",
		"status_code":        "200",
		"gross_amount":       "500000.00",
		"signature_key":      "forged",
	}
	w := doJSON(router, "POST", "/api/v1/payments/notification", notification)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The forged notification is dropped, never applied.
	var inv models.Invoice
	require.NoError(t, db.First(&inv, "id = ?", invoiceID).Error)
	assert.Equal(t, models.InvoiceStatusPending, inv.Status)
}

func TestDuplicateNotificationIsDeduped(t *testing.T) {
	router, _ := setupRouter(t)

	invoiceID := createInvoice(t, router)
	attemptID := openSession(t, router, invoiceID, 500000)

	notification := signNotification(gin.H{
		"order_id":           attemptID,
		"transaction_id":     "T1",
		"transaction_status": "settlement",
		"status_code":        "200",
		"gross_amount":       "500000.00",
	})

	w := doJSON(router, "POST", "/api/v1/payments/notification", notification)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deduped":false`)

	w = doJSON(router, "POST", "/api/v1/payments/notification", notification)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deduped":true`)
}

func TestOpenSessionPreconditions(t *testing.T) {
	router, _ := setupRouter(t)
	invoiceID := createInvoice(t, router)

	t.Run("Amount Mismatch", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/v1/invoices/"+invoiceID+"/payment-sessions", gin.H{"amount": 123})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Cancelled Invoice", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/v1/invoices/"+invoiceID+"/cancel", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(router, "POST", "/api/v1/invoices/"+invoiceID+"/payment-sessions", gin.H{"amount": 500000})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestCreateInvoiceValidation(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, "POST", "/api/v1/invoices", gin.H{
		"student_id": "santri-1",
		"items":      []gin.H{{"description": "SPP", "unit_amount": 500000, "quantity": 0}},
		"due_date":   time.Now().AddDate(0, 0, 7).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionEndpoints(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, "POST", "/api/v1/transactions", gin.H{
		"type":        models.TransactionTypeIncome,
		"amount":      250000,
		"description": "Infaq wali santri",
		"occurred_at": time.Now().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	t.Run("List", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/v1/transactions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), created.ID)
	})

	t.Run("Update", func(t *testing.T) {
		w := doJSON(router, "PUT", "/api/v1/transactions/"+created.ID, gin.H{
			"type":        models.TransactionTypeExpense,
			"amount":      100000,
			"occurred_at": time.Now().Format(time.RFC3339),
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), models.TransactionTypeExpense)
	})

	t.Run("Invalid Type Rejected", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/v1/transactions", gin.H{
			"type":        "TRANSFER",
			"amount":      1000,
			"occurred_at": time.Now().Format(time.RFC3339),
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		w := doJSON(router, "DELETE", "/api/v1/transactions/"+created.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(router, "GET", "/api/v1/transactions/"+created.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDashboardEndpoints(t *testing.T) {
	router, _ := setupRouter(t)
	invoiceID := createInvoice(t, router)
	attemptID := openSession(t, router, invoiceID, 500000)

	notification := signNotification(gin.H{
		"order_id":           attemptID,
		"transaction_id":     "T1",
		"transaction_status": "settlement",
		"status_code":        "200",
		"gross_amount":       "500000.00",
	})
	w := doJSON(router, "POST", "/api/v1/payments/notification", notification)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("Cashflow", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/v1/dashboard/cashflow?months=1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var buckets []services.MonthBucket
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buckets))
		require.Len(t, buckets, 1)
		assert.Equal(t, int64(500000), buckets[0].Income)
	})

	t.Run("Cashflow Bad Months", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/v1/dashboard/cashflow?months=abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unpaid Excludes Paid Invoice", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/v1/dashboard/unpaid", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), invoiceID)
	})
}

func TestFailStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"Validation", &services.ValidationError{Msg: "bad items"}, http.StatusBadRequest},
		{"Wrapped Not Found", fmt.Errorf("load receipt: %w", &services.NotFoundError{Kind: "invoice", ID: "x"}), http.StatusNotFound},
		{"Wrapped Transient", fmt.Errorf("sync attempt: %w", &services.TransientError{Err: errors.New("gateway timed out")}), http.StatusServiceUnavailable},
		{"Wrapped Conflict", fmt.Errorf("apply: %w", &services.ConflictError{Msg: "already settled"}), http.StatusConflict},
		{"Unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			fail(c, tc.err)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
