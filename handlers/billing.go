package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nurealazmie002/santri-billing-core/gateway"
	"github.com/nurealazmie002/santri-billing-core/models"
	"github.com/nurealazmie002/santri-billing-core/services"
)

// BillingHandler wires the billing core to the internal HTTP API the
// portal UI calls.
type BillingHandler struct {
	invoices     *services.InvoiceStore
	transactions *services.TransactionStore
	reconciler   *services.Reconciler
	aggregator   *services.Aggregator
	students     services.StudentDirectory
	serverKey    string
	log          zerolog.Logger
}

func NewBillingHandler(
	invoices *services.InvoiceStore,
	transactions *services.TransactionStore,
	reconciler *services.Reconciler,
	aggregator *services.Aggregator,
	students services.StudentDirectory,
	serverKey string,
	log zerolog.Logger,
) *BillingHandler {
	return &BillingHandler{
		invoices:     invoices,
		transactions: transactions,
		reconciler:   reconciler,
		aggregator:   aggregator,
		students:     students,
		serverKey:    serverKey,
		log:          log.With().Str("component", "http").Logger(),
	}
}

// fail maps the service error taxonomy onto HTTP statuses.
func fail(c *gin.Context, err error) {
	var (
		verr *services.ValidationError
		perr *services.PreconditionError
		serr *services.InvalidStateError
		cerr *services.ConflictError
		terr *services.TransientError
		nerr *services.NotFoundError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &perr), errors.As(err, &serr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &cerr):
		status = http.StatusConflict
	case errors.As(err, &terr):
		status = http.StatusServiceUnavailable
	case errors.As(err, &nerr):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type CreateInvoiceRequest struct {
	StudentID string                    `json:"student_id" binding:"required"`
	Items     []services.NewInvoiceItem `json:"items" binding:"required"`
	DueDate   time.Time                 `json:"due_date" binding:"required"`
	Notes     string                    `json:"notes"`
}

func (h *BillingHandler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inv, err := h.invoices.Create(req.StudentID, req.Items, req.DueDate, req.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoiceView(inv, time.Now()))
}

// invoiceView decorates an invoice with its read-time effective status,
// so overdue-ness shows without ever being written.
func invoiceView(inv *models.Invoice, now time.Time) gin.H {
	return gin.H{
		"invoice":          inv,
		"effective_status": models.EffectiveStatus(inv, now),
	}
}

func (h *BillingHandler) GetInvoice(c *gin.Context) {
	inv, err := h.invoices.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, invoiceView(inv, time.Now()))
}

func (h *BillingHandler) ListInvoices(c *gin.Context) {
	invoices, err := h.invoices.List()
	if err != nil {
		fail(c, err)
		return
	}
	now := time.Now()
	views := make([]gin.H, len(invoices))
	for i := range invoices {
		views[i] = invoiceView(&invoices[i], now)
	}
	c.JSON(http.StatusOK, views)
}

func (h *BillingHandler) CancelInvoice(c *gin.Context) {
	if err := h.invoices.Cancel(c.Param("id"), time.Now()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.InvoiceStatusCancelled})
}

type OpenSessionRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (h *BillingHandler) OpenPaymentSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attempt, err := h.reconciler.OpenSession(c.Request.Context(), c.Param("id"), req.Amount, time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"attempt_id":    attempt.ID,
		"session_token": attempt.SessionToken,
	})
}

// GatewayNotification handles the signed webhook. Verification fails
// closed: an unverified notification is dropped and logged, never
// applied.
func (h *BillingHandler) GatewayNotification(c *gin.Context) {
	var n gateway.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !gateway.VerifySignature(&n, h.serverKey) {
		h.log.Warn().Str("order_id", n.OrderID).Str("transaction_id", n.TransactionID).
			Msg("dropping gateway notification with invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	outcome := gateway.NormalizeStatus(n.TransactionStatus, n.FraudStatus)
	result, err := h.reconciler.ApplyOutcome(n.OrderID, outcome, n.TransactionID, time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SyncPaymentAttempt polls the gateway and applies whatever it reports.
// Used by the UI when callback delivery is uncertain; an ambiguous
// answer leaves the attempt untouched and shows as still processing.
func (h *BillingHandler) SyncPaymentAttempt(c *gin.Context) {
	result, err := h.reconciler.Sync(c.Request.Context(), c.Param("id"), time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *BillingHandler) InvoiceReceipt(c *gin.Context) {
	inv, err := h.invoices.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	payerName := ""
	if s, err := h.students.GetStudent(inv.StudentID); err == nil {
		payerName = s.DisplayName
	}

	receipt, err := services.ReceiptFromInvoice(inv, payerName, time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *BillingHandler) CreateTransaction(c *gin.Context) {
	var req services.NewTransaction
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.transactions.Create(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *BillingHandler) GetTransaction(c *gin.Context) {
	t, err := h.transactions.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *BillingHandler) ListTransactions(c *gin.Context) {
	txs, err := h.transactions.List(c.Query("month"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *BillingHandler) UpdateTransaction(c *gin.Context) {
	var req services.NewTransaction
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.transactions.Update(c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *BillingHandler) DeleteTransaction(c *gin.Context) {
	if err := h.transactions.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (h *BillingHandler) TransactionReceipt(c *gin.Context) {
	t, err := h.transactions.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	receipt, err := services.ReceiptFromTransaction(t, time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *BillingHandler) CashFlow(c *gin.Context) {
	months := 6
	if v := c.Query("months"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "months must be a positive integer"})
			return
		}
		months = parsed
	}

	buckets, err := h.aggregator.CashFlowByMonth(months, time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (h *BillingHandler) UnpaidInvoices(c *gin.Context) {
	summary, err := h.aggregator.UnpaidSummary(time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
