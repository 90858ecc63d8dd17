package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

// Outcome is the canonical result of a payment attempt as reported by
// the gateway, after normalization. Both the webhook path and the
// polling path produce this same shape.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomePending   Outcome = "PENDING"
	OutcomeExpired   Outcome = "EXPIRED"
)

// Session is an opened checkout session. Token is opaque and handed to
// the client-side checkout UI; the core never interprets it.
type Session struct {
	OrderID string
	Token   string
}

// StatusResult is the gateway's answer to a status poll.
type StatusResult struct {
	Outcome       Outcome
	TransactionID string
}

// ErrTimeout marks a gateway call that did not complete in time. Callers
// must treat it as "outcome unknown", never as a failed payment.
var ErrTimeout = errors.New("gateway request timed out")

// Client is the payment-gateway boundary the core consumes. It only
// opens sessions and reads status; it never mutates invoice state.
type Client interface {
	OpenSession(ctx context.Context, orderID string, amount int64) (*Session, error)
	PollStatus(ctx context.Context, orderID string) (*StatusResult, error)
}

// MidtransClient backs the gateway boundary with the official
// midtrans-go SDK: Snap for opening checkout sessions, Core API for
// status polling. Both share one bounded-timeout HTTP client.
type MidtransClient struct {
	snap snap.Client
	core coreapi.Client
}

func NewMidtransClient(serverKey string, env midtrans.EnvironmentType, timeout time.Duration) *MidtransClient {
	httpClient := &midtrans.HttpClientImplementation{
		HttpClient: &http.Client{Timeout: timeout},
		Logger:     midtrans.GetDefaultLogger(env),
	}

	c := &MidtransClient{}
	c.snap.New(serverKey, env)
	c.snap.HttpClient = httpClient
	c.core.New(serverKey, env)
	c.core.HttpClient = httpClient
	return c
}

// OpenSession creates a Snap checkout session for the given order id
// and amount. The call is bounded by the client timeout; a timeout
// surfaces as ErrTimeout so the caller can retry later.
func (c *MidtransClient) OpenSession(ctx context.Context, orderID string, amount int64) (*Session, error) {
	resp, merr := c.snap.CreateTransaction(&snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: amount,
		},
	})
	if merr != nil {
		return nil, classifyError("failed to open gateway session", merr)
	}
	return &Session{OrderID: orderID, Token: resp.Token}, nil
}

// PollStatus queries the gateway for the current state of an order.
// Used as the fallback when callback delivery is uncertain.
func (c *MidtransClient) PollStatus(ctx context.Context, orderID string) (*StatusResult, error) {
	resp, merr := c.core.CheckTransaction(orderID)
	if merr != nil {
		return nil, classifyError("failed to query gateway status", merr)
	}
	return statusResult(resp), nil
}

func statusResult(resp *coreapi.TransactionStatusResponse) *StatusResult {
	return &StatusResult{
		Outcome:       NormalizeStatus(resp.TransactionStatus, resp.FraudStatus),
		TransactionID: resp.TransactionID,
	}
}

// classifyError separates "outcome unknown" transport timeouts from
// real gateway rejections.
func classifyError(op string, merr *midtrans.Error) error {
	if raw := merr.RawError; raw != nil {
		var ne interface{ Timeout() bool }
		if errors.As(raw, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, raw)
		}
		if errors.Is(raw, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, raw)
		}
	}
	return fmt.Errorf("%s: %w", op, merr)
}

// NormalizeStatus maps gateway status strings onto the canonical
// outcome set. Unknown strings map to PENDING: when the gateway says
// something we do not understand, the safe reading is "not settled yet".
func NormalizeStatus(transactionStatus, fraudStatus string) Outcome {
	switch transactionStatus {
	case "settlement":
		return OutcomeSucceeded
	case "capture":
		if fraudStatus == "challenge" {
			return OutcomePending
		}
		return OutcomeSucceeded
	case "deny", "cancel", "failure":
		return OutcomeFailed
	case "expire":
		return OutcomeExpired
	case "pending", "authorize":
		return OutcomePending
	default:
		return OutcomePending
	}
}

// Notification is the gateway-signed webhook payload.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
}

// VerifySignature checks a notification's signature key against the
// Midtrans scheme: sha512(order_id + status_code + gross_amount +
// server_key). Unverified notifications must be dropped, never applied.
func VerifySignature(n *Notification, serverKey string) bool {
	h := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + serverKey))
	want := hex.EncodeToString(h[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) == 1
}
