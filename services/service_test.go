package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nurealazmie002/santri-billing-core/gateway"
	"github.com/nurealazmie002/santri-billing-core/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// One connection so every session sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.PaymentAttempt{},
		&models.Transaction{},
		&models.GatewayEvent{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// mockGateway implements gateway.Client for tests.
type mockGateway struct {
	OpenSessionFunc func(ctx context.Context, orderID string, amount int64) (*gateway.Session, error)
	PollStatusFunc  func(ctx context.Context, orderID string) (*gateway.StatusResult, error)
}

func (m *mockGateway) OpenSession(ctx context.Context, orderID string, amount int64) (*gateway.Session, error) {
	if m.OpenSessionFunc != nil {
		return m.OpenSessionFunc(ctx, orderID, amount)
	}
	return &gateway.Session{OrderID: orderID, Token: "snap-token"}, nil
}

func (m *mockGateway) PollStatus(ctx context.Context, orderID string) (*gateway.StatusResult, error) {
	if m.PollStatusFunc != nil {
		return m.PollStatusFunc(ctx, orderID)
	}
	return &gateway.StatusResult{Outcome: gateway.OutcomePending}, nil
}

// mockDirectory implements StudentDirectory for tests.
type mockDirectory struct {
	GetStudentFunc func(id string) (*Student, error)
}

func (m *mockDirectory) GetStudent(id string) (*Student, error) {
	if m.GetStudentFunc != nil {
		return m.GetStudentFunc(id)
	}
	return &Student{ID: id, DisplayName: "Ahmad Fauzi", NIS: "2024001"}, nil
}

func testItems() []NewInvoiceItem {
	return []NewInvoiceItem{{Description: "SPP Januari", UnitAmount: 500000, Quantity: 1}}
}

func mustInvoice(t *testing.T, store *InvoiceStore, dueDate time.Time) *models.Invoice {
	t.Helper()
	inv, err := store.Create("santri-1", testItems(), dueDate, "")
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}
	return inv
}
