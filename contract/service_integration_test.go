package contract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestContractLifecycle_Integration drives create, shipping update and the
// snapshot read against a real PostgreSQL via DATABASE_URL.
func TestContractLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var schemaOK bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'contracts')`).Scan(&schemaOK); err != nil || !schemaOK {
		t.Skip("database schema missing; apply migrations/0001_init.sql first")
	}

	var userID string
	nano := time.Now().UnixNano()
	if err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, role) VALUES ($1, 'Contract Tester', 'initiator') RETURNING id
	`, fmt.Sprintf("ctester+%d@example.com", nano)).Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	svc := NewService(pool)
	number := fmt.Sprintf("C-CTEST-%d", nano)

	rec, err := svc.Create(ctx, userID, CreateParams{
		Number:       number,
		Counterparty: "Globex Inc",
		Amount:       9800.50,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM contract_history WHERE contract_id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM contracts WHERE id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id = $1`, userID)
	})

	if rec.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", rec.Status)
	}

	// Duplicate number is refused.
	if _, err := svc.Create(ctx, userID, CreateParams{Number: number, Counterparty: "Globex Inc"}); !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}

	terms := "FOB origin"
	if _, err := svc.UpdateShipping(ctx, ShippingParams{ContractID: rec.ID, ActorID: userID, ShippingTerms: &terms}); err != nil {
		t.Fatalf("update shipping: %v", err)
	}

	// Patching only the address must keep the previously set terms.
	address := "12 Harbor Way, Rotterdam"
	patched, err := svc.UpdateShipping(ctx, ShippingParams{ContractID: rec.ID, ActorID: userID, ShippingAddress: &address})
	if err != nil {
		t.Fatalf("update shipping address: %v", err)
	}
	if patched.ShippingTerms == nil || *patched.ShippingTerms != terms {
		t.Fatalf("partial update erased shipping terms: %+v", patched.ShippingTerms)
	}
	if patched.ShippingAddress == nil || *patched.ShippingAddress != address {
		t.Fatalf("expected shipping address persisted, got %+v", patched.ShippingAddress)
	}

	detail, err := svc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Contract.ShippingTerms == nil || *detail.Contract.ShippingTerms != terms {
		t.Fatalf("expected shipping terms persisted, got %+v", detail.Contract.ShippingTerms)
	}

	// CONTRACT_CREATED then two SHIPPING_UPDATED events, seq 1..3.
	if len(detail.History) != 3 {
		t.Fatalf("expected 3 history events, got %d", len(detail.History))
	}
	if detail.History[0].Action != ActionContractCreated || detail.History[0].Seq != 1 {
		t.Fatalf("unexpected first event: %+v", detail.History[0])
	}
	if detail.History[1].Action != ActionShippingUpdated || detail.History[1].Seq != 2 {
		t.Fatalf("unexpected second event: %+v", detail.History[1])
	}
	if detail.History[2].Action != ActionShippingUpdated || detail.History[2].Seq != 3 {
		t.Fatalf("unexpected third event: %+v", detail.History[2])
	}

	// Terminal contracts refuse shipping updates.
	if _, err := pool.Exec(ctx, `UPDATE contracts SET status = 'archived' WHERE id = $1`, rec.ID); err != nil {
		t.Fatalf("archive contract: %v", err)
	}
	if _, err := svc.UpdateShipping(ctx, ShippingParams{ContractID: rec.ID, ActorID: userID, ShippingTerms: &terms}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// Missing id maps to ErrNotFound.
	if _, err := svc.Get(ctx, "00000000-0000-4000-8000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
