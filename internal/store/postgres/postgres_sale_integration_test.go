package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func TestCreateSaleDecrementsStockAtomically(t *testing.T) {
	databaseURL := os.Getenv("SHOPLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SHOPLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-sale-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, type, qty_on_hand, cost_price_cents, created_at)
		VALUES ($1, 'Sale IT Product', 'grocery', 10, 500, now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:               saleID,
		SaleDate:         now,
		TotalAmountCents: 6000,
		Items: []domain.SaleLine{
			{
				ProductID:      productID,
				ProductName:    "Sale IT Product",
				Quantity:       3,
				SalePriceCents: 2000,
				CostPriceCents: 500,
				LineTotalCents: 6000,
				SoldAt:         now,
			},
		},
	}
	if _, err := s.CreateSale(ctx, sale); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `
		SELECT qty_on_hand FROM products WHERE id = $1
	`, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", qty)
	}

	oversell := sale
	oversell.ID = ""
	oversell.Items[0].Quantity = 8
	if _, err := s.CreateSale(ctx, oversell); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT qty_on_hand FROM products WHERE id = $1
	`, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock after failed sale: %v", err)
	}
	if qty != 7 {
		t.Fatalf("expected stock unchanged at 7 after rejected sale, got %d", qty)
	}
}
