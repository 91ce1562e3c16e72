package payments

import (
	"context"
	"errors"
	"testing"

	"paygate/internal/common/money"
	"paygate/internal/gateway"
)

func TestBuilder(t *testing.T) {
	ctx := context.Background()

	t.Run("builds and initializes", func(t *testing.T) {
		primary := &fakeGateway{name: "paystack"}
		svc, store, _ := newTestService(&fakeResolver{gateways: map[string]*fakeGateway{"paystack": primary}, fallback: "paystack"})

		result, err := svc.Payment().
			Amount(500000).
			Currency(money.NGN).
			Email("payer@example.com").
			Reference("tx_1").
			CallbackURL("https://example.com/callback").
			Meta("owner_id", "u_1").
			Driver("paystack").
			Initialize(ctx)
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if result.Status != gateway.StatusPending {
			t.Errorf("status = %s", result.Status)
		}

		row, err := store.GetByReference(ctx, "tx_1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if row.OwnerID != "u_1" {
			t.Errorf("owner_id = %q", row.OwnerID)
		}
		if row.Amount.AmountMinor != 500000 || row.Amount.Currency != money.NGN {
			t.Errorf("amount = %+v", row.Amount)
		}
	})

	t.Run("defaults currency and driver", func(t *testing.T) {
		primary := &fakeGateway{name: "paystack"}
		svc, store, _ := newTestService(&fakeResolver{gateways: map[string]*fakeGateway{"paystack": primary}, fallback: "paystack"})

		result, err := svc.Payment().
			Amount(1000).
			Email("payer@example.com").
			Initialize(ctx)
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if result.Reference == "" {
			t.Error("expected a generated reference")
		}

		row, _ := store.GetByReference(ctx, result.Reference)
		if row.Amount.Currency != money.NGN {
			t.Errorf("currency = %s, want the default", row.Amount.Currency)
		}
		if row.Driver != "paystack" {
			t.Errorf("driver = %s, want the default", row.Driver)
		}
	})

	t.Run("fallback chain reaches the service", func(t *testing.T) {
		primary := &fakeGateway{name: "paystack", initErr: errors.New("provider down")}
		backup := &fakeGateway{name: "stripe"}
		svc, store, _ := newTestService(&fakeResolver{
			gateways: map[string]*fakeGateway{"paystack": primary, "stripe": backup},
			fallback: "paystack",
		})

		_, err := svc.Payment().
			Amount(1000).
			Email("payer@example.com").
			Reference("tx_1").
			Driver("paystack").
			Fallback("stripe").
			Initialize(ctx)
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}

		row, _ := store.GetByReference(ctx, "tx_1")
		if row.Driver != "stripe" {
			t.Errorf("driver = %s, want the fallback", row.Driver)
		}
	})
}
