package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"paygate/internal/common/events"
	"paygate/internal/common/money"
	"paygate/internal/gateway"
	"paygate/internal/ledger"
	"paygate/internal/payments"
)

type fakeGateway struct {
	name         string
	verifyResult *gateway.VerificationResult
	verifyErr    error

	mu          sync.Mutex
	verifyCalls int
}

func (f *fakeGateway) Driver() string { return f.name }

func (f *fakeGateway) Initialize(_ context.Context, req *gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	return &gateway.PaymentResult{Reference: req.Reference, Status: gateway.StatusPending}, nil
}

func (f *fakeGateway) Verify(_ context.Context, reference string) (*gateway.VerificationResult, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if f.verifyResult != nil {
		cp := *f.verifyResult
		cp.Reference = reference
		return &cp, nil
	}
	return &gateway.VerificationResult{Reference: reference, Status: gateway.StatusPending}, nil
}

func (f *fakeGateway) ValidateWebhook(_ context.Context, _ []byte, _ string) bool { return false }

func (f *fakeGateway) ProcessWebhook(_ context.Context, _ map[string]any) (*gateway.VerificationResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

type fakeResolver struct {
	gateways map[string]*fakeGateway
}

func (f *fakeResolver) Resolve(name string) (gateway.Gateway, error) {
	g, ok := f.gateways[name]
	if !ok {
		return nil, &gateway.UnsupportedDriverError{Name: name}
	}
	return g, nil
}

func (f *fakeResolver) DefaultDriver() string { return "paystack" }

func (f *fakeResolver) DefaultCurrency() money.Currency { return money.NGN }

type fakePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (f *fakePublisher) Publish(_ context.Context, event *events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestSweeper(g *fakeGateway) (*Sweeper, *ledger.MemStore, *fakePublisher) {
	resolver := &fakeResolver{gateways: map[string]*fakeGateway{g.name: g}}
	store := ledger.NewMemStore()
	pub := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := payments.NewService(resolver, store, pub, logger)
	return NewSweeper(store, resolver, engine, logger), store, pub
}

func seedPending(t *testing.T, store *ledger.MemStore, reference, driver string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Create(context.Background(), &ledger.Transaction{
		ID:        "01TEST" + reference,
		Reference: reference,
		Driver:    driver,
		Status:    gateway.StatusPending,
		Amount:    money.New(500000, money.NGN),
		Email:     "payer@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("settles pending rows", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", verifyResult: &gateway.VerificationResult{
			Status: gateway.StatusSuccess,
			Amount: money.New(500000, money.NGN),
		}}
		sweeper, store, pub := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")
		seedPending(t, store, "tx_2", "paystack")

		report, err := sweeper.Run(ctx, Params{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if report.Examined != 2 || report.Succeeded != 2 {
			t.Errorf("report = %+v", report)
		}

		for _, ref := range []string{"tx_1", "tx_2"} {
			row, _ := store.GetByReference(ctx, ref)
			if row.Status != gateway.StatusSuccess {
				t.Errorf("%s status = %s, want success", ref, row.Status)
			}
		}
		if pub.count() != 2 {
			t.Errorf("events = %d, want 2", pub.count())
		}
	})

	t.Run("second run finds nothing to do", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", verifyResult: &gateway.VerificationResult{
			Status: gateway.StatusSuccess,
			Amount: money.New(500000, money.NGN),
		}}
		sweeper, store, pub := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")

		if _, err := sweeper.Run(ctx, Params{}); err != nil {
			t.Fatalf("first run: %v", err)
		}
		report, err := sweeper.Run(ctx, Params{})
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
		if report.Examined != 0 {
			t.Errorf("second run examined %d rows, want 0", report.Examined)
		}
		if pub.count() != 1 {
			t.Errorf("events = %d, want 1", pub.count())
		}
	})

	t.Run("dry run polls nothing and writes nothing", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", verifyResult: &gateway.VerificationResult{
			Status: gateway.StatusSuccess,
			Amount: money.New(500000, money.NGN),
		}}
		sweeper, store, pub := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")

		report, err := sweeper.Run(ctx, Params{DryRun: true})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if report.Examined != 1 || report.StillPending != 1 {
			t.Errorf("report = %+v", report)
		}
		if g.calls() != 0 {
			t.Errorf("verify calls = %d, want 0", g.calls())
		}
		row, _ := store.GetByReference(ctx, "tx_1")
		if row.Status != gateway.StatusPending {
			t.Errorf("status = %s, dry run must not write", row.Status)
		}
		if pub.count() != 0 {
			t.Errorf("events = %d, want 0", pub.count())
		}
	})

	t.Run("pending poll counts as still pending", func(t *testing.T) {
		g := &fakeGateway{name: "paystack"}
		sweeper, store, _ := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")

		report, err := sweeper.Run(ctx, Params{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if report.StillPending != 1 {
			t.Errorf("still pending = %d, want 1", report.StillPending)
		}
	})

	t.Run("provider errors are recorded and the row untouched", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", verifyErr: errors.New("provider down")}
		sweeper, store, _ := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")

		report, err := sweeper.Run(ctx, Params{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if report.Errors != 1 {
			t.Errorf("errors = %d, want 1", report.Errors)
		}
		row, _ := store.GetByReference(ctx, "tx_1")
		if row.Status != gateway.StatusPending {
			t.Errorf("status = %s, want pending", row.Status)
		}
	})

	t.Run("driver filter restricts the batch", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", verifyResult: &gateway.VerificationResult{
			Status: gateway.StatusSuccess,
			Amount: money.New(500000, money.NGN),
		}}
		sweeper, store, _ := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")
		seedPending(t, store, "tx_2", "stripe")

		report, err := sweeper.Run(ctx, Params{Driver: "paystack"})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if report.Examined != 1 {
			t.Errorf("examined = %d, want 1", report.Examined)
		}
		row, _ := store.GetByReference(ctx, "tx_2")
		if row.Status != gateway.StatusPending {
			t.Errorf("filtered row was touched, status = %s", row.Status)
		}
	})

	t.Run("cancellation stops between rows", func(t *testing.T) {
		g := &fakeGateway{name: "paystack"}
		sweeper, store, _ := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")
		seedPending(t, store, "tx_2", "paystack")

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		report, err := sweeper.Run(cancelled, Params{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if report.Examined != 0 {
			t.Errorf("examined = %d, want 0 after cancellation", report.Examined)
		}
	})

	t.Run("race with a concurrent webhook yields one outcome", func(t *testing.T) {
		g := &fakeGateway{name: "paystack", verifyResult: &gateway.VerificationResult{
			Status: gateway.StatusFailed,
			Amount: money.New(500000, money.NGN),
		}}
		sweeper, store, pub := newTestSweeper(g)
		seedPending(t, store, "tx_1", "paystack")

		// The webhook path lands success first.
		if _, err := store.TransitionStatus(ctx, "tx_1", gateway.StatusSuccess, nil); err != nil {
			t.Fatalf("transition: %v", err)
		}

		report, err := sweeper.Run(ctx, Params{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		// The settled row is no longer pending, so nothing is examined
		// and nothing is re-emitted.
		if report.Examined != 0 {
			t.Errorf("examined = %d, want 0", report.Examined)
		}
		if pub.count() != 0 {
			t.Errorf("events = %d, want 0", pub.count())
		}
		row, _ := store.GetByReference(ctx, "tx_1")
		if row.Status != gateway.StatusSuccess {
			t.Errorf("status = %s, want success", row.Status)
		}
	})
}

func TestParamsDefaults(t *testing.T) {
	p := Params{}
	p.applyDefaults()
	if p.LookbackHours != 24 || p.MaxBatch != 100 {
		t.Errorf("defaults = %+v", p)
	}

	p = Params{LookbackHours: 6, MaxBatch: 10}
	p.applyDefaults()
	if p.LookbackHours != 6 || p.MaxBatch != 10 {
		t.Errorf("explicit values overwritten: %+v", p)
	}
}
