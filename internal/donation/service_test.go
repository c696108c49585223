package donation

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"karuna.org/internal/identity"
	"karuna.org/internal/ids"
	"karuna.org/internal/lease"
	"karuna.org/internal/payment"
	"karuna.org/internal/stream"
	"karuna.org/internal/validate"
)

var txnPattern = regexp.MustCompile(`^TXN-(UPI|BANK|CRYPTO)-\d+-\d{6}$`)

type fixture struct {
	svc      *Service
	store    *InMemory
	accounts *identity.InMemory
	ngo      identity.Account
	now      time.Time
	events   *recorder
}

type recorder struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recorder) Publish(evt stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	builder, err := payment.NewBuilder(payment.Config{
		UPIID:     "karuna.relief@sbi",
		PayeeName: "Karuna Relief Fund",
		Bank: payment.BankAccount{
			AccountName:   "Karuna Relief Fund",
			AccountNumber: "00112233445566",
			IFSC:          "SBIN0070123",
			BankName:      "State Bank of India",
		},
		Wallets: map[string]payment.Wallet{"usdt": {Address: "TKarunaExample", Network: "tron"}},
	})
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	f := &fixture{
		store:    NewInMemory(),
		accounts: identity.NewInMemory(),
		now:      time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC),
		events:   &recorder{},
	}
	f.ngo = identity.Account{
		ID:       ids.New(),
		Kind:     identity.KindNGO,
		Name:     "Harvest Hands",
		Email:    "ngo@example.org",
		Phone:    "9876543210",
		Active:   true,
		District: "Wayanad",
	}
	if err := f.accounts.Create(context.Background(), f.ngo); err != nil {
		t.Fatalf("seed ngo: %v", err)
	}
	f.svc = NewService(f.store, f.accounts, builder,
		WithClock(func() time.Time { return f.now }),
		WithPublisher(f.events),
	)
	return f
}

func (f *fixture) create(t *testing.T, method payment.Method, amount string) Record {
	t.Helper()
	rec, err := f.svc.CreateDirectPayment(context.Background(), CreateInput{
		Method:         method,
		Amount:         decimal.RequireFromString(amount),
		RecipientID:    f.ngo.ID,
		Donor:          Donor{Name: "Meera Nair", Email: "Meera@Example.com", Phone: "9123456780"},
		CryptoCurrency: "usdt",
	})
	if err != nil {
		t.Fatalf("CreateDirectPayment(%s, %s): %v", method, amount, err)
	}
	return rec
}

func TestCreateUPI(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, payment.MethodUPI, "500")

	if !txnPattern.MatchString(rec.TransactionID) || !strings.HasPrefix(rec.TransactionID, "TXN-UPI-") {
		t.Fatalf("unexpected transaction id %q", rec.TransactionID)
	}
	if rec.Status != StatusPending || rec.Currency != "INR" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Instructions.UPI == nil || !strings.HasPrefix(rec.Instructions.UPI.QRCode, "data:image/png;base64,") {
		t.Fatalf("missing qr code: %+v", rec.Instructions.UPI)
	}
	if !strings.Contains(rec.Instructions.UPI.URL, "tr="+rec.TransactionID) {
		t.Fatalf("upi url does not reference transaction: %s", rec.Instructions.UPI.URL)
	}

	stored, err := f.store.Get(context.Background(), rec.TransactionID)
	if err != nil {
		t.Fatalf("stored record: %v", err)
	}
	if stored.Status != StatusPending || stored.Instructions.UPI.QRCode != "" {
		t.Fatalf("stored copy should be pending without image: %+v", stored.Instructions.UPI)
	}
	if stored.Donor.Email != "meera@example.com" {
		t.Fatalf("donor email not normalised: %s", stored.Donor.Email)
	}
	if len(f.events.events) != 1 || f.events.events[0].To.Name != "Wayanad" {
		t.Fatalf("expected one created event, got %+v", f.events.events)
	}
}

func TestCreateOfflineRailsNeedVerification(t *testing.T) {
	f := newFixture(t)
	bank := f.create(t, payment.MethodBank, "1200.50")
	if bank.Status != StatusPendingVerification || bank.Instructions.Bank == nil {
		t.Fatalf("unexpected bank record: %+v", bank)
	}
	crypto := f.create(t, payment.MethodCrypto, "2500")
	if crypto.Status != StatusPendingVerification || crypto.Instructions.Crypto == nil || crypto.Instructions.Crypto.Currency != "USDT" {
		t.Fatalf("unexpected crypto record: %+v", crypto.Instructions.Crypto)
	}

	_, err := f.svc.CreateDirectPayment(context.Background(), CreateInput{
		Method:         payment.MethodCrypto,
		Amount:         decimal.NewFromInt(10),
		RecipientID:    f.ngo.ID,
		Donor:          Donor{Name: "Meera Nair", Email: "meera@example.com"},
		CryptoCurrency: "DOGE",
	})
	if !errors.Is(err, validate.ErrInvalid) {
		t.Fatalf("expected validation error for unknown coin, got %v", err)
	}
}

func TestCreateRejectsInvalidAmounts(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []string{"0", "0.99", "-10", "10.001", "10000000.01"} {
		_, err := f.svc.CreateDirectPayment(context.Background(), CreateInput{
			Method:      payment.MethodUPI,
			Amount:      decimal.RequireFromString(amount),
			RecipientID: f.ngo.ID,
			Donor:       Donor{Name: "Meera Nair", Email: "meera@example.com"},
		})
		if !errors.Is(err, validate.ErrInvalid) {
			t.Fatalf("amount %s: expected validation error, got %v", amount, err)
		}
	}
	if _, err := f.svc.CreateDirectPayment(context.Background(), CreateInput{
		Method:      payment.MethodGateway,
		Amount:      decimal.NewFromInt(100),
		RecipientID: f.ngo.ID,
		Donor:       Donor{Name: "Meera Nair", Email: "meera@example.com"},
	}); !errors.Is(err, validate.ErrInvalid) {
		t.Fatalf("gateway must be rejected, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("invalid requests persisted %d records", f.store.Len())
	}
}

func TestCreateUnknownRecipient(t *testing.T) {
	f := newFixture(t)
	admin := identity.Account{ID: ids.New(), Kind: identity.KindAdmin, Name: "Ops", Email: "ops@example.org", Active: true}
	if err := f.accounts.Create(context.Background(), admin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	for _, id := range []string{ids.New(), admin.ID} {
		_, err := f.svc.CreateDirectPayment(context.Background(), CreateInput{
			Method:      payment.MethodUPI,
			Amount:      decimal.NewFromInt(100),
			RecipientID: id,
			Donor:       Donor{Name: "Meera Nair", Email: "meera@example.com"},
		})
		if !errors.Is(err, ErrRecipientNotFound) {
			t.Fatalf("recipient %s: expected ErrRecipientNotFound, got %v", id, err)
		}
	}
}

func TestTransactionIDCollisionRegenerates(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	seq := []string{"000001", "000001", "000002"}
	f.svc.digits = func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		d := seq[0]
		if len(seq) > 1 {
			seq = seq[1:]
		}
		return d, nil
	}
	first := f.create(t, payment.MethodUPI, "100")
	second := f.create(t, payment.MethodUPI, "100")
	if first.TransactionID == second.TransactionID || !strings.HasSuffix(second.TransactionID, "-000002") {
		t.Fatalf("collision not regenerated: %s / %s", first.TransactionID, second.TransactionID)
	}

	// every attempt collides
	_, err := f.svc.CreateDirectPayment(context.Background(), CreateInput{
		Method:      payment.MethodUPI,
		Amount:      decimal.NewFromInt(100),
		RecipientID: f.ngo.ID,
		Donor:       Donor{Name: "Meera Nair", Email: "meera@example.com"},
	})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, payment.MethodUPI, "500")
	ctx := context.Background()

	f.now = f.now.Add(time.Hour)
	first, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{Proof: "UTR 412345678901", VerifiedBy: "admin-1"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if first.Status != StatusCompleted || first.CompletedAt == nil || !first.CompletedAt.Equal(f.now) {
		t.Fatalf("unexpected completion: %+v", first)
	}

	f.now = f.now.Add(time.Hour)
	second, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{Proof: "another screenshot", VerifiedBy: "admin-2"})
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) || second.Proof != first.Proof || second.VerifiedBy != "admin-1" {
		t.Fatalf("second verify changed the record: %+v", second)
	}
}

func TestVerifyErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Verify(ctx, "TXN-UPI-1-000000", VerifyInput{Proof: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Verify(ctx, "TXN-UPI-1-000000", VerifyInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown transaction without proof: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Fail(ctx, "TXN-UPI-1-000000", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown transaction without reason: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Refund(ctx, "TXN-UPI-1-000000", RefundInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown refund without reason: expected ErrNotFound, got %v", err)
	}
	rec := f.create(t, payment.MethodBank, "750")
	if _, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{}); !errors.Is(err, validate.ErrInvalid) {
		t.Fatalf("missing proof must fail validation, got %v", err)
	}
	wrong := decimal.NewFromInt(700)
	if _, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{Proof: "UTR", VerifiedAmount: &wrong}); !errors.Is(err, validate.ErrInvalid) {
		t.Fatalf("mismatched amount must fail, got %v", err)
	}
	right := decimal.RequireFromString("750.00")
	done, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{Proof: "UTR", VerifiedAmount: &right})
	if err != nil || done.Status != StatusCompleted {
		t.Fatalf("verify with matching amount: %v", err)
	}
}

func TestConcurrentVerifySetsCompletedAtOnce(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, payment.MethodUPI, "300")
	var wg sync.WaitGroup
	results := make([]Record, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Verify(context.Background(), rec.TransactionID, VerifyInput{Proof: "UTR"})
		}(i)
	}
	wg.Wait()
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("verify %d: %v", i, errs[i])
		}
		if !results[i].CompletedAt.Equal(*results[0].CompletedAt) {
			t.Fatalf("completed_at differs between callers")
		}
	}
}

func TestRefundRequiresCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.create(t, payment.MethodUPI, "500")

	if _, err := f.svc.Refund(ctx, rec.TransactionID, RefundInput{Reason: "duplicate"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	stored, _ := f.store.Get(ctx, rec.TransactionID)
	if stored.Status != StatusPending {
		t.Fatalf("status changed to %s", stored.Status)
	}

	if _, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{Proof: "UTR"}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	tooMuch := decimal.NewFromInt(501)
	if _, err := f.svc.Refund(ctx, rec.TransactionID, RefundInput{Reason: "duplicate", Amount: &tooMuch}); !errors.Is(err, validate.ErrInvalid) {
		t.Fatalf("over-refund must fail, got %v", err)
	}
	refunded, err := f.svc.Refund(ctx, rec.TransactionID, RefundInput{Reason: "duplicate"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.Status != StatusRefunded || !refunded.RefundAmount.Equal(rec.Amount) || refunded.RefundedAt == nil {
		t.Fatalf("unexpected refund: %+v", refunded)
	}
	if _, err := f.svc.Refund(ctx, rec.TransactionID, RefundInput{Reason: "again"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("refund is terminal, got %v", err)
	}
	if _, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{Proof: "UTR"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("verify after refund must fail, got %v", err)
	}
}

func TestFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.create(t, payment.MethodCrypto, "1000")
	failed, err := f.svc.Fail(ctx, rec.TransactionID, "no transfer received in 7 days")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != StatusFailed || failed.FailureReason == "" {
		t.Fatalf("unexpected failed record: %+v", failed)
	}
	if _, err := f.svc.Fail(ctx, rec.TransactionID, "again"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := f.svc.Verify(ctx, rec.TransactionID, VerifyInput{Proof: "late"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("failed donation reopened: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPendingVerification, StatusCompleted, true},
		{StatusPendingVerification, StatusFailed, true},
		{StatusCompleted, StatusRefunded, true},
		{StatusPending, StatusRefunded, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusRefunded, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestStatsRedactsAnonymousDonors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	named := f.create(t, payment.MethodUPI, "500")
	anon, err := f.svc.CreateDirectPayment(ctx, CreateInput{
		Method:      payment.MethodUPI,
		Amount:      decimal.RequireFromString("250.50"),
		RecipientID: f.ngo.ID,
		Donor:       Donor{Name: "Secret Giver", Email: "secret@example.com", Anonymous: true},
	})
	if err != nil {
		t.Fatalf("create anonymous: %v", err)
	}
	_ = f.create(t, payment.MethodBank, "100")
	for _, txn := range []string{named.TransactionID, anon.TransactionID} {
		if _, err := f.svc.Verify(ctx, txn, VerifyInput{Proof: "UTR"}); err != nil {
			t.Fatalf("Verify: %v", err)
		}
	}

	stats, err := f.svc.Stats(ctx, f.ngo.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.TotalRaised.Equal(decimal.RequireFromString("750.50")) {
		t.Fatalf("unexpected total: %s", stats.TotalRaised)
	}
	if stats.Counts[StatusCompleted] != 2 || stats.Counts[StatusPendingVerification] != 1 || stats.UniqueDonors != 2 {
		t.Fatalf("unexpected totals: %+v", stats.Totals)
	}
	for _, r := range stats.Recent {
		if r.TransactionID == anon.TransactionID && r.Donor != "Anonymous" {
			t.Fatalf("anonymous donor leaked: %+v", r)
		}
	}
}

func TestRecurringScanSpawnsOnePerDueRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent, err := f.svc.CreateDirectPayment(ctx, CreateInput{
		Method:      payment.MethodUPI,
		Amount:      decimal.NewFromInt(1000),
		RecipientID: f.ngo.ID,
		Donor:       Donor{Name: "Meera Nair", Email: "meera@example.com"},
		Recurring:   FrequencyMonthly,
	})
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}
	if parent.Recurring == nil || !parent.Recurring.NextPaymentDate.Equal(f.now.AddDate(0, 1, 0)) {
		t.Fatalf("unexpected schedule: %+v", parent.Recurring)
	}
	_ = f.create(t, payment.MethodUPI, "50")

	sched := NewScheduler(f.svc, lease.NewLocal(), SchedulerConfig{})
	sched.now = func() time.Time { return f.now }

	// pending parents are not scanned
	f.now = f.now.AddDate(0, 1, 1)
	res, err := sched.RunOnce(ctx)
	if err != nil || res.Spawned != 0 {
		t.Fatalf("pending parent spawned follow-up: %+v %v", res, err)
	}

	if _, err := f.svc.Verify(ctx, parent.TransactionID, VerifyInput{Proof: "mandate"}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	res, err = sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Due != 1 || res.Spawned != 1 {
		t.Fatalf("unexpected scan result: %+v", res)
	}
	res, err = sched.RunOnce(ctx)
	if err != nil || res.Spawned != 0 {
		t.Fatalf("second scan spawned again: %+v %v", res, err)
	}

	children, _ := f.svc.ListForRecipient(ctx, f.ngo.ID, ListFilter{})
	var child *Record
	for i := range children {
		if children[i].ParentTransactionID == parent.TransactionID {
			child = &children[i]
		}
	}
	if child == nil || child.Status != StatusPending || child.Recurring != nil || child.TransactionID == parent.TransactionID {
		t.Fatalf("unexpected follow-up: %+v", child)
	}
	updated, _ := f.store.Get(ctx, parent.TransactionID)
	if !updated.Recurring.NextPaymentDate.After(f.now) {
		t.Fatalf("parent not advanced: %v", updated.Recurring.NextPaymentDate)
	}
}

func TestRecurringScanSkipsWhenLeaseHeld(t *testing.T) {
	f := newFixture(t)
	locker := lease.NewLocal()
	held, err := locker.Acquire(context.Background(), ScanLease, time.Hour)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer held.Release(context.Background())

	sched := NewScheduler(f.svc, locker, SchedulerConfig{})
	res, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("expected skipped scan, got %+v", res)
	}
}

func TestFrequencyNext(t *testing.T) {
	base := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	if got := FrequencyQuarterly.Next(base); got.Month() != time.May {
		t.Fatalf("quarterly: %v", got)
	}
	if got := FrequencyYearly.Next(base); got.Year() != 2026 {
		t.Fatalf("yearly: %v", got)
	}
}
