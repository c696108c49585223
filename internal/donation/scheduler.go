package donation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"karuna.org/internal/audit"
	"karuna.org/internal/lease"
	"karuna.org/internal/obs"
	"karuna.org/internal/stream"
)

// ScanLease is the lease name held while a recurring scan runs.
const ScanLease = "karuna:recurring-scan"

// SchedulerConfig controls when the recurring scan fires.
type SchedulerConfig struct {
	Interval  time.Duration
	Hour      int
	LeaseTTL  time.Duration
	BatchSize int
}

// ScanResult summarises one scan.
type ScanResult struct {
	Due     int  `json:"due"`
	Spawned int  `json:"spawned"`
	Skipped bool `json:"skipped"`
}

// Scheduler creates follow-up records for due recurring donations once a
// day. Only the holder of ScanLease scans.
type Scheduler struct {
	svc     *Service
	locker  lease.Locker
	cfg     SchedulerConfig
	now     func() time.Time
	lastDay string
}

func NewScheduler(svc *Service, locker lease.Locker, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Scheduler{svc: svc, locker: locker, cfg: cfg, now: time.Now}
}

// Run ticks until ctx ends and scans once per day at or after cfg.Hour.
func (s *Scheduler) Run(ctx context.Context) {
	log := obs.Logger().WithField("module", "recurring")
	log.WithFields(logrus.Fields{"interval": s.cfg.Interval.String(), "hour": s.cfg.Hour}).Info("scheduler started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			now := s.now()
			day := now.Format("2006-01-02")
			if now.Hour() < s.cfg.Hour || s.lastDay == day {
				continue
			}
			res, err := s.RunOnce(ctx)
			if err != nil {
				obs.LogError("recurring", "scan", err, nil)
				continue
			}
			s.lastDay = day
			log.WithFields(logrus.Fields{"due": res.Due, "spawned": res.Spawned, "skipped": res.Skipped}).Info("recurring scan finished")
		}
	}
}

// RunOnce performs a scan if the lease can be obtained.
func (s *Scheduler) RunOnce(ctx context.Context) (ScanResult, error) {
	l, err := s.locker.Acquire(ctx, ScanLease, s.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrNotAcquired) {
		obs.SchedulerRuns.WithLabelValues("skipped").Inc()
		obs.Logger().WithField("lease", ScanLease).Info("recurring scan skipped: lease held elsewhere")
		return ScanResult{Skipped: true}, nil
	}
	if err != nil {
		obs.SchedulerRuns.WithLabelValues("error").Inc()
		return ScanResult{}, err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			obs.LogError("recurring", "release_lease", err, nil)
		}
	}()

	now := s.now().UTC()
	due, err := s.svc.store.DueRecurring(ctx, now, s.cfg.BatchSize)
	if err != nil {
		obs.SchedulerRuns.WithLabelValues("error").Inc()
		return ScanResult{}, err
	}
	res := ScanResult{Due: len(due)}
	for _, parent := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.svc.spawnFollowUp(ctx, parent, now)
		if err != nil {
			obs.LogError("recurring", "spawn", err, logrus.Fields{"transaction_id": parent.TransactionID})
			continue
		}
		if ok {
			res.Spawned++
		}
	}
	obs.SchedulerRuns.WithLabelValues("ok").Inc()
	return res, nil
}

// spawnFollowUp advances the parent's due date and creates the next record.
// It reports false when another writer advanced the parent first.
func (s *Service) spawnFollowUp(ctx context.Context, parent Record, now time.Time) (bool, error) {
	expected := parent.Recurring.NextPaymentDate
	next := parent.Recurring.Frequency.Next(expected)
	for !next.After(now) {
		next = parent.Recurring.Frequency.Next(next)
	}
	advanced, err := s.store.AdvanceRecurring(ctx, parent.TransactionID, expected, next)
	if err != nil || !advanced {
		return false, err
	}

	recipient, err := s.recipients.Get(ctx, parent.RecipientID)
	if err != nil || !recipient.Recipient() {
		obs.Logger().WithFields(logrus.Fields{
			"module":         "recurring",
			"transaction_id": parent.TransactionID,
			"recipient_id":   parent.RecipientID,
		}).Warn("recipient unavailable; follow-up not created")
		return false, nil
	}

	status := StatusPending
	if parent.Method.NeedsVerification() {
		status = StatusPendingVerification
	}
	child := Record{
		Amount:              parent.Amount,
		Currency:            parent.Currency,
		Donor:               parent.Donor,
		RecipientID:         parent.RecipientID,
		RecipientKind:       parent.RecipientKind,
		Method:              parent.Method,
		Status:              status,
		ParentTransactionID: parent.TransactionID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	var crypto string
	if parent.Instructions.Crypto != nil {
		crypto = parent.Instructions.Crypto.Currency
	}
	created, err := s.insert(ctx, child, "Recurring donation to "+recipient.Name, crypto)
	if err != nil {
		// put the due date back so the next scan retries
		if _, rbErr := s.store.AdvanceRecurring(ctx, parent.TransactionID, next, expected); rbErr != nil {
			obs.LogError("recurring", "rollback_advance", rbErr, logrus.Fields{"transaction_id": parent.TransactionID})
		}
		return false, err
	}
	obs.DonationsCreated.WithLabelValues(string(created.Method)).Inc()
	_ = audit.LogEvent(ctx, "donation.recurring_spawned", map[string]any{
		"transaction_id":        created.TransactionID,
		"parent_transaction_id": parent.TransactionID,
		"next_payment_date":     next,
	})
	s.publish(stream.EventCreated, created, recipient)
	return true, nil
}
