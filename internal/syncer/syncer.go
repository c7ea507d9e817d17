package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"inbox-triage-go/internal/categorize"
	"inbox-triage-go/internal/config"
	"inbox-triage-go/internal/credstore"
	"inbox-triage-go/internal/fetcher"
	"inbox-triage-go/internal/metrics"
	"inbox-triage-go/internal/model"
	"inbox-triage-go/internal/notifier"
	"inbox-triage-go/internal/repository"
)

const progressEvery = 25

// CredentialSource yields a usable access token for a mailbox, refreshing
// behind the scenes when needed.
type CredentialSource interface {
	AccessToken(ctx context.Context, mailboxID uint) (string, error)
}

// MessageWriter persists one triaged message idempotently and reports which
// stored rows carry a user override.
type MessageWriter interface {
	Upsert(msg *model.TriagedMessage) (repository.WriteResult, error)
	ListOverridden(mailboxID uint) ([]model.TriagedMessage, error)
}

// MailboxStore is the mailbox persistence surface the orchestrator needs.
type MailboxStore interface {
	Get(id uint) (*model.Mailbox, error)
	ListActive() ([]model.Mailbox, error)
	AdvanceCursor(id uint, cursor string, syncedAt time.Time) error
	ResetCursor(id uint) error
	IncrementFailures(id uint) (int, error)
	Deactivate(id uint) error
}

// FetcherFactory builds a provider fetcher. Swappable in tests.
type FetcherFactory func(provider model.Provider, cfg fetcher.Config) (fetcher.Fetcher, error)

// Orchestrator drives periodic sync sweeps across all active mailboxes and
// serves on-demand syncs. At most one sync per mailbox runs at a time.
type Orchestrator struct {
	mailboxes  MailboxStore
	messages   MessageWriter
	creds      CredentialSource
	engine     categorize.Engine
	hub        *notifier.Hub
	newFetcher FetcherFactory
	cfg        config.SyncConfig

	cron    *cron.Cron
	entryID cron.EntryID

	mu          sync.Mutex
	inFlight    map[uint]struct{}
	rateRetries map[uint]int
	running     bool
	lastSweepAt time.Time
}

// New creates an orchestrator. The cron scheduler is not started until Start
// is called.
func New(
	mailboxes MailboxStore,
	messages MessageWriter,
	creds CredentialSource,
	engine categorize.Engine,
	hub *notifier.Hub,
	newFetcher FetcherFactory,
	cfg config.SyncConfig,
) *Orchestrator {
	if newFetcher == nil {
		newFetcher = fetcher.New
	}
	return &Orchestrator{
		mailboxes:   mailboxes,
		messages:    messages,
		creds:       creds,
		engine:      engine,
		hub:         hub,
		newFetcher:  newFetcher,
		cfg:         cfg,
		cron:        cron.New(),
		inFlight:    make(map[uint]struct{}),
		rateRetries: make(map[uint]int),
	}
}

// Start begins periodic sweeps at the configured interval.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator is already running")
	}

	schedule := fmt.Sprintf("@every %dm", o.cfg.IntervalMinutes)
	id, err := o.cron.AddFunc(schedule, o.Sweep)
	if err != nil {
		return fmt.Errorf("failed to schedule sync sweep: %w", err)
	}
	o.entryID = id
	o.cron.Start()
	o.running = true

	logrus.WithField("interval_minutes", o.cfg.IntervalMinutes).Info("Sync orchestrator started")
	return nil
}

// Stop halts future sweeps. Cycles already in flight run to completion.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.cron.Remove(o.entryID)
	o.cron.Stop()
	o.running = false
	logrus.Info("Sync orchestrator stopped")
}

// Status describes the orchestrator for the status endpoint.
type Status struct {
	Running     bool       `json:"running"`
	InFlight    int        `json:"in_flight"`
	LastSweepAt *time.Time `json:"last_sweep_at,omitempty"`
}

// GetStatus reports the current scheduler state.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{Running: o.running, InFlight: len(o.inFlight)}
	if !o.lastSweepAt.IsZero() {
		t := o.lastSweepAt
		st.LastSweepAt = &t
	}
	return st
}

// InFlight reports whether a sync cycle for the mailbox is currently running.
func (o *Orchestrator) InFlight(mailboxID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.inFlight[mailboxID]
	return busy
}

// Sweep runs one sync cycle for every active mailbox. Mailboxes already
// syncing are skipped, not queued.
func (o *Orchestrator) Sweep() {
	o.mu.Lock()
	o.lastSweepAt = time.Now()
	o.mu.Unlock()

	mailboxes, err := o.mailboxes.ListActive()
	if err != nil {
		logrus.WithError(err).Error("Failed to list mailboxes for sweep")
		return
	}

	logrus.WithField("mailboxes", len(mailboxes)).Debug("Starting sync sweep")

	var wg sync.WaitGroup
	for i := range mailboxes {
		mb := mailboxes[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.SyncNow(mb.ID)
		}()
	}
	wg.Wait()
}

// SyncNow runs one sync cycle for a mailbox. Returns false when a cycle for
// the same mailbox is already in flight.
func (o *Orchestrator) SyncNow(mailboxID uint) bool {
	if !o.tryLock(mailboxID) {
		logrus.WithField("mailbox_id", mailboxID).Debug("Sync already in flight, skipping")
		return false
	}
	defer o.unlock(mailboxID)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CycleTimeout)
	defer cancel()

	o.syncMailbox(ctx, mailboxID)
	return true
}

func (o *Orchestrator) tryLock(mailboxID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[mailboxID]; busy {
		return false
	}
	o.inFlight[mailboxID] = struct{}{}
	return true
}

func (o *Orchestrator) unlock(mailboxID uint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, mailboxID)
}

func (o *Orchestrator) syncMailbox(ctx context.Context, mailboxID uint) {
	mb, err := o.mailboxes.Get(mailboxID)
	if err != nil {
		logrus.WithError(err).WithField("mailbox_id", mailboxID).Error("Failed to load mailbox")
		return
	}
	if mb == nil || !mb.Active || mb.AuthInvalid {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"mailbox_id": mb.ID,
		"provider":   mb.Provider,
		"address":    mb.EmailAddress,
	})
	start := time.Now()
	o.publish(mb, notifier.EventSyncStarted, nil)

	counts, err := o.runCycle(ctx, mb, log)
	elapsed := time.Since(start)
	metrics.SyncDuration.WithLabelValues(string(mb.Provider)).Observe(elapsed.Seconds())

	if err != nil {
		o.handleFailure(mb, err, log)
		return
	}

	o.mu.Lock()
	delete(o.rateRetries, mb.ID)
	o.mu.Unlock()

	metrics.SyncCyclesTotal.WithLabelValues(string(mb.Provider), "success").Inc()
	log.WithFields(logrus.Fields{
		"fetched":  counts.fetched,
		"inserted": counts.inserted,
		"updated":  counts.updated,
		"duration": elapsed.Round(time.Millisecond).String(),
	}).Info("Sync cycle completed")

	o.publish(mb, notifier.EventSyncCompleted, map[string]interface{}{
		"fetched":     counts.fetched,
		"inserted":    counts.inserted,
		"updated":     counts.updated,
		"duration_ms": elapsed.Milliseconds(),
	})
}

type cycleCounts struct {
	fetched  int
	inserted int
	updated  int
}

// runCycle fetches changes from the provider and persists them. The cursor
// only advances after the whole batch has been written, so a mid-batch crash
// replays into idempotent writes instead of losing messages.
func (o *Orchestrator) runCycle(ctx context.Context, mb *model.Mailbox, log *logrus.Entry) (cycleCounts, error) {
	var counts cycleCounts

	token, err := o.creds.AccessToken(ctx, mb.ID)
	if err != nil {
		return counts, err
	}

	f, err := o.newFetcher(mb.Provider, fetcher.Config{
		PageSize:       o.cfg.FetchPageSize,
		BackfillWindow: o.cfg.BackfillWindow,
	})
	if err != nil {
		return counts, err
	}

	cursor := mb.SyncCursor
	changes, err := f.FetchChanges(ctx, token, cursor)
	if errors.Is(err, fetcher.ErrCursorExpired) && cursor != "" {
		log.Warn("Sync cursor expired, falling back to full resync")
		if rErr := o.mailboxes.ResetCursor(mb.ID); rErr != nil {
			return counts, rErr
		}
		changes, err = f.FetchChanges(ctx, token, "")
	}
	if err != nil {
		return counts, err
	}

	overridden, err := o.messages.ListOverridden(mb.ID)
	if err != nil {
		return counts, err
	}
	overrides := make(map[string]*model.TriagedMessage, len(overridden))
	for i := range overridden {
		overrides[overridden[i].ProviderMessageID] = &overridden[i]
	}

	counts.fetched = len(changes.Messages)
	for i := range changes.Messages {
		rm := &changes.Messages[i]
		msg := o.triage(mb, rm, overrides, log)

		result, err := o.messages.Upsert(msg)
		if err != nil {
			return counts, fmt.Errorf("failed to persist message %s: %w", rm.ProviderMessageID, err)
		}
		metrics.MessagesWritten.WithLabelValues(result.String()).Inc()

		switch result {
		case repository.WriteInserted:
			counts.inserted++
		case repository.WriteUpdated:
			counts.updated++
		default:
			continue
		}

		o.publish(mb, notifier.EventMessageCategorized, map[string]interface{}{
			"provider_message_id": msg.ProviderMessageID,
			"subject":             msg.Subject,
			"category":            msg.Category,
			"confidence":          msg.Confidence,
		})
		if result == repository.WriteInserted && msg.Category == model.CategoryUrgent {
			o.publish(mb, notifier.EventUrgentAlert, map[string]interface{}{
				"provider_message_id": msg.ProviderMessageID,
				"subject":             msg.Subject,
				"sender":              msg.Sender,
			})
		}

		if processed := counts.inserted + counts.updated; processed%progressEvery == 0 {
			o.publish(mb, notifier.EventSyncProgress, map[string]interface{}{
				"processed": processed,
				"total":     counts.fetched,
			})
		}
	}

	if err := o.mailboxes.AdvanceCursor(mb.ID, changes.NewCursor, time.Now()); err != nil {
		return counts, err
	}
	return counts, nil
}

// triage classifies one remote message. A row frozen by a user override keeps
// its stored category and never reaches the engine. A classification failure
// degrades to the uncategorized bucket instead of failing the batch.
func (o *Orchestrator) triage(mb *model.Mailbox, rm *fetcher.RemoteMessage, overrides map[string]*model.TriagedMessage, log *logrus.Entry) *model.TriagedMessage {
	msg := &model.TriagedMessage{
		MailboxID:         mb.ID,
		ProviderMessageID: rm.ProviderMessageID,
		ThreadID:          rm.ThreadID,
		Subject:           rm.Subject,
		Sender:            rm.Sender,
		Snippet:           rm.Snippet,
		ReceivedAt:        rm.ReceivedAt,
		Read:              rm.Read,
	}

	if stored, ok := overrides[rm.ProviderMessageID]; ok {
		msg.Category = stored.Category
		msg.Confidence = stored.Confidence
		msg.UserOverride = true
		return msg
	}

	result, err := o.engine.Categorize(categorize.Message{
		Subject:    rm.Subject,
		Sender:     rm.Sender,
		Snippet:    rm.Snippet,
		ReceivedAt: rm.ReceivedAt,
	})
	if err != nil {
		log.WithError(err).WithField("provider_message_id", rm.ProviderMessageID).
			Warn("Categorization failed, storing as uncategorized")
		msg.Category = model.CategoryUncategorized
		msg.Confidence = 0
	} else {
		msg.Category = result.Category
		msg.Confidence = result.Confidence
	}
	metrics.MessagesCategorized.WithLabelValues(string(msg.Category)).Inc()
	return msg
}

// handleFailure routes a cycle error through the failure policy: rate limits
// reschedule without penalty, revoked credentials stop the mailbox, anything
// else counts toward the consecutive failure limit.
func (o *Orchestrator) handleFailure(mb *model.Mailbox, err error, log *logrus.Entry) {
	var rateErr *fetcher.RateLimitError
	if errors.As(err, &rateErr) {
		metrics.SyncCyclesTotal.WithLabelValues(string(mb.Provider), "rate_limited").Inc()
		metrics.RateLimitDeferrals.WithLabelValues(string(mb.Provider)).Inc()

		// Deferrals track their own consecutive count so a provider that
		// rate-limits forever cannot chain reschedules endlessly. The
		// mailbox failure counter stays untouched and the next sweep starts
		// a fresh attempt.
		o.mu.Lock()
		o.rateRetries[mb.ID]++
		deferrals := o.rateRetries[mb.ID]
		o.mu.Unlock()

		if deferrals >= o.cfg.MaxConsecutiveFailures {
			o.mu.Lock()
			delete(o.rateRetries, mb.ID)
			o.mu.Unlock()
			log.WithField("deferrals", deferrals).
				Warn("Rate limit deferral limit reached, waiting for next sweep")
			o.publish(mb, notifier.EventSyncFailed, map[string]interface{}{
				"reason":   "rate limit deferral limit reached",
				"terminal": false,
			})
			return
		}

		log.WithField("retry_after", rateErr.RetryAfter.String()).
			Warn("Provider rate limited, rescheduling sync")
		time.AfterFunc(rateErr.RetryAfter, func() { o.SyncNow(mb.ID) })
		return
	}

	var authErr *credstore.AuthError
	if errors.As(err, &authErr) && authErr.Kind == credstore.AuthIrrecoverable {
		metrics.SyncCyclesTotal.WithLabelValues(string(mb.Provider), "auth_invalid").Inc()
		metrics.MailboxesDeactivated.WithLabelValues("auth_invalid").Inc()
		log.Error("Credentials revoked, mailbox requires reauthorization")
		o.publish(mb, notifier.EventSyncFailed, map[string]interface{}{
			"reason":   "reauthorization required",
			"terminal": true,
		})
		return
	}

	metrics.SyncCyclesTotal.WithLabelValues(string(mb.Provider), "error").Inc()
	failures, cErr := o.mailboxes.IncrementFailures(mb.ID)
	if cErr != nil {
		log.WithError(cErr).Error("Failed to record sync failure")
	}
	log.WithError(err).WithField("consecutive_failures", failures).Error("Sync cycle failed")

	if failures >= o.cfg.MaxConsecutiveFailures {
		if dErr := o.mailboxes.Deactivate(mb.ID); dErr != nil {
			log.WithError(dErr).Error("Failed to deactivate mailbox")
		}
		metrics.MailboxesDeactivated.WithLabelValues("failure_limit").Inc()
		log.WithField("limit", o.cfg.MaxConsecutiveFailures).
			Error("Failure limit reached, mailbox deactivated")
		o.publish(mb, notifier.EventSyncFailed, map[string]interface{}{
			"reason":   "consecutive failure limit reached",
			"failures": failures,
			"terminal": true,
		})
		return
	}

	o.publish(mb, notifier.EventSyncFailed, map[string]interface{}{
		"reason":   err.Error(),
		"failures": failures,
		"terminal": false,
	})
}

func (o *Orchestrator) publish(mb *model.Mailbox, t notifier.EventType, payload map[string]interface{}) {
	o.hub.Publish(mb.UserID, notifier.Event{
		Type:      t,
		MailboxID: mb.ID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
