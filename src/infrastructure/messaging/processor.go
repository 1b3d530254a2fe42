package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domainErrors "go-line-scheduler/src/domain/errors"
	domainScheduled "go-line-scheduler/src/domain/scheduled"
	logger "go-line-scheduler/src/infrastructure/logger"
	"go-line-scheduler/src/infrastructure/utils"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MessageStore is the slice of the scheduled-message repository the engine needs.
type MessageStore interface {
	ListDue(ctx context.Context, until time.Time, limit int) ([]domainScheduled.ScheduledMessage, error)
	Claim(ctx context.Context, ids []int, until time.Time) ([]domainScheduled.ScheduledMessage, error)
	Complete(ctx context.Context, id int, status domainScheduled.Status, errorText string) error
}

// ClientResolver hands out a send client for a credential reference ("" is the default).
type ClientResolver interface {
	Resolve(ctx context.Context, ref string) (Pusher, error)
}

type ResolverFunc func(ctx context.Context, ref string) (Pusher, error)

func (f ResolverFunc) Resolve(ctx context.Context, ref string) (Pusher, error) { return f(ctx, ref) }

// Alerter receives operational alerts. Implementations must not block for long.
type Alerter interface {
	Notify(ctx context.Context, subject, description string, fields map[string]string)
}

type EngineConfig struct {
	Interval       time.Duration
	BatchSize      int
	Lookahead      time.Duration
	SendTimeout    time.Duration
	PersistRetries int
	PersistBackoff time.Duration
	AlertThreshold int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Interval:       10 * time.Second,
		BatchSize:      50,
		SendTimeout:    30 * time.Second,
		PersistRetries: 3,
		PersistBackoff: 500 * time.Millisecond,
		AlertThreshold: 5,
	}
}

// LoadEngineConfig reads the SCHEDULER_* environment, falling back to the defaults.
func LoadEngineConfig() EngineConfig {
	d := DefaultEngineConfig()
	return EngineConfig{
		Interval:       utils.GetEnvDuration("SCHEDULER_INTERVAL", d.Interval),
		BatchSize:      utils.GetEnvInt("SCHEDULER_BATCH_SIZE", d.BatchSize),
		Lookahead:      utils.GetEnvDuration("SCHEDULER_LOOKAHEAD", d.Lookahead),
		SendTimeout:    utils.GetEnvDuration("SCHEDULER_SEND_TIMEOUT", d.SendTimeout),
		PersistRetries: utils.GetEnvInt("SCHEDULER_PERSIST_RETRIES", d.PersistRetries),
		PersistBackoff: d.PersistBackoff,
		AlertThreshold: utils.GetEnvInt("SCHEDULER_ALERT_THRESHOLD", d.AlertThreshold),
	}
}

// LoadBatchConfig reads the LINE_* pacing environment, falling back to the defaults.
func LoadBatchConfig() BatchConfig {
	d := DefaultBatchConfig()
	return BatchConfig{
		ThrottleThreshold: utils.GetEnvInt("LINE_THROTTLE_THRESHOLD", d.ThrottleThreshold),
		ThrottleDelay:     utils.GetEnvDuration("LINE_THROTTLE_DELAY", d.ThrottleDelay),
		RecipientTimeout:  utils.GetEnvDuration("LINE_RECIPIENT_TIMEOUT", d.RecipientTimeout),
		RetryMax:          utils.GetEnvInt("LINE_RETRY_MAX", d.RetryMax),
		RateLimit:         utils.GetEnvInt("LINE_RATE_LIMIT", d.RateLimit),
	}
}

// TickReport summarises one tick.
type TickReport struct {
	Skipped     bool
	Due         int
	Claimed     int
	Sent        int
	Failed      int
	Unpersisted int
}

var errSendTimeout = errors.New("send timed out")

const resultGrace = 2 * time.Second

// Engine is the scheduler loop: it claims due messages and delivers them one at a time.
type Engine struct {
	store    MessageStore
	clients  ClientResolver
	sender   *BatchSender
	composer *Composer
	alerter  Alerter
	cfg      EngineConfig
	Logger   *logger.Logger

	running             atomic.Bool
	consecutiveFailures int // only touched while running is held

	trigger chan struct{}
	baseMu  sync.RWMutex
	baseCtx context.Context

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(
	store MessageStore,
	clients ClientResolver,
	sender *BatchSender,
	composer *Composer,
	alerter Alerter,
	cfg EngineConfig,
	loggerInstance *logger.Logger,
) *Engine {
	d := DefaultEngineConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = d.SendTimeout
	}
	if cfg.PersistRetries < 0 {
		cfg.PersistRetries = 0
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = d.AlertThreshold
	}
	return &Engine{
		store:    store,
		clients:  clients,
		sender:   sender,
		composer: composer,
		alerter:  alerter,
		cfg:      cfg,
		Logger:   loggerInstance,
		trigger:  make(chan struct{}, 1),
		baseCtx:  context.Background(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Register adds the periodic tick to c. Ticks started by cron use the context given to Start.
func (e *Engine) Register(c *cron.Cron) (cron.EntryID, error) {
	return c.AddFunc(fmt.Sprintf("@every %s", e.cfg.Interval), func() {
		_, _ = e.Tick(e.context())
	})
}

// Start serves TriggerNow requests until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.baseMu.Lock()
	e.baseCtx = ctx
	e.baseMu.Unlock()

	e.Logger.Info("Delivery engine started",
		zap.Duration("interval", e.cfg.Interval),
		zap.Int("batchSize", e.cfg.BatchSize),
		zap.Duration("sendTimeout", e.cfg.SendTimeout))
	go func() {
		for {
			select {
			case <-ctx.Done():
				e.Logger.Info("Delivery engine stopped")
				return
			case <-e.trigger:
				_, _ = e.Tick(ctx)
			}
		}
	}()
}

func (e *Engine) context() context.Context {
	e.baseMu.RLock()
	defer e.baseMu.RUnlock()
	return e.baseCtx
}

// TriggerNow requests an out-of-cycle tick. Requests made while one is already queued coalesce.
func (e *Engine) TriggerNow() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Tick runs one scheduling pass. If another tick is in progress it returns immediately with
// Skipped set.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.Logger.Debug("Previous tick still running, skipping")
		return TickReport{Skipped: true}, nil
	}
	defer e.running.Store(false)

	report, err := e.tick(ctx)
	if err != nil {
		e.recordTickFailure(ctx, err)
		return report, err
	}
	if e.consecutiveFailures > 0 {
		e.Logger.Info("Scheduler tick recovered", zap.Int("previousFailures", e.consecutiveFailures))
	}
	e.consecutiveFailures = 0
	return report, nil
}

func (e *Engine) tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	until := e.now().Add(e.cfg.Lookahead)

	due, err := e.store.ListDue(ctx, until, e.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list due messages: %w", err)
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report, nil
	}

	ids := make([]int, len(due))
	for i, m := range due {
		ids[i] = m.ID
	}
	claimed, err := e.store.Claim(ctx, ids, until)
	if err != nil {
		return report, fmt.Errorf("claim due messages: %w", err)
	}
	report.Claimed = len(claimed)
	e.Logger.Info("Claimed due messages", zap.Int("due", len(due)), zap.Int("claimed", len(claimed)))

	// Claimed rows cannot go back to pending, so the batch drains even when ctx is done; each
	// message stays bounded by SendTimeout.
	dctx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		e.Logger.Warn("Draining claimed messages after cancellation", zap.Int("claimed", len(claimed)))
	}
	for i := range claimed {
		msg := &claimed[i]
		status, errText := e.deliver(dctx, msg)
		if status == domainScheduled.StatusSent {
			report.Sent++
		} else {
			report.Failed++
		}
		if !e.persist(dctx, msg.ID, status, errText) {
			report.Unpersisted++
		}
	}
	return report, nil
}

// deliver never returns an error; every failure becomes part of the outcome.
func (e *Engine) deliver(ctx context.Context, msg *domainScheduled.ScheduledMessage) (domainScheduled.Status, string) {
	fields := []zap.Field{zap.Int("messageID", msg.ID), zap.String("credentialID", msg.CredentialRef)}

	blocks, err := e.composer.Compose(msg)
	if err != nil {
		e.Logger.Warn("Message has no deliverable content", append(fields, zap.Error(err))...)
		return domainScheduled.StatusFailed, err.Error()
	}

	sendCtx, cancel := context.WithTimeoutCause(ctx, e.cfg.SendTimeout, errSendTimeout)
	defer cancel()

	client, err := e.clients.Resolve(sendCtx, msg.CredentialRef)
	if err != nil {
		if domainErrors.IsType(err, domainErrors.Configuration) {
			e.Logger.Error("No usable credential for message", append(fields, zap.Error(err))...)
			return domainScheduled.StatusFailed, fmt.Sprintf("configuration error: %v", err)
		}
		e.Logger.Error("Resolving credential failed", append(fields, zap.Error(err))...)
		return domainScheduled.StatusFailed, fmt.Sprintf("credential lookup failed: %v", err)
	}

	done := make(chan BatchResult, 1)
	go func() {
		done <- e.sender.Send(sendCtx, client, msg.TargetIDs, blocks)
	}()

	var result BatchResult
	select {
	case result = <-done:
	case <-sendCtx.Done():
		// The sender stops at the next recipient once sendCtx is done; wait briefly for what it managed.
		select {
		case result = <-done:
		case <-time.After(resultGrace):
			e.Logger.Warn("Sender did not stop after timeout, recipient outcomes unknown", fields...)
		}
	}

	complete := result.Total() == len(msg.TargetIDs) && len(result.Failed()) == 0
	if !complete && errors.Is(context.Cause(sendCtx), errSendTimeout) {
		e.Logger.Error("Message delivery timed out", append(fields,
			zap.Duration("timeout", e.cfg.SendTimeout),
			zap.Strings("delivered", result.Delivered()))...)
		return domainScheduled.StatusFailed, timeoutText(e.cfg.SendTimeout, result)
	}

	status, text := Aggregate(result)
	e.Logger.Info("Message delivery finished", append(fields,
		zap.String("status", string(status)),
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("total", result.Total()))...)
	return status, text
}

// timeoutText keeps the per-recipient outcomes known at the time the send was cut off.
func timeoutText(timeout time.Duration, result BatchResult) string {
	parts := []string{fmt.Sprintf("send timed out after %s", timeout)}
	if delivered := result.Delivered(); len(delivered) > 0 {
		parts = append(parts, fmt.Sprintf("delivered to %d target(s): %s", len(delivered), strings.Join(delivered, ", ")))
	}
	if summary := result.FailureSummary(); summary != "" {
		parts = append(parts, summary)
	}
	return strings.Join(parts, "; ")
}

// Aggregate maps a batch result to the message's final status: sent when at least one
// recipient succeeded, failed otherwise. The text lists failed recipients.
func Aggregate(result BatchResult) (domainScheduled.Status, string) {
	if result.Total() == 0 {
		return domainScheduled.StatusFailed, "no recipients"
	}
	if result.Succeeded() >= 1 {
		return domainScheduled.StatusSent, result.FailureSummary()
	}
	return domainScheduled.StatusFailed, result.FailureSummary()
}

// persist writes the final status and attempt log, retrying with backoff. It reports whether the
// write landed; on exhaustion the row stays in sending for manual repair.
func (e *Engine) persist(ctx context.Context, id int, status domainScheduled.Status, errText string) bool {
	pctx := context.WithoutCancel(ctx)
	var err error
	for attempt := 0; attempt <= e.cfg.PersistRetries; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.PersistBackoff * time.Duration(1<<(attempt-1))
			_ = e.sleep(pctx, backoff)
		}
		err = e.store.Complete(pctx, id, status, errText)
		if err == nil {
			return true
		}
		if domainErrors.IsType(err, domainErrors.Conflict) {
			e.Logger.Error("Message left sending state before its outcome was written",
				zap.Int("messageID", id), zap.String("status", string(status)), zap.Error(err))
			return false
		}
		e.Logger.Warn("Persisting delivery outcome failed",
			zap.Int("messageID", id), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	e.Logger.Error("DELIVERY OUTCOME NOT PERSISTED: message left in sending state",
		zap.Int("messageID", id),
		zap.String("status", string(status)),
		zap.String("errorText", errText),
		zap.Int("attempts", e.cfg.PersistRetries+1),
		zap.Error(err))
	return false
}

func (e *Engine) recordTickFailure(ctx context.Context, err error) {
	e.consecutiveFailures++
	e.Logger.Error("Scheduler tick failed", zap.Error(err), zap.Int("consecutiveFailures", e.consecutiveFailures))
	if e.alerter == nil || e.consecutiveFailures%e.cfg.AlertThreshold != 0 {
		return
	}
	e.alerter.Notify(ctx,
		"Scheduler tick failing",
		fmt.Sprintf("%d consecutive scheduler ticks failed; last error: %v", e.consecutiveFailures, err),
		map[string]string{
			"consecutiveFailures": strconv.Itoa(e.consecutiveFailures),
			"lastError":           err.Error(),
		})
}
