package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pusher delivers one set of messages to one recipient.
type Pusher interface {
	PushMessage(ctx context.Context, to string, messages []line.Message, retryKey string) error
}

type BatchConfig struct {
	// ThrottleThreshold is the recipient count above which ThrottleDelay is waited out after each
	// push, so the gap holds however long the push itself took.
	ThrottleThreshold int
	ThrottleDelay     time.Duration
	// RateLimit caps pushes per second across every send sharing this sender; zero disables it.
	RateLimit int
	// RecipientTimeout bounds a single push including its retries; zero leaves only the caller's deadline.
	RecipientTimeout time.Duration
	// RetryMax is the number of extra attempts after a transient failure.
	RetryMax int
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		ThrottleThreshold: 5,
		ThrottleDelay:     120 * time.Millisecond,
		RecipientTimeout:  10 * time.Second,
		RetryMax:          2,
		RateLimit:         100,
	}
}

type RecipientOutcome struct {
	Recipient string
	Err       error
}

func (o RecipientOutcome) OK() bool { return o.Err == nil }

// BatchResult holds one outcome per recipient, in send order.
type BatchResult struct {
	Outcomes []RecipientOutcome
}

func (r BatchResult) Total() int { return len(r.Outcomes) }

func (r BatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

func (r BatchResult) Failed() []RecipientOutcome {
	var failed []RecipientOutcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Delivered lists the recipients that accepted the push, in send order.
func (r BatchResult) Delivered() []string {
	var delivered []string
	for _, o := range r.Outcomes {
		if o.OK() {
			delivered = append(delivered, o.Recipient)
		}
	}
	return delivered
}

// FailureSummary names every failed recipient with its error, or is empty when all succeeded.
func (r BatchResult) FailureSummary() string {
	failed := r.Failed()
	if len(failed) == 0 {
		return ""
	}
	parts := make([]string, len(failed))
	for i, o := range failed {
		parts[i] = fmt.Sprintf("%s (%v)", o.Recipient, o.Err)
	}
	return fmt.Sprintf("Failed to send to %d target(s): %s", len(failed), strings.Join(parts, ", "))
}

// BatchSender sends the same content to each recipient one after another.
type BatchSender struct {
	cfg     BatchConfig
	limiter *rate.Limiter
	Logger  *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewBatchSender(cfg BatchConfig, loggerInstance *logger.Logger) *BatchSender {
	b := &BatchSender{cfg: cfg, Logger: loggerInstance, sleep: sleepCtx}
	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return b
}

// Send never returns an error: every failure, including cancellation of ctx, is recorded on the
// recipient it affected. Recipients not reached before ctx ends are reported failed with ctx's error.
func (b *BatchSender) Send(ctx context.Context, client Pusher, recipients []string, blocks []line.Message) BatchResult {
	result := BatchResult{Outcomes: make([]RecipientOutcome, 0, len(recipients))}

	paced := len(recipients) > b.cfg.ThrottleThreshold && b.cfg.ThrottleDelay > 0
	if paced {
		b.Logger.Debug("Pacing batch send",
			zap.Int("recipients", len(recipients)), zap.Duration("delay", b.cfg.ThrottleDelay))
	}

	for i, to := range recipients {
		if paced && i > 0 {
			if err := b.sleep(ctx, b.cfg.ThrottleDelay); err != nil {
				result.Outcomes = append(result.Outcomes, abandoned(ctx, recipients[i:], err)...)
				break
			}
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				result.Outcomes = append(result.Outcomes, abandoned(ctx, recipients[i:], err)...)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			result.Outcomes = append(result.Outcomes, abandoned(ctx, recipients[i:], err)...)
			break
		}
		err := b.sendOne(ctx, client, to, blocks)
		if err != nil {
			b.Logger.Warn("Push to recipient failed", zap.String("recipient", to), zap.Error(err))
		}
		result.Outcomes = append(result.Outcomes, RecipientOutcome{Recipient: to, Err: err})
	}
	return result
}

func abandoned(ctx context.Context, rest []string, err error) []RecipientOutcome {
	if cause := context.Cause(ctx); cause != nil {
		err = cause
	}
	out := make([]RecipientOutcome, len(rest))
	for i, to := range rest {
		out[i] = RecipientOutcome{Recipient: to, Err: fmt.Errorf("not attempted: %w", err)}
	}
	return out
}

func (b *BatchSender) sendOne(ctx context.Context, client Pusher, to string, blocks []line.Message) error {
	if b.cfg.RecipientTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.RecipientTimeout)
		defer cancel()
	}

	// One key for all attempts so the platform can drop a duplicate of a push that did land.
	retryKey := ""
	if key, err := uuid.NewV4(); err == nil {
		retryKey = key.String()
	}

	var last error
	for i := 0; i <= b.cfg.RetryMax; i++ {
		last = client.PushMessage(ctx, to, blocks, retryKey)
		if last == nil {
			return nil
		}
		if !line.IsTransient(last) || i == b.cfg.RetryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		b.Logger.Debug("Push retry scheduled",
			zap.String("recipient", to), zap.Int("attempt", i+2), zap.Duration("delay", delay), zap.Error(last))
		if err := b.sleep(ctx, delay); err != nil {
			return last
		}
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
