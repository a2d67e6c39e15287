package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nudge/internal/broker"
	"nudge/internal/channel"
	"nudge/internal/charge"
	"nudge/internal/config"
	"nudge/internal/constants"
	"nudge/internal/delivery"
	"nudge/internal/logger"
	"nudge/internal/rule"
	"nudge/internal/template"
	pkgerrors "nudge/pkg/errors"
	"nudge/pkg/metrics"
	"nudge/pkg/models"
)

// RuleResolver is the slice of the rule layer the dispatcher needs.
type RuleResolver interface {
	Get(ctx context.Context, id string) (*rule.Rule, error)
}

// ProviderResolver resolves the configured provider for a channel.
type ProviderResolver interface {
	Resolve(ch channel.Channel) (channel.Provider, error)
}

// Lock serializes sweeps across dispatcher instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Dispatcher is the polling loop that turns due charges into provider calls.
// Each sweep claims charges individually, renders the rule template and sends
// through the channel provider; one bad charge never aborts the sweep.
type Dispatcher struct {
	charges    charge.Repository
	rules      RuleResolver
	deliveries delivery.Repository
	providers  ProviderResolver
	producer   broker.Producer
	lock       Lock
	topics     config.KafkaConfig
	log        logger.Logger

	interval    time.Duration
	batchSize   int
	workers     int
	sendTimeout time.Duration
	claimLease  time.Duration

	now func() time.Time
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func New(
	charges charge.Repository,
	rules RuleResolver,
	deliveries delivery.Repository,
	providers ProviderResolver,
	producer broker.Producer,
	lock Lock,
	cfg config.DispatcherConfig,
	topics config.KafkaConfig,
	log logger.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		charges:     charges,
		rules:       rules,
		deliveries:  deliveries,
		providers:   providers,
		producer:    producer,
		lock:        lock,
		topics:      topics,
		log:         log,
		interval:    constants.DefaultSweepInterval,
		batchSize:   constants.DefaultSweepBatch,
		workers:     constants.DefaultSweepWorkers,
		sendTimeout: constants.DefaultSendTimeout,
		claimLease:  constants.DefaultClaimLease,
		now:         time.Now,
	}

	if cfg.IntervalSeconds > 0 {
		d.interval = time.Duration(cfg.IntervalSeconds) * time.Second
	}
	if cfg.BatchSize > 0 {
		d.batchSize = cfg.BatchSize
	}
	if cfg.Workers > 0 {
		d.workers = cfg.Workers
	}
	if cfg.SendTimeoutSeconds > 0 {
		d.sendTimeout = time.Duration(cfg.SendTimeoutSeconds) * time.Second
	}
	if cfg.ClaimLeaseSeconds > 0 {
		d.claimLease = time.Duration(cfg.ClaimLeaseSeconds) * time.Second
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes sweeps on a fixed cadence until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Infow("Dispatcher started",
		"interval", d.interval, "batch_size", d.batchSize, "workers", d.workers)

	for {
		select {
		case <-ctx.Done():
			d.log.Infow("Dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the due charges. It is safe to call concurrently
// from multiple instances; the sweep lock lets only one of them proceed.
func (d *Dispatcher) Sweep(ctx context.Context) {
	if d.lock != nil {
		acquired, err := d.lock.Acquire(ctx)
		if err != nil {
			metrics.SweepsTotal.WithLabelValues("lock_error").Inc()
			d.log.ErrorwCtx(ctx, "Sweep lock acquisition failed", "error", err)
			return
		}
		if !acquired {
			metrics.SweepsTotal.WithLabelValues("skipped").Inc()
			return
		}
		defer func() {
			if err := d.lock.Release(ctx); err != nil {
				d.log.WarnwCtx(ctx, "Sweep lock release failed", "error", err)
			}
		}()
	}

	start := d.now()
	due, err := d.charges.ListDue(ctx, start, d.batchSize)
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("error").Inc()
		d.log.ErrorwCtx(ctx, "Failed to list due charges", "error", err)
		return
	}

	metrics.ChargesDueGauge.Set(float64(len(due)))
	if len(due) == 0 {
		metrics.SweepsTotal.WithLabelValues("empty").Inc()
		return
	}

	d.log.InfowCtx(ctx, "Sweep started", "due_charges", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := range due {
		c := due[i]
		g.Go(func() error {
			d.dispatchOne(gctx, &c)
			return nil
		})
	}
	g.Wait()

	metrics.SweepsTotal.WithLabelValues("completed").Inc()
	metrics.ObserveDuration(metrics.SweepDuration, start)
	d.log.InfowCtx(ctx, "Sweep completed",
		"due_charges", len(due), "duration_ms", time.Since(start).Milliseconds())
}

// dispatchOne processes a single claimed charge end to end. Claiming is the
// cancel check: a charge cancelled since the listing fails the claim and is
// skipped untouched.
func (d *Dispatcher) dispatchOne(ctx context.Context, c *charge.Charge) {
	claimed, err := d.charges.Claim(ctx, c.ID, d.now(), d.claimLease)
	if err != nil {
		d.log.ErrorwCtx(ctx, "Failed to claim charge", "error", err, "charge_id", c.ID)
		return
	}
	if !claimed {
		return
	}

	r, err := d.rules.Get(ctx, c.RuleID)
	if err != nil && !pkgerrors.IsNotFound(err) {
		// Transient lookup failure. Leave the claim to expire so the next
		// sweep retries without burning an attempt.
		d.log.ErrorwCtx(ctx, "Failed to resolve rule",
			"error", err, "charge_id", c.ID, "rule_id", c.RuleID)
		return
	}
	if err != nil || r == nil || !r.Active {
		d.markFailed(ctx, c, "", "rule missing or inactive")
		return
	}

	ch, err := channel.Parse(r.Channel)
	if err != nil {
		d.markFailed(ctx, c, r.Channel, "unknown channel: "+r.Channel)
		return
	}

	payload, err := template.ParsePayload(c.Payload)
	if err != nil {
		d.markFailed(ctx, c, r.Channel, "payload unreadable: "+err.Error())
		return
	}

	values := payload.Values()
	message := template.Render(r.Template, values)
	subject := ""
	if ch == channel.Email && r.EmailSubject != "" {
		subject = template.Render(r.EmailSubject, values)
	}

	recipient, found := ResolveRecipient(ch, payload)
	if !found {
		d.markFailed(ctx, c, r.Channel, "recipient field missing")
		return
	}

	provider, err := d.providers.Resolve(ch)
	if err != nil {
		d.markFailed(ctx, c, r.Channel, err.Error())
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	sendStart := d.now()
	result, err := provider.Send(sendCtx, channel.SendRequest{
		Recipient: recipient,
		Message:   message,
		Subject:   subject,
		HTML:      ch == channel.Email,
	})

	switch {
	case errors.Is(err, channel.ErrProviderUnavailable):
		// The provider was never reached; no delivery record is created.
		metrics.ProviderSendDuration.WithLabelValues(string(ch), "unavailable").Observe(float64(time.Since(sendStart).Milliseconds()))
		d.markFailed(ctx, c, r.Channel, "provider unavailable: "+err.Error())

	case err != nil:
		metrics.ProviderSendDuration.WithLabelValues(string(ch), "error").Observe(float64(time.Since(sendStart).Milliseconds()))
		d.createRecord(ctx, c, r, recipient, message, subject, delivery.StatusSendError, "", err.Error())
		d.markFailed(ctx, c, r.Channel, err.Error())

	case !result.Success:
		metrics.ProviderSendDuration.WithLabelValues(string(ch), "rejected").Observe(float64(time.Since(sendStart).Milliseconds()))
		d.createRecord(ctx, c, r, recipient, message, subject, delivery.StatusSendError, "", result.ProviderResponse)
		d.markFailed(ctx, c, r.Channel, result.ErrorMessage)

	default:
		metrics.ProviderSendDuration.WithLabelValues(string(ch), "success").Observe(float64(time.Since(sendStart).Milliseconds()))
		d.createRecord(ctx, c, r, recipient, message, subject, delivery.StatusSent, result.ProviderMessageID, result.ProviderResponse)
		d.markProcessed(ctx, c, r.Channel, result.ProviderMessageID)
		return
	}
}

func (d *Dispatcher) createRecord(ctx context.Context, c *charge.Charge, r *rule.Rule, recipient, message, subject string, status delivery.Status, providerID, providerResponse string) {
	record := &delivery.Record{
		ChargeID:         c.ID,
		RuleID:           r.ID,
		TenantID:         c.TenantID,
		Channel:          r.Channel,
		Recipient:        recipient,
		RenderedMessage:  message,
		RenderedSubject:  subject,
		PayloadSnapshot:  c.Payload,
		ProviderID:       providerID,
		ProviderResponse: providerResponse,
		Status:           status,
	}

	if err := d.deliveries.Create(ctx, record); err != nil {
		d.log.ErrorwCtx(ctx, "Failed to create delivery record",
			"error", err, "charge_id", c.ID, "status", status.String())
	}
}

func (d *Dispatcher) markProcessed(ctx context.Context, c *charge.Charge, channelName, providerMessageID string) {
	now := d.now()
	if err := c.MarkProcessed(now); err != nil {
		d.log.WarnwCtx(ctx, "Charge already past pending, skipping",
			"charge_id", c.ID, "status", string(c.Status))
		return
	}
	if err := d.charges.Update(ctx, c); err != nil {
		d.log.ErrorwCtx(ctx, "Failed to persist processed charge", "error", err, "charge_id", c.ID)
		return
	}

	metrics.ChargesDispatchedTotal.WithLabelValues(channelName, "processed").Inc()
	d.log.InfowCtx(ctx, "Charge dispatched",
		"charge_id", c.ID, "channel", channelName, "provider_message_id", providerMessageID)
	d.publishEvent(ctx, models.EventTypeChargeProcessed, c)
}

func (d *Dispatcher) markFailed(ctx context.Context, c *charge.Charge, channelName, errMsg string) {
	if err := c.MarkFailed(errMsg); err != nil {
		d.log.WarnwCtx(ctx, "Charge already past pending, skipping",
			"charge_id", c.ID, "status", string(c.Status))
		return
	}
	if err := d.charges.Update(ctx, c); err != nil {
		d.log.ErrorwCtx(ctx, "Failed to persist failed charge", "error", err, "charge_id", c.ID)
		return
	}

	metrics.ChargesDispatchedTotal.WithLabelValues(channelName, "failed").Inc()
	d.log.WarnwCtx(ctx, "Charge dispatch failed",
		"charge_id", c.ID, "error", errMsg, "attempt_count", c.AttemptCount)
	d.publishEvent(ctx, models.EventTypeChargeFailed, c)
}

func (d *Dispatcher) publishEvent(ctx context.Context, eventType string, c *charge.Charge) {
	if d.producer == nil {
		return
	}

	msg := models.NewMessageEnvelopeBuilder().
		WithID(uuid.New().String()).
		WithSource("dispatcher-service").
		WithType(eventType).
		WithTimestamp(d.now()).
		WithPayload(map[string]interface{}{
			"charge_id":     c.ID,
			"rule_id":       c.RuleID,
			"status":        string(c.Status),
			"attempt_count": c.AttemptCount,
			"last_error":    c.LastError,
		}).
		WithTenantID(c.TenantID).
		Build()

	if err := d.producer.Publish(ctx, d.topics.ChargeEventsTopic, *msg); err != nil {
		d.log.WarnwCtx(ctx, "Failed to publish charge event",
			"error", err, "event_type", eventType, "charge_id", c.ID)
	}
}
