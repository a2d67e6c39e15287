package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nudge/internal/broker"
	"nudge/internal/config"
	"nudge/internal/logger"
	pkgerrors "nudge/pkg/errors"
	"nudge/pkg/metrics"
	"nudge/pkg/models"
)

// Tracker reconciles asynchronous provider callbacks into delivery records.
// Per-callback failures are isolated; a bad callback is logged and skipped so
// a burst of them never blocks the good ones.
type Tracker struct {
	repo     Repository
	audit    AuditRepository
	producer broker.Producer
	topics   config.KafkaConfig
	log      logger.Logger

	now func() time.Time
}

type TrackerOption func(*Tracker)

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(repo Repository, audit AuditRepository, producer broker.Producer, topics config.KafkaConfig, log logger.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		repo:     repo,
		audit:    audit,
		producer: producer,
		topics:   topics,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ingest audits the callback verbatim, matches it to a delivery record by
// provider message id and applies the resulting status transition. Unknown
// message ids and unrecognized event types are logged and discarded, never
// returned as errors.
func (t *Tracker) Ingest(ctx context.Context, cb Callback, rawBody string) error {
	t.logAudit(ctx, cb, rawBody)

	record, err := t.repo.GetByProviderID(ctx, cb.ProviderMessageID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			metrics.CallbacksTotal.WithLabelValues(cb.Event, "unmatched").Inc()
			t.log.WarnwCtx(ctx, "Callback for unknown provider message id, discarding",
				"event", cb.Event, "provider_message_id", cb.ProviderMessageID)
			return nil
		}
		metrics.CallbacksTotal.WithLabelValues(cb.Event, "error").Inc()
		return err
	}

	target, known := StatusForEvent(cb.Event)
	if !known {
		metrics.CallbacksTotal.WithLabelValues(cb.Event, "unrecognized").Inc()
		t.log.InfowCtx(ctx, "Unrecognized callback event type, audited without transition",
			"event", cb.Event, "record_id", record.ID)
		return nil
	}

	var transitioned bool
	var newStatus Status

	err = t.repo.ApplyTransition(ctx, record.ID, func(r *Record) (*StatusEvent, error) {
		event := t.applyCallback(r, cb, target)
		transitioned = event != nil
		newStatus = r.Status
		return event, nil
	})
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(cb.Event, "error").Inc()
		return err
	}

	metrics.CallbacksTotal.WithLabelValues(cb.Event, "processed").Inc()
	if transitioned {
		metrics.DeliveryStatusTransitionsTotal.WithLabelValues(newStatus.String()).Inc()
		t.publishStatusChanged(ctx, record, cb, newStatus)
	}

	return nil
}

// applyCallback mutates the record for one callback and returns the timeline
// event to append, or nil when the callback changes nothing. Success-branch
// statuses only ever move forward; a repeat open or click bumps its counter
// and still appends an event, without regressing the current status.
func (t *Tracker) applyCallback(r *Record, cb Callback, target Status) *StatusEvent {
	occurredAt := cb.Timestamp
	if occurredAt.IsZero() {
		occurredAt = t.now()
	}

	t.bumpCounters(r, target, occurredAt)

	regressive := target.onSuccessBranch() && r.Status.onSuccessBranch() && target <= r.Status
	if regressive {
		// Counters already moved; record the repeat event at the current
		// status so the timeline stays complete.
		if target == StatusOpened || target == StatusClicked {
			return &StatusEvent{
				FromStatus: r.Status,
				ToStatus:   r.Status,
				OccurredAt: occurredAt,
				Detail:     "repeat " + cb.Event,
				IP:         cb.IP,
				UserAgent:  cb.UserAgent,
			}
		}
		return nil
	}

	event := &StatusEvent{
		FromStatus: r.Status,
		ToStatus:   target,
		OccurredAt: occurredAt,
		Detail:     transitionDetail(cb),
		IP:         cb.IP,
		UserAgent:  cb.UserAgent,
	}
	r.Status = target
	return event
}

func (t *Tracker) bumpCounters(r *Record, target Status, occurredAt time.Time) {
	switch target {
	case StatusOpened:
		r.OpenCount++
		if r.FirstOpen == nil {
			first := occurredAt
			r.FirstOpen = &first
		}
		last := occurredAt
		r.LastOpen = &last
	case StatusClicked:
		r.ClickCount++
		if r.FirstClick == nil {
			first := occurredAt
			r.FirstClick = &first
		}
		last := occurredAt
		r.LastClick = &last
	}
}

func transitionDetail(cb Callback) string {
	switch {
	case cb.Reason != "" && cb.Code != "":
		return cb.Reason + " (" + cb.Code + ")"
	case cb.Reason != "":
		return cb.Reason
	case cb.Link != "":
		return cb.Link
	default:
		return cb.Event
	}
}

func (t *Tracker) logAudit(ctx context.Context, cb Callback, rawBody string) {
	if t.audit == nil {
		return
	}

	audit := &CallbackAudit{
		Event:      cb.Event,
		ProviderID: cb.ProviderMessageID,
		RawBody:    rawBody,
		SourceIP:   cb.IP,
		UserAgent:  cb.UserAgent,
		ReceivedAt: t.now(),
	}
	if err := t.audit.Log(ctx, audit); err != nil {
		// The audit trail is best-effort; processing continues regardless.
		t.log.WarnwCtx(ctx, "Failed to write callback audit",
			"error", err, "event", cb.Event, "provider_message_id", cb.ProviderMessageID)
	}
}

func (t *Tracker) publishStatusChanged(ctx context.Context, record *Record, cb Callback, newStatus Status) {
	if t.producer == nil {
		return
	}

	msg := models.NewMessageEnvelopeBuilder().
		WithID(uuid.New().String()).
		WithSource("dispatcher-service").
		WithType(models.EventTypeDeliveryStatusChanged).
		WithTimestamp(t.now()).
		WithPayload(map[string]interface{}{
			"record_id":           record.ID,
			"charge_id":           record.ChargeID,
			"provider_message_id": record.ProviderID,
			"event":               cb.Event,
			"status":              newStatus.String(),
		}).
		WithTenantID(record.TenantID).
		Build()

	if err := t.producer.Publish(ctx, t.topics.DeliveryEventsTopic, *msg); err != nil {
		t.log.WarnwCtx(ctx, "Failed to publish delivery status event",
			"error", err, "record_id", record.ID)
	}
}
