package charge

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/config"
	"nudge/internal/constants"
	"nudge/internal/logger"
	"nudge/internal/rule"
	pkgerrors "nudge/pkg/errors"
	"nudge/pkg/models"
)

type fakeChargeRepository struct {
	charges map[string]*Charge
}

func newFakeChargeRepository() *fakeChargeRepository {
	return &fakeChargeRepository{charges: make(map[string]*Charge)}
}

func (f *fakeChargeRepository) Create(ctx context.Context, c *Charge) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	stored := *c
	f.charges[c.ID] = &stored
	return nil
}

func (f *fakeChargeRepository) Get(ctx context.Context, id string) (*Charge, error) {
	c, ok := f.charges[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	stored := *c
	return &stored, nil
}

func (f *fakeChargeRepository) List(ctx context.Context, filter ListFilter) ([]Charge, error) {
	var out []Charge
	for _, c := range f.charges {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeChargeRepository) Update(ctx context.Context, c *Charge) error {
	if _, ok := f.charges[c.ID]; !ok {
		return pkgerrors.ErrNotFound
	}
	stored := *c
	f.charges[c.ID] = &stored
	return nil
}

func (f *fakeChargeRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]Charge, error) {
	var out []Charge
	for _, c := range f.charges {
		if c.IsDue(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeChargeRepository) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	c, ok := f.charges[id]
	if !ok {
		return false, nil
	}
	return c.IsDue(now), nil
}

func (f *fakeChargeRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	c, ok := f.charges[id]
	if !ok || c.Status == StatusProcessed || c.Status == StatusCancelled {
		return false, nil
	}
	c.Status = StatusCancelled
	c.UpdatedAt = now
	return true, nil
}

func (f *fakeChargeRepository) Rearm(ctx context.Context, id string, now time.Time) (bool, error) {
	c, ok := f.charges[id]
	if !ok || c.Status != StatusFailed || c.AttemptCount >= constants.MaxAttempts {
		return false, nil
	}
	c.Status = StatusPending
	c.UpdatedAt = now
	return true, nil
}

func (f *fakeChargeRepository) CountDue(ctx context.Context, now time.Time) (int, error) {
	due, _ := f.ListDue(ctx, now, 0)
	return len(due), nil
}

type fakeRuleService struct {
	rules map[string]*rule.Rule
}

func (f *fakeRuleService) Get(ctx context.Context, id string) (*rule.Rule, error) {
	r, ok := f.rules[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return r, nil
}

func (f *fakeRuleService) GetByToken(ctx context.Context, token string) (*rule.Rule, error) {
	for _, r := range f.rules {
		if r.WebhookToken == token {
			return r, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeRuleService) Create(ctx context.Context, req rule.CreateRuleRequest) (*rule.Rule, error) {
	return nil, nil
}

func (f *fakeRuleService) List(ctx context.Context, tenantID string) ([]rule.Rule, error) {
	return nil, nil
}

func (f *fakeRuleService) Update(ctx context.Context, id string, req rule.UpdateRuleRequest) (*rule.Rule, error) {
	return nil, nil
}

func (f *fakeRuleService) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeRuleService) RegenerateToken(ctx context.Context, id string) (*rule.Rule, error) {
	return nil, nil
}

type recordingProducer struct {
	published []models.MessageEnvelope
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) lastEventType() string {
	if len(p.published) == 0 {
		return ""
	}
	return p.published[len(p.published)-1].Type
}

var testNow = time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)

func newTestChargeService(t *testing.T, rules ...*rule.Rule) (Service, *fakeChargeRepository, *recordingProducer) {
	t.Helper()

	ruleSvc := &fakeRuleService{rules: make(map[string]*rule.Rule)}
	for _, r := range rules {
		ruleSvc.rules[r.ID] = r
	}

	repo := newFakeChargeRepository()
	producer := &recordingProducer{}

	svc, err := NewService(repo, ruleSvc, producer, config.KafkaConfig{ChargeEventsTopic: "charge_events"},
		logger.NopLogger(), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	return svc, repo, producer
}

func emailRule() *rule.Rule {
	return &rule.Rule{
		ID:       "rule-1",
		TenantID: "tenant-1",
		Active:   true,
		MomentType: rule.Before, TimeValue: 3, TimeUnit: rule.Days,
		Channel:                  "email",
		Template:                 "<strong>{{Valor}}</strong> vence em {{Data}}",
		RequiredPayloadVariables: []string{"Valor", "Data"},
		RequiredSystemVariables:  []string{"Email"},
		WebhookToken:             "token-1",
	}
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"Email":   "customer@example.com",
		"DueDate": "2025-12-31",
		"Payload": map[string]interface{}{
			"Valor": "150.00",
			"Data":  "31/12/2025",
		},
	}
}

func TestCreateChargeComputesDispatchAt(t *testing.T) {
	svc, _, producer := newTestChargeService(t, emailRule())

	dueAt := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	charge, err := svc.Create(context.Background(), CreateChargeRequest{
		RuleID:  "rule-1",
		DueAt:   dueAt,
		Payload: validPayload(),
	}, "api")
	require.NoError(t, err)

	assert.True(t, charge.DispatchAt.Equal(time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, StatusPending, charge.Status)
	assert.Zero(t, charge.AttemptCount)
	assert.Equal(t, models.EventTypeChargeCreated, producer.lastEventType())
}

func TestCreateChargeRejectsPastDispatch(t *testing.T) {
	svc, _, _ := newTestChargeService(t, emailRule())

	// Due in two days with a three-days-before rule puts dispatch in the past.
	dueAt := testNow.AddDate(0, 0, 2)
	_, err := svc.Create(context.Background(), CreateChargeRequest{
		RuleID:  "rule-1",
		DueAt:   dueAt,
		Payload: validPayload(),
	}, "api")

	assert.ErrorIs(t, err, pkgerrors.ErrDispatchInPast)
}

func TestCreateChargeDefaultRuleNeverRejectedOnTime(t *testing.T) {
	r := emailRule()
	r.Default = true
	svc, _, _ := newTestChargeService(t, r)

	// Due date far in the past; a default rule still schedules for now.
	charge, err := svc.Create(context.Background(), CreateChargeRequest{
		RuleID:  "rule-1",
		DueAt:   testNow.AddDate(-1, 0, 0),
		Payload: validPayload(),
	}, "api")
	require.NoError(t, err)

	assert.True(t, charge.DispatchAt.Equal(testNow))
}

func TestCreateChargeReportsAllMissingVariables(t *testing.T) {
	svc, _, _ := newTestChargeService(t, emailRule())

	payload := map[string]interface{}{
		"DueDate": "2025-12-31",
		"Payload": map[string]interface{}{"Valor": "150.00"},
	}

	_, err := svc.Create(context.Background(), CreateChargeRequest{
		RuleID:  "rule-1",
		DueAt:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		Payload: payload,
	}, "api")

	require.ErrorIs(t, err, pkgerrors.ErrMissingVariables)

	var appErr *pkgerrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.ElementsMatch(t, []string{"Data", "Email"}, appErr.Details["missing_variables"])
}

func TestCreateChargeInactiveRule(t *testing.T) {
	r := emailRule()
	r.Active = false
	svc, _, _ := newTestChargeService(t, r)

	_, err := svc.Create(context.Background(), CreateChargeRequest{
		RuleID:  "rule-1",
		DueAt:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		Payload: validPayload(),
	}, "api")

	assert.True(t, pkgerrors.IsValidation(err))
}

func TestCreateChargeFilterExpression(t *testing.T) {
	r := emailRule()
	r.FilterExpression = `double(payload.Amount) >= 100.0`
	svc, _, _ := newTestChargeService(t, r)
	ctx := context.Background()
	dueAt := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	payload := validPayload()
	payload["Payload"].(map[string]interface{})["Amount"] = 150.0
	_, err := svc.Create(ctx, CreateChargeRequest{RuleID: "rule-1", DueAt: dueAt, Payload: payload}, "api")
	assert.NoError(t, err)

	payload = validPayload()
	payload["Payload"].(map[string]interface{})["Amount"] = 50.0
	_, err = svc.Create(ctx, CreateChargeRequest{RuleID: "rule-1", DueAt: dueAt, Payload: payload}, "api")
	assert.True(t, pkgerrors.IsValidation(err), "payload below threshold must be filtered out")
}

func TestIngestByWebhookToken(t *testing.T) {
	svc, _, _ := newTestChargeService(t, emailRule())
	ctx := context.Background()
	dueAt := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	charge, err := svc.Ingest(ctx, "token-1", IngestChargeRequest{DueAt: dueAt, Payload: validPayload()})
	require.NoError(t, err)
	assert.Equal(t, "webhook", charge.Source)

	_, err = svc.Ingest(ctx, "wrong-token", IngestChargeRequest{DueAt: dueAt, Payload: validPayload()})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestReprocessAndCancel(t *testing.T) {
	svc, repo, producer := newTestChargeService(t, emailRule())
	ctx := context.Background()

	failed := &Charge{Status: StatusFailed, AttemptCount: 2, LastError: "provider timeout"}
	require.NoError(t, repo.Create(ctx, failed))

	reprocessed, err := svc.Reprocess(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reprocessed.Status)
	assert.Equal(t, models.EventTypeChargeReprocessed, producer.lastEventType())

	cancelled, err := svc.Cancel(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, models.EventTypeChargeCancelled, producer.lastEventType())

	_, err = svc.Cancel(ctx, failed.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrTerminalState)

	_, err = svc.Reprocess(ctx, failed.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrTerminalState)
}

func TestCancelNeverOverwritesProcessed(t *testing.T) {
	svc, repo, _ := newTestChargeService(t, emailRule())
	ctx := context.Background()

	// A dispatch that completed after the operator loaded the charge must
	// win: cancelling a processed charge is refused, not applied.
	processedAt := testNow
	c := &Charge{Status: StatusProcessed, ProcessedAt: &processedAt}
	require.NoError(t, repo.Create(ctx, c))

	_, err := svc.Cancel(ctx, c.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrTerminalState)

	stored, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, stored.Status)
	require.NotNil(t, stored.ProcessedAt)
}

func TestReprocessRefusedAtAttemptCap(t *testing.T) {
	svc, repo, _ := newTestChargeService(t, emailRule())
	ctx := context.Background()

	exhausted := &Charge{Status: StatusFailed, AttemptCount: constants.MaxAttempts}
	require.NoError(t, repo.Create(ctx, exhausted))

	_, err := svc.Reprocess(ctx, exhausted.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrTerminalState)

	stored, err := repo.Get(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestValidatePayloadBoundary(t *testing.T) {
	svc, _, _ := newTestChargeService(t, emailRule())

	missing, err := svc.ValidatePayload(context.Background(), "rule-1", map[string]interface{}{
		"Payload": map[string]interface{}{"Valor": "150.00", "Data": "31/12/2025"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Email", "DueDate"}, missing)

	missing, err = svc.ValidatePayload(context.Background(), "rule-1", validPayload())
	require.NoError(t, err)
	assert.Empty(t, missing)
}
