package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/portal-vpn/internal/config"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/panel"
	"github.com/magabrotheeeer/portal-vpn/internal/paymentprovider"
)

type fakeRepo struct {
	mu         sync.Mutex
	subs       map[string]*models.Subscriber
	payments   map[string]*models.PaymentIntent
	history    []models.PaymentRecord
	failUpsert bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:     make(map[string]*models.Subscriber),
		payments: make(map[string]*models.PaymentIntent),
	}
}

func (r *fakeRepo) FindSubscriber(_ context.Context, telegramID string) (*models.Subscriber, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[telegramID]
	if !ok {
		return nil, false, nil
	}
	cp := *sub
	return &cp, true, nil
}

func (r *fakeRepo) UpsertSubscriber(_ context.Context, sub *models.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert {
		return errors.New("storage down")
	}
	cp := *sub
	r.subs[sub.TelegramID] = &cp
	return nil
}

func (r *fakeRepo) AppendPaymentRecord(_ context.Context, rec models.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, rec)
	return nil
}

func (r *fakeRepo) CreatePayment(_ context.Context, intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *intent
	r.payments[intent.TransactionID] = &cp
	return nil
}

func (r *fakeRepo) FindPaymentByTransactionID(_ context.Context, transactionID string) (*models.PaymentIntent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.payments[transactionID]
	if !ok {
		return nil, false, nil
	}
	cp := *intent
	return &cp, true, nil
}

func (r *fakeRepo) MarkPaymentStatus(_ context.Context, transactionID, status string, completedAt *time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.payments[transactionID]
	if !ok || intent.Status != models.PaymentPending {
		return 0, nil
	}
	intent.Status = status
	if completedAt != nil {
		intent.CompletedAt = completedAt
	}
	return 1, nil
}

func (r *fakeRepo) ListPayments(_ context.Context, subscriberID string, _, _ int) ([]*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*models.PaymentIntent
	for _, p := range r.payments {
		if p.SubscriberID == subscriberID {
			cp := *p
			res = append(res, &cp)
		}
	}
	return res, nil
}

type grantCall struct {
	identity  panel.ClientIdentity
	inboundID int
	expiry    time.Time
}

type fakePanel struct {
	mu        sync.Mutex
	grants    []grantCall
	failGrant bool
}

func (p *fakePanel) GrantClient(_ context.Context, identity panel.ClientIdentity, inboundID int, expiry time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants = append(p.grants, grantCall{identity: identity, inboundID: inboundID, expiry: expiry})
	if p.failGrant {
		return errors.New("panel unavailable")
	}
	return nil
}

func (p *fakePanel) UpdateExpiry(context.Context, string, string, int, time.Time) error {
	return nil
}

func (p *fakePanel) ListInbounds(context.Context) []panel.Inbound {
	return []panel.Inbound{{ID: 1, Remark: "trial"}}
}

func (p *fakePanel) grantCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.grants)
}

type fakeGateway struct {
	mu        sync.Mutex
	created   int
	status    string
	statusErr error
}

func (g *fakeGateway) CreatePayment(_ context.Context, amountRub int, _, subscriberID, _, _ string) (*paymentprovider.CreatedPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	return &paymentprovider.CreatedPayment{
		TransactionID: fmt.Sprintf("tx-%d", g.created),
		ExternalID:    fmt.Sprintf("user_%s_%d", subscriberID, time.Now().UnixMilli()),
		PaymentURL:    "https://pay.example/p/" + subscriberID,
		AmountKopecks: int64(amountRub) * 100,
		Currency:      "RUB",
	}, nil
}

func (g *fakeGateway) CheckStatus(context.Context, string) (string, error) {
	return g.status, g.statusErr
}

type fakeNotifier struct {
	mu             sync.Mutex
	keysIssued     []string
	paymentsFailed []string
	grantsFailed   []string
}

func (n *fakeNotifier) NotifyKeyIssued(subscriberID, _ string, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keysIssued = append(n.keysIssued, subscriberID)
}

func (n *fakeNotifier) NotifyPaymentFailed(subscriberID, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentsFailed = append(n.paymentsFailed, subscriberID)
}

func (n *fakeNotifier) NotifyGrantFailed(subscriberID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.grantsFailed = append(n.grantsFailed, subscriberID)
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []models.OperatorAlert
}

func (a *fakeAlerts) Alert(alert models.OperatorAlert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Panel: config.Panel{
			PanelURL:         "https://vpn.example:2053/panel",
			TrialInboundID:   1,
			PremiumInboundID: 2,
			TrialDays:        3,
		},
		Tiers: config.DefaultTiers(),
	}
}

type testEnv struct {
	svc      *Service
	repo     *fakeRepo
	panel    *fakePanel
	gateway  *fakeGateway
	notifier *fakeNotifier
	alerts   *fakeAlerts
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:     newFakeRepo(),
		panel:    &fakePanel{},
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		alerts:   &fakeAlerts{},
	}
	env.svc = New(newNoopLogger(), env.repo, env.panel, env.gateway, env.notifier, env.alerts, nil, testConfig())
	return env
}

func TestIssueTrial(t *testing.T) {
	env := newTestEnv()
	now := time.Now()

	key, err := env.svc.IssueTrial(context.Background(), TrialRequest{TelegramID: "100", Username: "alice"})
	require.NoError(t, err)

	assert.NotEmpty(t, key.ClientUUID)
	assert.True(t, strings.HasPrefix(key.Link, "vless://"+key.ClientUUID+"@"))
	assert.Contains(t, key.Link, "#trial_100")
	assert.WithinDuration(t, now.Add(3*24*time.Hour), key.ExpiresAt, 5*time.Second)

	require.Equal(t, 1, env.panel.grantCount())
	assert.Equal(t, 1, env.panel.grants[0].inboundID)
	assert.Equal(t, "trial_100", env.panel.grants[0].identity.Label)

	sub, found, err := env.repo.FindSubscriber(context.Background(), "100")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, sub.TrialUsed)
	assert.Equal(t, models.SubscriptionTrial, sub.SubscriptionStatus)
	assert.Equal(t, key.ClientUUID, sub.ClientUUID)

	assert.Equal(t, []string{"100"}, env.notifier.keysIssued)
}

func TestIssueTrial_AlreadyUsed(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.IssueTrial(context.Background(), TrialRequest{TelegramID: "100"})
	require.NoError(t, err)

	_, err = env.svc.IssueTrial(context.Background(), TrialRequest{TelegramID: "100"})
	require.ErrorIs(t, err, ErrTrialUsed)
	assert.Equal(t, 1, env.panel.grantCount())
}

func TestIssueTrial_ConcurrentRequests(t *testing.T) {
	env := newTestEnv()

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.IssueTrial(context.Background(), TrialRequest{TelegramID: "100"})
		}(i)
	}
	wg.Wait()

	var granted, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, ErrTrialUsed):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, granted)
	assert.Equal(t, n-1, rejected)
	assert.Equal(t, 1, env.panel.grantCount())
}

func TestIssueTrial_PanelFailure(t *testing.T) {
	env := newTestEnv()
	env.panel.failGrant = true

	_, err := env.svc.IssueTrial(context.Background(), TrialRequest{TelegramID: "100"})
	require.Error(t, err)

	_, found, err := env.repo.FindSubscriber(context.Background(), "100")
	require.NoError(t, err)
	assert.False(t, found, "subscriber record must not be saved on panel failure")
	assert.Empty(t, env.notifier.keysIssued)
}

func TestCreatePayment(t *testing.T) {
	env := newTestEnv()

	intent, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "200", Months: 3})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, intent.Status)
	assert.Equal(t, int64(40000), intent.AmountKopecks)
	assert.Equal(t, 3, intent.SubscriptionMonths)
	assert.Contains(t, intent.ExternalID, "200")
	assert.NotEmpty(t, intent.PaymentURL)

	stored, found, err := env.repo.FindPaymentByTransactionID(context.Background(), intent.TransactionID)
	require.NoError(t, err)
	require.True(t, found, "intent must be persisted before the link is returned")
	assert.Equal(t, models.PaymentPending, stored.Status)

	sub, found, err := env.repo.FindSubscriber(context.Background(), "200")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, intent.TransactionID, sub.LastPaymentID)
	assert.Equal(t, models.PaymentPending, sub.LastPaymentStatus)
}

func TestCreatePayment_UnknownTier(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "200", Months: 7})
	require.ErrorIs(t, err, ErrUnknownTier)
	assert.Equal(t, 0, env.gateway.created)
}

func TestHandleWebhook_Success(t *testing.T) {
	env := newTestEnv()
	now := time.Now()

	intent, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "300", Months: 1})
	require.NoError(t, err)

	err = env.svc.HandleWebhook(context.Background(), &paymentprovider.WebhookEvent{
		TransactionID: intent.TransactionID,
		Status:        "CONFIRMED",
	})
	require.NoError(t, err)

	stored, _, err := env.repo.FindPaymentByTransactionID(context.Background(), intent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	sub, _, err := env.repo.FindSubscriber(context.Background(), "300")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPremium, sub.SubscriptionStatus)
	assert.Equal(t, 2, sub.InboundID)
	assert.True(t, strings.HasPrefix(sub.ClientLabel, "premium_300_"))
	require.NotNil(t, sub.KeyExpiry)
	assert.WithinDuration(t, now.Add(30*24*time.Hour), *sub.KeyExpiry, 5*time.Second)

	require.Equal(t, 1, env.panel.grantCount())
	assert.Equal(t, 2, env.panel.grants[0].inboundID)
	assert.Equal(t, []string{"300"}, env.notifier.keysIssued)
}

func TestHandleWebhook_ReplayIsIdempotent(t *testing.T) {
	env := newTestEnv()

	intent, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "300", Months: 1})
	require.NoError(t, err)

	event := &paymentprovider.WebhookEvent{TransactionID: intent.TransactionID, Status: "CONFIRMED"}
	require.NoError(t, env.svc.HandleWebhook(context.Background(), event))
	require.NoError(t, env.svc.HandleWebhook(context.Background(), event))
	require.NoError(t, env.svc.HandleWebhook(context.Background(), event))

	assert.Equal(t, 1, env.panel.grantCount(), "replayed webhook must not grant a second key")
	assert.Equal(t, []string{"300"}, env.notifier.keysIssued)
}

func TestHandleWebhook_UnknownTransaction(t *testing.T) {
	env := newTestEnv()

	err := env.svc.HandleWebhook(context.Background(), &paymentprovider.WebhookEvent{
		TransactionID: "tx-ghost",
		Status:        "CONFIRMED",
	})
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestHandleWebhook_FailedPayment(t *testing.T) {
	env := newTestEnv()

	intent, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "400", Months: 1})
	require.NoError(t, err)

	err = env.svc.HandleWebhook(context.Background(), &paymentprovider.WebhookEvent{
		TransactionID: intent.TransactionID,
		Status:        "DECLINED",
	})
	require.NoError(t, err)

	stored, _, err := env.repo.FindPaymentByTransactionID(context.Background(), intent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, stored.Status)
	assert.Nil(t, stored.CompletedAt)

	sub, _, err := env.repo.FindSubscriber(context.Background(), "400")
	require.NoError(t, err)
	assert.Empty(t, sub.ClientUUID, "failed payment must not grant a key")
	assert.Equal(t, models.PaymentFailed, sub.LastPaymentStatus)

	assert.Equal(t, 0, env.panel.grantCount())
	assert.Equal(t, []string{"400"}, env.notifier.paymentsFailed)
}

func TestHandleWebhook_GrantFailureRaisesAlert(t *testing.T) {
	env := newTestEnv()

	intent, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "500", Months: 6})
	require.NoError(t, err)

	env.panel.failGrant = true
	err = env.svc.HandleWebhook(context.Background(), &paymentprovider.WebhookEvent{
		TransactionID: intent.TransactionID,
		Status:        "CONFIRMED",
	})
	require.NoError(t, err, "grant failure after captured payment is acknowledged, not retried")

	stored, _, err := env.repo.FindPaymentByTransactionID(context.Background(), intent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, stored.Status, "money was captured, intent stays success")

	sub, _, err := env.repo.FindSubscriber(context.Background(), "500")
	require.NoError(t, err)
	assert.Empty(t, sub.ClientUUID, "subscriber key must stay unchanged")

	require.Len(t, env.alerts.alerts, 1)
	assert.Equal(t, "500", env.alerts.alerts[0].SubscriberID)
	assert.Equal(t, intent.TransactionID, env.alerts.alerts[0].TransactionID)
	assert.Equal(t, []string{"500"}, env.notifier.grantsFailed)

	// Повтор доставки после частичного сбоя тоже не приводит к повторной
	// выдаче: платёж уже терминален.
	env.panel.failGrant = false
	err = env.svc.HandleWebhook(context.Background(), &paymentprovider.WebhookEvent{
		TransactionID: intent.TransactionID,
		Status:        "CONFIRMED",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.panel.grantCount())
}

func TestHandleWebhook_NonTerminalStatus(t *testing.T) {
	env := newTestEnv()

	intent, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "600", Months: 1})
	require.NoError(t, err)

	err = env.svc.HandleWebhook(context.Background(), &paymentprovider.WebhookEvent{
		TransactionID: intent.TransactionID,
		Status:        "PENDING",
	})
	require.NoError(t, err)

	stored, _, err := env.repo.FindPaymentByTransactionID(context.Background(), intent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.Status)
	assert.Equal(t, 0, env.panel.grantCount())
}

func TestGetPayment_RefreshAppliesGatewayStatus(t *testing.T) {
	env := newTestEnv()
	env.gateway.status = "CONFIRMED"

	intent, err := env.svc.CreatePayment(context.Background(), PaymentRequest{TelegramID: "700", Months: 1})
	require.NoError(t, err)

	got, err := env.svc.GetPayment(context.Background(), intent.TransactionID, true)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, got.Status)
	assert.Equal(t, 1, env.panel.grantCount())
}

func TestGetPayment_NotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.GetPayment(context.Background(), "tx-ghost", false)
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestGetSubscriber(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.GetSubscriber(context.Background(), "900")
	require.ErrorIs(t, err, ErrSubscriberNotFound)

	_, err = env.svc.IssueTrial(context.Background(), TrialRequest{TelegramID: "900", Username: "bob"})
	require.NoError(t, err)

	view, err := env.svc.GetSubscriber(context.Background(), "900")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionTrial, view.SubscriptionStatus)
	assert.True(t, view.TrialUsed)
	assert.True(t, view.HasActiveKey)
	assert.Contains(t, view.KeyLink, "vless://")
}

func TestReissueKey_ExtendsActiveKey(t *testing.T) {
	env := newTestEnv()

	key, err := env.svc.IssueTrial(context.Background(), TrialRequest{TelegramID: "800"})
	require.NoError(t, err)

	reissued, err := env.svc.ReissueKey(context.Background(), "800", 10)
	require.NoError(t, err)

	assert.Equal(t, key.ClientUUID, reissued.ClientUUID, "active key keeps its identifier")
	assert.WithinDuration(t, key.ExpiresAt.Add(10*24*time.Hour), reissued.ExpiresAt, time.Second)
	assert.Equal(t, 1, env.panel.grantCount(), "extension must not create a new client")
}

func TestReissueKey_GrantsWhenNoActiveKey(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.repo.UpsertSubscriber(context.Background(), &models.Subscriber{
		TelegramID:         "810",
		SubscriptionStatus: models.SubscriptionNone,
	}))

	key, err := env.svc.ReissueKey(context.Background(), "810", 30)
	require.NoError(t, err)

	assert.NotEmpty(t, key.ClientUUID)
	assert.True(t, strings.HasPrefix(key.Link, "vless://"))
	require.Equal(t, 1, env.panel.grantCount())
	assert.Equal(t, 2, env.panel.grants[0].inboundID)

	sub, _, err := env.repo.FindSubscriber(context.Background(), "810")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPremium, sub.SubscriptionStatus)
}

func TestReissueKey_UnknownSubscriber(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.ReissueKey(context.Background(), "ghost", 10)
	require.ErrorIs(t, err, ErrSubscriberNotFound)
}

func TestNormalizeGatewayStatus(t *testing.T) {
	cases := map[string]string{
		"CONFIRMED": models.PaymentSuccess,
		"CANCELED":  models.PaymentCancelled,
		"DECLINED":  models.PaymentFailed,
		"REFUNDED":  models.PaymentRefunded,
		"PENDING":   models.PaymentPending,
		"CHARGED":   "charged",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeGatewayStatus(in), in)
	}
}
