package workers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookline/internal/engine/webhooks"
	"hookline/internal/platform/config"
	"hookline/internal/platform/models"
	"hookline/internal/platform/queue"
)

type scriptedDispatcher struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, event *models.Event) (*models.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) >= d.calls && d.errs[d.calls-1] != nil {
		return nil, d.errs[d.calls-1]
	}
	return &models.DispatchResult{EventID: event.ID, SubscriberCount: 1, SuccessCount: 1, Status: webhooks.StatusDispatched}, nil
}

func newQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	q := queue.NewRedisQueueFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:events")
	t.Cleanup(func() { q.Close() })
	return q
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{PollTimeout: time.Second, ResultTTL: time.Minute, Concurrency: 1}
}

func TestEventConsumer_StoresResult(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Event{ID: "evt_1", Type: "claim/opened"}))

	c := NewEventConsumer(q, &scriptedDispatcher{}, testConfig())
	took, err := c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)

	res, err := q.GetResult(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	orphans, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans, "handled event should be acknowledged")
}

func TestEventConsumer_RequeuesOnResolutionError(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Event{ID: "evt_1", Type: "claim/opened"}))

	d := &scriptedDispatcher{errs: []error{fmt.Errorf("%w: db down", webhooks.ErrResolution)}}
	cfg := testConfig()
	cfg.RequeueDelay = 0
	c := NewEventConsumer(q, d, cfg)

	took, err := c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)

	_, err = q.GetResult(ctx, "evt_1")
	assert.ErrorIs(t, err, queue.ErrResultNotFound)

	took, err = c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took, "event should come back after the requeue delay")
	assert.Equal(t, 2, d.calls)

	_, err = q.GetResult(ctx, "evt_1")
	assert.NoError(t, err)
}

func TestEventConsumer_RequeuesInterruptedDispatch(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Event{ID: "evt_1", Type: "claim/opened"}))

	d := &scriptedDispatcher{errs: []error{fmt.Errorf("%w: 1 of 2 subscribers pending", webhooks.ErrInterrupted)}}
	c := NewEventConsumer(q, d, testConfig())

	took, err := c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)

	_, err = q.GetResult(ctx, "evt_1")
	assert.ErrorIs(t, err, queue.ErrResultNotFound)

	took, err = c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took, "interrupted event should be dispatched again")
	assert.Equal(t, 2, d.calls)

	_, err = q.GetResult(ctx, "evt_1")
	assert.NoError(t, err)
}

type fixedRegistry []*models.Subscriber

func (r fixedRegistry) Match(ctx context.Context, tenantID, eventType string) ([]*models.Subscriber, error) {
	return r, nil
}

type rowLedger struct {
	mu   sync.Mutex
	rows []*models.DeliveryAttempt
}

func (l *rowLedger) Record(ctx context.Context, attempts []*models.DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, attempts...)
	return nil
}

func TestEventConsumer_ShutdownMidDispatchRequeues(t *testing.T) {
	var calls int32
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case hit <- struct{}{}:
		default:
		}
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := &models.Subscriber{ID: "wh_a", TenantID: models.DefaultTenantID, Name: "a", URL: srv.URL,
		Secret: "whsec_a", EventFilter: "*", Enabled: true}
	ledger := &rowLedger{}
	dispatcher := webhooks.NewDispatcher(fixedRegistry{sub}, ledger,
		webhooks.NewClient(config.WebhooksConfig{Timeout: 5 * time.Second}),
		webhooks.Options{Policy: webhooks.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}})

	q := newQueue(t)
	require.NoError(t, q.Enqueue(context.Background(), &models.Event{ID: "evt_shutdown", Type: "claim/opened"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewEventConsumer(q, dispatcher, testConfig()).Run(ctx) }()

	select {
	case <-hit:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver was never called")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	ledger.mu.Lock()
	require.Len(t, ledger.rows, 1)
	assert.Equal(t, models.DeliveryRetrying, ledger.rows[0].Status)
	require.NotNil(t, ledger.rows[0].StatusCode)
	assert.Equal(t, 500, *ledger.rows[0].StatusCode)
	ledger.mu.Unlock()

	_, err := q.GetResult(context.Background(), "evt_shutdown")
	assert.ErrorIs(t, err, queue.ErrResultNotFound)

	msg, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg, "event should be back on the queue")
	assert.Equal(t, "evt_shutdown", msg.Event.ID)
}

func TestEventConsumer_DropsInvalidEvents(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Event{ID: "evt_1", Type: "bad"}))

	d := &scriptedDispatcher{errs: []error{fmt.Errorf("%w: bad type", webhooks.ErrInvalidEvent)}}
	c := NewEventConsumer(q, d, testConfig())

	took, err := c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEventConsumer_RunStopsOnCancel(t *testing.T) {
	q := newQueue(t)
	c := NewEventConsumer(q, &scriptedDispatcher{}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, q.Enqueue(context.Background(), &models.Event{ID: "evt_run", Type: "claim/opened"}))
	require.Eventually(t, func() bool {
		_, err := q.GetResult(context.Background(), "evt_run")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
