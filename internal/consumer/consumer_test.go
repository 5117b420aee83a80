package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhookhub/internal/backoff"
	"webhookhub/internal/deliveryclient"
	"webhookhub/internal/logging"
	"webhookhub/internal/store"
	"webhookhub/internal/types"
)

type fakeDestinations struct {
	byID map[string]types.Destination
}

func (f *fakeDestinations) ByID(ctx context.Context, id string) (types.Destination, error) {
	d, ok := f.byID[id]
	if !ok {
		return types.Destination{}, store.ErrNotFound
	}
	return d, nil
}

type fakePublisher struct {
	retryPublishes []types.DeliveryJob
	retryDelays    []int64
	dlxPublishes   []types.DeliveryJob
}

func (f *fakePublisher) PublishRetry(ctx context.Context, job types.DeliveryJob, delayMS int64) error {
	f.retryPublishes = append(f.retryPublishes, job)
	f.retryDelays = append(f.retryDelays, delayMS)
	return nil
}

func (f *fakePublisher) PublishDLX(ctx context.Context, job types.DeliveryJob) error {
	f.dlxPublishes = append(f.dlxPublishes, job)
	return nil
}

type scriptedPoster struct {
	outcomes []deliveryclient.Outcome
	calls    int
}

func (p *scriptedPoster) Post(ctx context.Context, target deliveryclient.Target, payload []byte) deliveryclient.Outcome {
	o := p.outcomes[p.calls]
	p.calls++
	return o
}

type noopBreaker struct{}

func (noopBreaker) Open(ctx context.Context, destinationID string) (bool, time.Time, error) {
	return false, time.Time{}, nil
}
func (noopBreaker) RecordOutcome(ctx context.Context, d types.Destination, success bool) error {
	return nil
}

func newMsgBody(t *testing.T, job types.DeliveryJob) []byte {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return b
}

func setupConsumer(t *testing.T, dest types.Destination, maxAttempts int, outcomes ...deliveryclient.Outcome) (*Consumer, *store.MemStore, *fakePublisher, *scriptedPoster) {
	t.Helper()
	mem := store.NewMemStore()
	pub := &fakePublisher{}
	poster := &scriptedPoster{outcomes: outcomes}
	c := &Consumer{
		Publisher:   pub,
		Deliveries:  mem,
		Destination: &fakeDestinations{byID: map[string]types.Destination{dest.ID: dest}},
		Poster:      poster,
		Limiter:     nil,
		Breaker:     noopBreaker{},
		Backoff:     backoff.Policy{BaseDelayMS: 100, MaxDelayMS: 1_800_000},
		MaxAttempts: maxAttempts,
		Logger:      logging.New("test"),
	}
	return c, mem, pub, poster
}

func TestRetryableThenSuccess(t *testing.T) {
	dest := types.Destination{ID: "dest-1", TargetURL: "https://example.test/hook"}
	c, mem, pub, _ := setupConsumer(t, dest, 3,
		deliveryclient.Outcome{Kind: deliveryclient.RetryableFailure, Status: 500, Msg: "status 500"},
		deliveryclient.Outcome{Kind: deliveryclient.Success, Status: 200, Msg: "status 200"},
	)
	require.NoError(t, mem.Insert(context.Background(), types.Delivery{ID: "d1", EventID: "e1", DestinationID: dest.ID, Status: types.DeliveryPending, Attempts: 0, MaxAttempts: 3, CreatedAt: time.Now()}))

	job := types.DeliveryJob{DeliveryID: "d1", EventID: "e1", DestinationID: dest.ID, TargetURL: dest.TargetURL, PayloadJSON: `{"test":true}`, Attempt: 1}
	msg := amqp.Delivery{Body: newMsgBody(t, job)}
	c.handle(context.Background(), msg)

	require.Len(t, pub.retryPublishes, 1)
	assert.Equal(t, 2, pub.retryPublishes[0].Attempt)
	assert.Equal(t, int64(100), pub.retryDelays[0])

	d, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryRetrying, d.Status)
	assert.Equal(t, 2, d.Attempts)

	// Second delivery in the chain, as if redelivered from the retry queue.
	job2 := pub.retryPublishes[0]
	msg2 := amqp.Delivery{Body: newMsgBody(t, job2)}
	c.handle(context.Background(), msg2)

	d, err = mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryDelivered, d.Status)
	assert.Equal(t, 2, d.Attempts)
	assert.Nil(t, d.LastError)
	assert.NotNil(t, d.DeliveredAt)
}

func TestAttemptsExhausted(t *testing.T) {
	dest := types.Destination{ID: "dest-1", TargetURL: "https://example.test/hook"}
	c, mem, pub, _ := setupConsumer(t, dest, 3,
		deliveryclient.Outcome{Kind: deliveryclient.RetryableFailure, Status: 500, Msg: "status 500"},
	)
	require.NoError(t, mem.Insert(context.Background(), types.Delivery{ID: "d1", EventID: "e1", DestinationID: dest.ID, Status: types.DeliveryRetrying, Attempts: 3, MaxAttempts: 3, CreatedAt: time.Now()}))

	job := types.DeliveryJob{DeliveryID: "d1", EventID: "e1", DestinationID: dest.ID, TargetURL: dest.TargetURL, PayloadJSON: `{"test":true}`, Attempt: 3}
	msg := amqp.Delivery{Body: newMsgBody(t, job)}
	c.handle(context.Background(), msg)

	require.Len(t, pub.dlxPublishes, 1)
	assert.Equal(t, 3, pub.dlxPublishes[0].Attempt)
	assert.Equal(t, "d1", pub.dlxPublishes[0].DeliveryID)

	d, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryDead, d.Status)
	assert.Equal(t, 3, d.Attempts)
	assert.NotNil(t, d.LastError)
}

func TestSingleRetryablePersistsRetrying(t *testing.T) {
	dest := types.Destination{ID: "dest-1", TargetURL: "https://example.test/hook"}
	c, mem, pub, _ := setupConsumer(t, dest, 3,
		deliveryclient.Outcome{Kind: deliveryclient.RetryableFailure, Status: 500, Msg: "status 500: boom"},
	)
	require.NoError(t, mem.Insert(context.Background(), types.Delivery{ID: "d1", EventID: "e1", DestinationID: dest.ID, Status: types.DeliveryPending, Attempts: 0, MaxAttempts: 3, CreatedAt: time.Now()}))

	job := types.DeliveryJob{DeliveryID: "d1", EventID: "e1", DestinationID: dest.ID, TargetURL: dest.TargetURL, PayloadJSON: `{"test":true}`, Attempt: 1}
	msg := amqp.Delivery{Body: newMsgBody(t, job)}
	c.handle(context.Background(), msg)

	d, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryRetrying, d.Status)
	assert.Equal(t, 2, d.Attempts)
	require.NotNil(t, d.LastError)
	assert.Contains(t, *d.LastError, "500")

	require.Len(t, pub.retryPublishes, 1)
	assert.Equal(t, int64(100), pub.retryDelays[0])
	assert.Equal(t, 2, pub.retryPublishes[0].Attempt)
}

func TestNonRetryableGoesDead(t *testing.T) {
	dest := types.Destination{ID: "dest-1", TargetURL: "https://example.test/hook"}
	c, mem, pub, _ := setupConsumer(t, dest, 3,
		deliveryclient.Outcome{Kind: deliveryclient.NonRetryableFailure, Status: 400, Msg: "status 400: bad request"},
	)
	require.NoError(t, mem.Insert(context.Background(), types.Delivery{ID: "d1", EventID: "e1", DestinationID: dest.ID, Status: types.DeliveryPending, Attempts: 0, MaxAttempts: 3, CreatedAt: time.Now()}))

	job := types.DeliveryJob{DeliveryID: "d1", EventID: "e1", DestinationID: dest.ID, TargetURL: dest.TargetURL, PayloadJSON: `{"test":true}`, Attempt: 1}
	msg := amqp.Delivery{Body: newMsgBody(t, job)}
	c.handle(context.Background(), msg)

	d, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryDead, d.Status)
	assert.Equal(t, 1, d.Attempts)
	require.NotNil(t, d.LastError)
	assert.Contains(t, *d.LastError, "400")

	require.Len(t, pub.dlxPublishes, 1)
	assert.Equal(t, 1, pub.dlxPublishes[0].Attempt)
}

// Terminal deliveries are never mutated again.
func TestTerminalDeliveriesNeverMutated(t *testing.T) {
	dest := types.Destination{ID: "dest-1", TargetURL: "https://example.test/hook"}
	c, mem, _, _ := setupConsumer(t, dest, 3,
		deliveryclient.Outcome{Kind: deliveryclient.Success, Status: 200, Msg: "status 200"},
	)
	now := time.Now()
	require.NoError(t, mem.Insert(context.Background(), types.Delivery{ID: "d1", EventID: "e1", DestinationID: dest.ID, Status: types.DeliveryDead, Attempts: 5, MaxAttempts: 5, DeliveredAt: nil, CreatedAt: now}))

	job := types.DeliveryJob{DeliveryID: "d1", EventID: "e1", DestinationID: dest.ID, TargetURL: dest.TargetURL, PayloadJSON: `{}`, Attempt: 5}
	msg := amqp.Delivery{Body: newMsgBody(t, job)}
	c.handle(context.Background(), msg)

	d, err := mem.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryDead, d.Status, "a terminal delivery must never be mutated again")
}
