package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

type recordingClearer struct {
	m       sync.Mutex
	cleared []string
	err     error
}

func (r *recordingClearer) ClearCart(_ context.Context, userID string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.err != nil {
		return r.err
	}
	r.cleared = append(r.cleared, userID)
	return nil
}

func (r *recordingClearer) users() []string {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]string(nil), r.cleared...)
}

func TestHandle_ClearsCart(t *testing.T) {
	carts := &recordingClearer{}
	p := &Poller{carts: carts, log: zap.NewNop()}

	err := p.handle(context.Background(), []byte(`{"checkout_id":"c1","user_id":"123","total_amount":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"123"}, carts.users())
}

func TestHandle_BadPayloads(t *testing.T) {
	carts := &recordingClearer{}
	p := &Poller{carts: carts, log: zap.NewNop()}

	assert.ErrorContains(t, p.handle(context.Background(), []byte(`not json`)), "error parsing message")
	assert.ErrorContains(t, p.handle(context.Background(), []byte(`{"user_id":42}`)), "error parsing message")
	assert.ErrorContains(t, p.handle(context.Background(), []byte(`{"checkout_id":"c1"}`)), "missing or invalid user_id")
	assert.Empty(t, carts.users())
}

func TestHandle_ClearError(t *testing.T) {
	p := &Poller{carts: &recordingClearer{err: fmt.Errorf("database error")}, log: zap.NewNop()}

	err := p.handle(context.Background(), []byte(`{"user_id":"123"}`))
	assert.ErrorContains(t, err, "database error")
}

func setupKafka(t *testing.T) (string, func()) {
	if testing.Short() {
		t.Skip("skipping Kafka container test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

// scriptedReader fails the first failN reads, then hands out msgs, then
// blocks until the context ends.
type scriptedReader struct {
	failN int
	msgs  []kafkaGo.Message
	calls atomic.Int32
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	n := int(r.calls.Add(1))
	if r.failN < 0 || n <= r.failN {
		return kafkaGo.Message{}, errors.New("broker unreachable")
	}
	if i := n - r.failN - 1; i < len(r.msgs) {
		return r.msgs[i], nil
	}
	<-ctx.Done()
	return kafkaGo.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error { return nil }

func TestPoller_Run_BacksOffOnReadErrors(t *testing.T) {
	reader := &scriptedReader{failN: -1}
	p := &Poller{
		carts:      &recordingClearer{},
		reader:     reader,
		log:        zap.NewNop(),
		minBackoff: 20 * time.Millisecond,
		maxBackoff: 40 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after context ended")
	}
	// 20ms, then 40ms pauses: a handful of reads in 200ms, not a spin
	calls := int(reader.calls.Load())
	assert.GreaterOrEqual(t, calls, 2)
	assert.LessOrEqual(t, calls, 10)
}

func TestPoller_Run_RecoversAfterReadErrors(t *testing.T) {
	carts := &recordingClearer{}
	reader := &scriptedReader{
		failN: 2,
		msgs:  []kafkaGo.Message{{Value: []byte(`{"checkout_id":"c1","user_id":"123"}`)}},
	}
	p := &Poller{carts: carts, reader: reader, log: zap.NewNop(), minBackoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		users := carts.users()
		return len(users) == 1 && users[0] == "123"
	}, time.Second, 5*time.Millisecond)
}

func TestBackoff(t *testing.T) {
	p := &Poller{minBackoff: 100 * time.Millisecond, maxBackoff: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.backoff(4))
	assert.Equal(t, time.Second, p.backoff(5))
	assert.Equal(t, time.Second, p.backoff(50))

	var zero Poller
	assert.Equal(t, minReadBackoff, zero.backoff(1))
}

func TestPoller_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	brokers, cleanupKafka := setupKafka(t)
	defer cleanupKafka()
	createTopic(t, brokers, CheckoutTopic)

	carts := &recordingClearer{}
	poller := NewPoller(carts, nil, brokers)
	defer poller.Close()

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokers),
		Topic:                  CheckoutTopic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	payload, err := json.Marshal(map[string]interface{}{
		"checkout_id":  "chId",
		"user_id":      "123",
		"total_amount": "1",
		"currency":     "INR",
		"completed_at": time.Time{},
	})
	require.NoError(t, err)

	err = w.WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte("chId"),
		Value: payload,
		Headers: []kafkaGo.Header{
			{Key: "event_type", Value: []byte("checkout")},
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	go poller.Run(ctx)
	require.Eventually(t, func() bool {
		users := carts.users()
		return len(users) == 1 && users[0] == "123"
	}, 30*time.Second, 500*time.Millisecond)
}
