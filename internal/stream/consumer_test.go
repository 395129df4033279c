package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/meridianrag/ingestcore/internal/domain"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATS(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()
	dir := t.TempDir()
	opts := &natsserver.Options{Port: -1, JetStream: true, StoreDir: dir}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(3*time.Second))

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return srv, nc
}

func sampleEvent() domain.RawEvent {
	return domain.RawEvent{
		ExternalEventID: "rec-20251003T091500Z-3f9c4241",
		PackageURI:      "s3://bucket/key",
		Checksum:        "sha256:" + repeatHex(),
		SchemaVersion:   "1.0",
		RetryCount:      0,
		ProducedAt:      time.Now().UTC(),
		Producer:        domain.Producer{Service: "transcriber", Instance: "i-1"},
		Priority:        domain.PriorityNormal,
		Metadata:        map[string]string{"trace_id": "11111111-1111-4111-8111-111111111111"},
	}
}

func repeatHex() string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = "0123456789abcdef"[i%16]
	}
	return string(out)
}

func setupStream(t *testing.T, nc *nats.Conn, streamName, subject string) jetstream.JetStream {
	t.Helper()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject},
	})
	require.NoError(t, err)
	return js
}

func TestConsumer_AcksOnSuccess(t *testing.T) {
	_, nc := startTestNATS(t)
	js := setupStream(t, nc, "INGEST", "ingest.events")

	event := sampleEvent()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	_, err = js.Publish(t.Context(), "ingest.events", data)
	require.NoError(t, err)

	var mu sync.Mutex
	var received []string
	handler := func(_ context.Context, e domain.RawEvent, retryCount int) error {
		mu.Lock()
		received = append(received, e.ExternalEventID)
		mu.Unlock()
		return nil
	}

	cons, err := New(nc, Config{
		StreamName:    "INGEST",
		ConsumerGroup: "ingestors",
		DLQSubject:    "ingest.dlq",
		ServiceName:   "test-worker",
		BatchSize:     4,
		BlockTimeout:  200 * time.Millisecond,
		MaxRetries:    3,
	}, handler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	go func() { _ = cons.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 1500*time.Millisecond, 20*time.Millisecond)

	cancel()
	mu.Lock()
	assert.Equal(t, []string{event.ExternalEventID}, received)
	mu.Unlock()
}

func TestConsumer_DLQsNonRetryableFailure(t *testing.T) {
	_, nc := startTestNATS(t)
	js := setupStream(t, nc, "INGEST2", "ingest2.events")

	event := sampleEvent()
	data, _ := json.Marshal(event)
	_, err := js.Publish(t.Context(), "ingest2.events", data)
	require.NoError(t, err)

	dlqCh := make(chan domain.DLQRecord, 1)
	_, err = nc.Subscribe("ingest2.dlq", func(msg *nats.Msg) {
		var rec domain.DLQRecord
		if err := json.Unmarshal(msg.Data, &rec); err == nil {
			dlqCh <- rec
		}
	})
	require.NoError(t, err)

	handler := func(_ context.Context, e domain.RawEvent, retryCount int) error {
		return domain.ErrUnknownSchemaMajor
	}

	cons, err := New(nc, Config{
		StreamName:    "INGEST2",
		ConsumerGroup: "ingestors",
		DLQSubject:    "ingest2.dlq",
		ServiceName:   "test-worker",
		BatchSize:     4,
		BlockTimeout:  200 * time.Millisecond,
		MaxRetries:    3,
	}, handler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = cons.Run(ctx) }()

	select {
	case rec := <-dlqCh:
		assert.Equal(t, event.ExternalEventID, rec.Event.ExternalEventID)
		assert.NotEmpty(t, rec.ErrorCode)
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("expected a DLQ record")
	}
}

func TestConsumer_BoundsConcurrentHandlersToMaxParallelJobs(t *testing.T) {
	_, nc := startTestNATS(t)
	js := setupStream(t, nc, "INGEST3", "ingest3.events")

	const total = 6
	const maxParallel = 2
	for i := 0; i < total; i++ {
		event := sampleEvent()
		data, err := json.Marshal(event)
		require.NoError(t, err)
		_, err = js.Publish(t.Context(), "ingest3.events", data)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	inFlight, maxObserved := 0, 0
	release := make(chan struct{})
	handler := func(_ context.Context, e domain.RawEvent, retryCount int) error {
		mu.Lock()
		inFlight++
		if inFlight > maxObserved {
			maxObserved = inFlight
		}
		mu.Unlock()

		<-release

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	cons, err := New(nc, Config{
		StreamName:      "INGEST3",
		ConsumerGroup:   "ingestors",
		DLQSubject:      "ingest3.dlq",
		ServiceName:     "test-worker",
		BatchSize:       total,
		BlockTimeout:    200 * time.Millisecond,
		MaxRetries:      3,
		MaxParallelJobs: maxParallel,
	}, handler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { _ = cons.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight == maxParallel
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	observedAtCap := maxObserved
	mu.Unlock()
	assert.LessOrEqual(t, observedAtCap, maxParallel)

	close(release)
}

func TestDurableName_StableFormat(t *testing.T) {
	c := &Consumer{cfg: Config{ServiceName: "ingestworker"}}
	name := c.durableName()
	assert.Contains(t, name, "ingestworker-")
}
