package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gobflow/workflow-manager/internal/envelope"
	"github.com/gobflow/workflow-manager/internal/logger"
)

// testBus connects to TEST_REDIS_ADDR: these tests need a real Redis
// instance and are skipped rather than faked when the variable is unset.
func testBus(t *testing.T) *Bus {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run bus integration tests")
	}
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return New(addr, 0, log)
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	b := testBus(t)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	routingKey := "test.roundtrip." + time.Now().UTC().Format("150405.000000000")
	msg := envelope.New()
	msg.Header.JobID = "test-job"

	if err := b.Publish(ctx, "workflow", routingKey, msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	received := make(chan *envelope.Envelope, 1)
	go func() {
		_ = b.Consume(ctx, "workflow", routingKey, "test-group", "test-consumer", func(_ context.Context, m *envelope.Envelope) error {
			received <- m
			cancel()
			return nil
		})
	}()

	select {
	case m := <-received:
		if m.Header.JobID != "test-job" {
			t.Fatalf("expected jobid test-job, got %s", m.Header.JobID)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}

func TestPublishFansOutThroughRouter(t *testing.T) {
	b := testBus(t)
	t.Cleanup(func() { _ = b.Close() })
	b.SetRouter(NewRouter(Route{Pattern: "*.result", Queue: "test_jobstep_result"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := envelope.New()
	if err := b.Publish(ctx, "workflow", "import.result", msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	received := make(chan struct{}, 1)
	go func() {
		_ = b.Consume(ctx, "workflow", "test_jobstep_result", "test-group", "test-consumer", func(_ context.Context, _ *envelope.Envelope) error {
			received <- struct{}{}
			cancel()
			return nil
		})
	}()

	select {
	case <-received:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for routed message")
	}
}
