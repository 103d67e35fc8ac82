package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/urbanflow/water-telemetry-worker/internal/dispatch"
	"github.com/urbanflow/water-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

func TestParseTopic_KnownClasses(t *testing.T) {
	cases := []struct {
		topic    string
		class    telemetry.DeviceClass
		deviceID string
	}{
		{"meters/WM-1042/reading", telemetry.ClassMeter, "WM-1042"},
		{"quality/probe-7/data", telemetry.ClassQuality, "probe-7"},
		{"pressure/ps-3/data", telemetry.ClassPressure, "ps-3"},
		{"flow/fs-9/data", telemetry.ClassFlow, "fs-9"},
		{"pumps/pump-2/status", telemetry.ClassPump, "pump-2"},
		{"tanks/tank-1/level", telemetry.ClassTank, "tank-1"},
		{"pipes/seg-44/leak", telemetry.ClassLeak, "seg-44"},
	}

	for _, c := range cases {
		class, deviceID, err := dispatch.ParseTopic(c.topic)
		if err != nil {
			t.Errorf("ParseTopic(%q) returned error: %v", c.topic, err)
			continue
		}
		if class != c.class {
			t.Errorf("ParseTopic(%q) class = %s, expected %s", c.topic, class, c.class)
		}
		if deviceID != c.deviceID {
			t.Errorf("ParseTopic(%q) deviceID = %s, expected %s", c.topic, deviceID, c.deviceID)
		}
	}
}

func TestParseTopic_Malformed(t *testing.T) {
	cases := []string{
		"meters/WM-1042",
		"meters/WM-1042/reading/extra",
		"thermostats/t-1/data",
		"meters//reading",
		"",
	}

	for _, topic := range cases {
		if _, _, err := dispatch.ParseTopic(topic); err == nil {
			t.Errorf("ParseTopic(%q) expected error, got none", topic)
		}
	}
}

func TestDispatcher_DeliversToHandler(t *testing.T) {
	var mu sync.Mutex
	var received []telemetry.Message

	handler := func(_ context.Context, msg telemetry.Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	}

	d := dispatch.NewDispatcher(2, 16, time.Second, handler, zap.NewNop())
	d.Start(context.Background())

	now := time.Now()
	d.Enqueue("meters/WM-1/reading", []byte(`{"reading":1}`), now)
	d.Enqueue("tanks/tank-1/level", []byte(`{"level":50}`), now)
	d.Enqueue("junk-topic", []byte(`{}`), now) // dropped, never reaches the handler

	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("Expected 2 messages delivered, got %d", len(received))
	}
	classes := map[telemetry.DeviceClass]bool{}
	for _, msg := range received {
		classes[msg.Class] = true
	}
	if !classes[telemetry.ClassMeter] || !classes[telemetry.ClassTank] {
		t.Errorf("Expected meter and tank messages, got %v", classes)
	}
}

func TestDispatcher_HandlerTimeout(t *testing.T) {
	done := make(chan error, 1)
	handler := func(ctx context.Context, _ telemetry.Message) {
		<-ctx.Done()
		done <- ctx.Err()
	}

	d := dispatch.NewDispatcher(1, 4, 50*time.Millisecond, handler, zap.NewNop())
	d.Start(context.Background())
	d.Enqueue("meters/WM-1/reading", []byte(`{}`), time.Now())

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handler context never expired")
	}
	d.Stop()
}
