package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hcom/internal/model"
)

func receive(t *testing.T, ch <-chan model.DeviceEvent) model.DeviceEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return model.DeviceEvent{}
	}
}

func TestEventBusRoutesByType(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Stop()

	output := bus.Subscribe(model.EventDeviceOutput)
	all := bus.Subscribe(AllEvents)

	bus.Publish(model.NewDeviceEvent(model.EventDeviceConnected, uuid.New(), "test", nil))
	bus.Publish(model.NewDeviceEvent(model.EventDeviceOutput, uuid.New(), "test", map[string]any{"text": "hi"}))

	assert.Equal(t, model.EventDeviceConnected, receive(t, all).EventType)
	assert.Equal(t, model.EventDeviceOutput, receive(t, all).EventType)

	ev := receive(t, output)
	assert.Equal(t, "hi", ev.Data["text"])
	select {
	case extra := <-output:
		t.Fatalf("unexpected event %s", extra.EventType)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	go bus.Start()
	defer bus.Stop()

	ch := bus.Subscribe(AllEvents)
	bus.Unsubscribe(ch)

	bus.Publish(model.NewDeviceEvent(model.EventDeviceOutput, uuid.New(), "test", nil))
	select {
	case <-ch:
		t.Fatal("unsubscribed channel received an event")
	case <-time.After(20 * time.Millisecond):
	}

	bus.mutex.RLock()
	defer bus.mutex.RUnlock()
	require.Empty(t, bus.subscribers[AllEvents])
}
