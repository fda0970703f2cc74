// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDeviceConnected    EventType = "DEVICE_CONNECTED"
	EventDeviceDisconnected EventType = "DEVICE_DISCONNECTED"
	EventDeviceOutput       EventType = "DEVICE_OUTPUT"
	EventOperationStarted   EventType = "OPERATION_STARTED"
	EventOperationProgress  EventType = "OPERATION_PROGRESS"
	EventOperationCompleted EventType = "OPERATION_COMPLETED"
	EventOperationFailed    EventType = "OPERATION_FAILED"
	EventUpdateStateChange  EventType = "UPDATE_STATE_CHANGE"
	EventDebuggerAttached   EventType = "DEBUGGER_ATTACHED"
	EventDebuggerDetached   EventType = "DEBUGGER_DETACHED"
)

// DeviceEvent represents an event in the system
type DeviceEvent struct {
	ID           uuid.UUID      `json:"id"`
	EventType    EventType      `json:"event_type"`
	ConnectionID uuid.UUID      `json:"connection_id"`
	Data         map[string]any `json:"data"`
	Timestamp    time.Time      `json:"timestamp"`
	Source       string         `json:"source"`
	Severity     string         `json:"severity"` // INFO, WARNING, ERROR
}

// NewDeviceEvent stamps a new event
func NewDeviceEvent(eventType EventType, connectionID uuid.UUID, source string, data map[string]any) DeviceEvent {
	return DeviceEvent{
		ID:           uuid.New(),
		EventType:    eventType,
		ConnectionID: connectionID,
		Data:         data,
		Timestamp:    time.Now(),
		Source:       source,
		Severity:     "INFO",
	}
}

// OutputStream names the device text channel an output event came from
type OutputStream string

const (
	StreamAppStdout OutputStream = "app_stdout"
	StreamAppStderr OutputStream = "app_stderr"
	StreamTrace     OutputStream = "trace"
	StreamError     OutputStream = "error"
	StreamInfo      OutputStream = "info"
)
