// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType represents a long running device operation
type OperationType string

const (
	OperationTypeFileUpload     OperationType = "FILE_UPLOAD"
	OperationTypeFirmwareUpdate OperationType = "FIRMWARE_UPDATE"
	OperationTypeDebugSession   OperationType = "DEBUG_SESSION"
)

// OperationStatus represents the status of an operation
type OperationStatus string

const (
	OperationStatusPending    OperationStatus = "PENDING"
	OperationStatusProcessing OperationStatus = "PROCESSING"
	OperationStatusSuccess    OperationStatus = "SUCCESS"
	OperationStatusFailed     OperationStatus = "FAILED"
	OperationStatusCancelled  OperationStatus = "CANCELLED"
)

// Operation tracks one long running request against the device
type Operation struct {
	ID            uuid.UUID       `json:"id"`
	OperationType OperationType   `json:"operation_type"`
	Status        OperationStatus `json:"status"`
	Progress      float64         `json:"progress"`
	State         string          `json:"state,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// NewOperation creates a pending operation
func NewOperation(operationType OperationType) *Operation {
	return &Operation{
		ID:            uuid.New(),
		OperationType: operationType,
		Status:        OperationStatusPending,
		StartedAt:     time.Now(),
	}
}

// Finish marks the operation terminal
func (o *Operation) Finish(err error) {
	now := time.Now()
	o.CompletedAt = &now
	if err != nil {
		o.Status = OperationStatusFailed
		o.ErrorMessage = err.Error()
		return
	}
	o.Status = OperationStatusSuccess
	o.Progress = 100
}

// IsTerminal reports whether the operation has finished
func (o *Operation) IsTerminal() bool {
	switch o.Status {
	case OperationStatusSuccess, OperationStatusFailed, OperationStatusCancelled:
		return true
	}
	return false
}

// Duration is the run time so far, or the total once finished
func (o *Operation) Duration() time.Duration {
	if o.CompletedAt == nil {
		return time.Since(o.StartedAt)
	}
	return o.CompletedAt.Sub(o.StartedAt)
}
