// internal/model/device.go
package model

import "time"

// DeviceInfo is a snapshot of the properties a device reports about
// itself. It is fetched on demand and never cached authoritatively.
type DeviceInfo struct {
	Product            string            `json:"product,omitempty"`
	Model              string            `json:"model,omitempty"`
	ProcessorType      string            `json:"processor_type,omitempty"`
	HardwareVersion    string            `json:"hardware_version,omitempty"`
	SerialNumber       string            `json:"serial_number,omitempty"`
	DeviceName         string            `json:"device_name,omitempty"`
	OsVersion          string            `json:"os_version,omitempty"`
	RuntimeVersion     string            `json:"runtime_version,omitempty"`
	CoprocessorType    string            `json:"coprocessor_type,omitempty"`
	CoprocessorVersion string            `json:"coprocessor_version,omitempty"`
	Properties         map[string]string `json:"properties"`
	RetrievedAt        time.Time         `json:"retrieved_at"`
}

// FileInfo is one entry of a device file listing
type FileInfo struct {
	Name  string  `json:"name"`
	Size  *int64  `json:"size,omitempty"`
	Crc32 *uint32 `json:"crc32,omitempty"`
}

// ConnectionStatus describes the link as seen by the service
type ConnectionStatus struct {
	ConnectionID string    `json:"connection_id"`
	Transport    string    `json:"transport"`
	Connected    bool      `json:"connected"`
	BytesRead    int64     `json:"bytes_read"`
	BytesWritten int64     `json:"bytes_written"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
	Operation    string    `json:"current_operation,omitempty"`
}
