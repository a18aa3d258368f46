package domain

import "time"

// DeviceStatus is the liveness state of a remote device.
type DeviceStatus string

const (
	DeviceConnected    DeviceStatus = "CONNECTED"
	DeviceDisconnected DeviceStatus = "DISCONNECTED"
	DeviceReconnecting DeviceStatus = "RECONNECTING"
)

// DeviceInfo is one entry in the Master's device table.
type DeviceInfo struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	LastSeenAt     time.Time    `json:"last_seen_at"`
	Status         DeviceStatus `json:"status"`
	DisconnectedAt *time.Time   `json:"disconnected_at,omitempty"`
}
