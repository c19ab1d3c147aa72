package types

import (
	"strconv"
	"time"
)

// DisconnectedC is the value the probe driver reports when the sensor cannot
// be read. It is recorded and broadcast like any other temperature.
const DisconnectedC = -127.0

// Reading is one timestamped temperature sample and its sequence id.
type Reading struct {
	ID    int64
	Date  string
	Time  string
	Value float64
}

// FormatTemperature renders a temperature with two decimals, the format used
// both in the log file and on the live channel.
func FormatTemperature(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// IsDisconnected reports whether v is the probe's fault sentinel.
func IsDisconnected(v float64) bool {
	return v == DisconnectedC
}

// Telemetry is the uplink payload for one reading.
type Telemetry struct {
	NodeID       string    `json:"node_id"`
	ReadingID    int64     `json:"reading_id"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	TemperatureC float64   `json:"temperature_c"`
	SentAt       time.Time `json:"sent_at"`
}

// NodeStatus is published retained so late subscribers see whether the node is up.
type NodeStatus struct {
	NodeID string    `json:"node_id"`
	Online bool      `json:"online"`
	Since  time.Time `json:"since"`
}
