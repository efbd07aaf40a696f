// Package protocol defines the websocket messages exchanged with clients.
package protocol

import (
	"encoding/json"
	"time"

	"channel-watch-server/internal/model"
)

// Message types from client to server
const (
	TypeStartMonitoring = "start_monitoring"
	TypeStopMonitoring  = "stop_monitoring"
	TypePing            = "ping"
)

// Message types from server to client
const (
	TypeNewMessage            = "new_message"
	TypeMonitoringStarted     = "monitoring_started"
	TypeMonitoringStopped     = "monitoring_stopped"
	TypeError                 = "error"
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
)

// Inbound is the union of every client message. Fields not used by Type
// are ignored.
type Inbound struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

// Decode parses one client frame. Malformed JSON is reported to the
// caller, which answers with an error frame and keeps the connection open.
func Decode(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, err
	}
	return msg, nil
}

// NewMessage carries one channel post to the client.
type NewMessage struct {
	Type string        `json:"type"`
	Data model.Message `json:"data"`
}

// MonitoringChanged acknowledges a start or stop request.
type MonitoringChanged struct {
	Type      string          `json:"type"`
	Channels  []string        `json:"channels"`
	Results   map[string]bool `json:"results"`
	Timestamp string          `json:"timestamp"`
}

// Notice is used for error, connection_established and pong frames.
type Notice struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

func timestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}

func NewMessageEvent(msg model.Message) NewMessage {
	if msg.Media == nil {
		msg.Media = []string{}
	}
	return NewMessage{Type: TypeNewMessage, Data: msg}
}

func MonitoringStarted(channels []string, results map[string]bool, now time.Time) MonitoringChanged {
	return monitoringChanged(TypeMonitoringStarted, channels, results, now)
}

func MonitoringStopped(channels []string, results map[string]bool, now time.Time) MonitoringChanged {
	return monitoringChanged(TypeMonitoringStopped, channels, results, now)
}

func monitoringChanged(typ string, channels []string, results map[string]bool, now time.Time) MonitoringChanged {
	if channels == nil {
		channels = []string{}
	}
	if results == nil {
		results = map[string]bool{}
	}
	return MonitoringChanged{Type: typ, Channels: channels, Results: results, Timestamp: timestamp(now)}
}

func Error(message string, now time.Time) Notice {
	return Notice{Type: TypeError, Message: message, Timestamp: timestamp(now)}
}

func ConnectionEstablished(now time.Time) Notice {
	return Notice{Type: TypeConnectionEstablished, Message: "connection established", Timestamp: timestamp(now)}
}

func Pong(now time.Time) Notice {
	return Notice{Type: TypePong, Timestamp: timestamp(now)}
}
