package models

import "time"

// Heartbeat is the periodic plugin status published to the host bridge.
type Heartbeat struct {
	PluginID   string            `json:"plugin_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Status     string            `json:"status"`
	Accounts   int               `json:"accounts"`
	Locations  int               `json:"locations"`
	Sessions   map[string]string `json:"sessions,omitempty"` // Session state per username
	RSSBytes   uint64            `json:"rss_bytes,omitempty"`
	CPUPercent float64           `json:"cpu_percent,omitempty"`
}

// ValueUpdate is a value published for a key, e.g. an account's current location.
type ValueUpdate struct {
	Key       string            `json:"key"`
	Values    map[string]string `json:"values"`
	Timestamp time.Time         `json:"timestamp"`
}

// ReadyMessage announces that the plugin is ready to receive actions.
type ReadyMessage struct {
	PluginID string   `json:"plugin_id"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Status   string   `json:"status"`
	Actions  []string `json:"actions"`
}
