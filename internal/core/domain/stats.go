package domain

import "time"

// UpstreamStats is a snapshot of the SFU connection manager.
type UpstreamStats struct {
	State            ConnState `json:"state"`
	URL              string    `json:"url"`
	ReconnectAttempt int       `json:"reconnectAttempt"`
	Subscriptions    int       `json:"subscriptions"`
	LastPongAt       time.Time `json:"lastPongAt"`
	ConnectedSince   time.Time `json:"connectedSince"`
}

// RelayStats is the status endpoint snapshot.
type RelayStats struct {
	InstanceID      string        `json:"instanceId"`
	Upstream        UpstreamStats `json:"upstream"`
	Sessions        int           `json:"sessions"`
	ActiveStreams   int           `json:"activeStreams"`
	EventsPublished uint64        `json:"eventsPublished"`
	StartedAt       time.Time     `json:"startedAt"`
	Uptime          string        `json:"uptime"`
}
