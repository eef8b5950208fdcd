package domain

import "time"

// PlaybackStats is a point-in-time reading from a playback resource.
type PlaybackStats struct {
	Timestamp       time.Time
	PacketsReceived uint64
	BytesReceived   uint64
	PacketLoss      float64
	Jitter          time.Duration
}

// ViewerStatus is the observable state of one viewer's session set.
type ViewerStatus struct {
	ViewerID     ViewerID           `json:"viewer_id"`
	Capabilities DeviceCapabilities `json:"capabilities"`
	LiveLimit    int                `json:"live_limit"`
	InitLimit    int                `json:"init_limit"`
	Count        int                `json:"count"`
	AtCapacity   bool               `json:"at_capacity"`
	QueueDepth   int                `json:"queue_depth"`
	Sessions     []Session          `json:"sessions"`
}
