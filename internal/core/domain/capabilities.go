package domain

// Tier is the coarse device-capability class that drives every downstream
// concurrency limit.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// DeviceSignals are the raw ambient readings reported by a viewer client.
// Zero values mean "unknown" and are defaulted during classification.
type DeviceSignals struct {
	RAMGB          float64 `json:"ram_gb"`
	CPUCores       int     `json:"cpu_cores"`
	IsMobile       bool    `json:"is_mobile"`
	ConnectionType string  `json:"connection_type"`
}

// DeviceCapabilities is the classification derived from DeviceSignals.
// It is never mutated after classification; identical signals always
// produce identical capabilities.
type DeviceCapabilities struct {
	Tier                 Tier    `json:"tier"`
	RAMGB                float64 `json:"ram_gb"`
	CPUCores             int     `json:"cpu_cores"`
	IsMobile             bool    `json:"is_mobile"`
	ConnectionType       string  `json:"connection_type"`
	MaxConcurrentStreams int     `json:"max_concurrent_streams"`
}
