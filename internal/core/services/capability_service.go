package services

import (
	"fmt"
	"time"

	"viewmux/internal/core/domain"
	"viewmux/pkg/cache"

	"go.uber.org/zap"
)

// Defaults applied when a client cannot report a signal.
const (
	DefaultRAMGB    = 4.0
	DefaultCPUCores = 4
)

// DetectTier classifies a device. The rule is an ordered first-match:
//
//  1. ram <= 2, or cores <= 2, or a mobile device with ram <= 3 -> low
//  2. ram > 4 and cores > 4 -> high
//  3. otherwise -> medium
//
// Pure and deterministic; identical inputs always yield the same tier.
func DetectTier(ramGB float64, cores int, isMobile bool) domain.Tier {
	switch {
	case ramGB <= 2 || cores <= 2 || (isMobile && ramGB <= 3):
		return domain.TierLow
	case ramGB > 4 && cores > 4:
		return domain.TierHigh
	default:
		return domain.TierMedium
	}
}

// MaxConcurrentStreams is the live-session cap per tier. The session
// registry depends on this mapping; it is the single source of truth.
func MaxConcurrentStreams(tier domain.Tier) int {
	if tier == domain.TierLow {
		return 2
	}
	return 3
}

// Classify derives capabilities from raw signals, defaulting unknown
// readings. The result is never mutated afterwards.
func Classify(sig domain.DeviceSignals) domain.DeviceCapabilities {
	ram := sig.RAMGB
	if ram <= 0 {
		ram = DefaultRAMGB
	}
	cores := sig.CPUCores
	if cores <= 0 {
		cores = DefaultCPUCores
	}
	conn := sig.ConnectionType
	if conn == "" {
		conn = "unknown"
	}

	tier := DetectTier(ram, cores, sig.IsMobile)
	return domain.DeviceCapabilities{
		Tier:                 tier,
		RAMGB:                ram,
		CPUCores:             cores,
		IsMobile:             sig.IsMobile,
		ConnectionType:       conn,
		MaxConcurrentStreams: MaxConcurrentStreams(tier),
	}
}

// CapabilityService classifies device signals, memoizing results. Caching
// is safe because the tier is a pure function of the declared inputs; the
// TTL only bounds memory, not correctness.
type CapabilityService struct {
	cache  *cache.Cache[domain.DeviceCapabilities]
	logger *zap.SugaredLogger
}

func NewCapabilityService(cacheTTL time.Duration, logger *zap.SugaredLogger) *CapabilityService {
	return &CapabilityService{
		cache:  cache.New[domain.DeviceCapabilities](cacheTTL),
		logger: logger,
	}
}

func (s *CapabilityService) Classify(sig domain.DeviceSignals) domain.DeviceCapabilities {
	key := fmt.Sprintf("%g:%d:%t:%s", sig.RAMGB, sig.CPUCores, sig.IsMobile, sig.ConnectionType)
	if caps, ok := s.cache.Get(key); ok {
		return caps
	}

	caps := Classify(sig)
	s.cache.Set(key, caps)
	s.logger.Debugw("classified device",
		"tier", caps.Tier,
		"ram_gb", caps.RAMGB,
		"cpu_cores", caps.CPUCores,
		"is_mobile", caps.IsMobile,
		"connection", caps.ConnectionType,
	)
	return caps
}

// Close stops the classification cache.
func (s *CapabilityService) Close() {
	s.cache.Stop()
}
