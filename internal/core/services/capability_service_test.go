package services

import (
	"testing"
	"time"

	"viewmux/internal/core/domain"

	"go.uber.org/zap/zaptest"
)

func TestDetectTier(t *testing.T) {
	tests := []struct {
		name     string
		ramGB    float64
		cores    int
		isMobile bool
		want     domain.Tier
	}{
		{"low ram dominates many cores", 2, 8, false, domain.TierLow},
		{"few cores dominate high ram", 16, 2, false, domain.TierLow},
		{"mobile with modest ram", 3, 8, true, domain.TierLow},
		{"desktop with high ram and cores", 8, 8, false, domain.TierHigh},
		{"mobile with high ram and cores", 8, 8, true, domain.TierHigh},
		{"mid ram mid cores", 3, 3, false, domain.TierMedium},
		{"high ram but only four cores", 8, 4, false, domain.TierMedium},
		{"four gb exactly is not high", 4, 8, false, domain.TierMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectTier(tt.ramGB, tt.cores, tt.isMobile); got != tt.want {
				t.Errorf("DetectTier(%v, %d, %t) = %s, want %s", tt.ramGB, tt.cores, tt.isMobile, got, tt.want)
			}
		})
	}
}

func TestDetectTierIsDeterministic(t *testing.T) {
	first := DetectTier(3, 4, true)
	for i := 0; i < 100; i++ {
		if got := DetectTier(3, 4, true); got != first {
			t.Fatalf("tier changed between identical calls: %s then %s", first, got)
		}
	}
}

func TestMaxConcurrentStreams(t *testing.T) {
	if got := MaxConcurrentStreams(domain.TierLow); got != 2 {
		t.Errorf("low tier cap = %d, want 2", got)
	}
	if got := MaxConcurrentStreams(domain.TierMedium); got != 3 {
		t.Errorf("medium tier cap = %d, want 3", got)
	}
	if got := MaxConcurrentStreams(domain.TierHigh); got != 3 {
		t.Errorf("high tier cap = %d, want 3", got)
	}
}

func TestClassifyDefaultsUnknownSignals(t *testing.T) {
	caps := Classify(domain.DeviceSignals{})

	if caps.RAMGB != DefaultRAMGB {
		t.Errorf("ram defaulted to %v, want %v", caps.RAMGB, DefaultRAMGB)
	}
	if caps.CPUCores != DefaultCPUCores {
		t.Errorf("cores defaulted to %d, want %d", caps.CPUCores, DefaultCPUCores)
	}
	if caps.ConnectionType != "unknown" {
		t.Errorf("connection defaulted to %q, want unknown", caps.ConnectionType)
	}
	if caps.Tier != domain.TierMedium {
		t.Errorf("default signals classified as %s, want medium", caps.Tier)
	}
}

func TestCapabilityServiceCachesClassification(t *testing.T) {
	svc := NewCapabilityService(time.Minute, zaptest.NewLogger(t).Sugar())
	defer svc.Close()

	sig := domain.DeviceSignals{RAMGB: 1, CPUCores: 2, IsMobile: true, ConnectionType: "4g"}
	first := svc.Classify(sig)
	second := svc.Classify(sig)

	if first != second {
		t.Fatalf("cached classification differs: %+v vs %+v", first, second)
	}
	if first.Tier != domain.TierLow {
		t.Fatalf("expected low tier, got %s", first.Tier)
	}
}
