// Package validation checks identifiers and device signals arriving at
// the control-plane API before they reach the session core.
package validation

import (
	"fmt"
	"regexp"
)

var (
	// SessionIDRegex validates camera/session ID format.
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	maxSessionIDLength = 128
	maxRAMGB           = 1024
	maxCPUCores        = 256
)

// ValidateSessionID validates a camera/session identifier.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if len(id) > maxSessionIDLength {
		return fmt.Errorf("session id is too long (max %d characters)", maxSessionIDLength)
	}
	if !SessionIDRegex.MatchString(id) {
		return fmt.Errorf("session id may only contain letters, digits, hyphens and underscores")
	}
	return nil
}

// ValidateDeviceSignals rejects readings outside plausible hardware
// bounds. Zero values are legal; they mean "unknown".
func ValidateDeviceSignals(ramGB float64, cpuCores int) error {
	if ramGB < 0 || ramGB > maxRAMGB {
		return fmt.Errorf("ram_gb must be between 0 and %d", maxRAMGB)
	}
	if cpuCores < 0 || cpuCores > maxCPUCores {
		return fmt.Errorf("cpu_cores must be between 0 and %d", maxCPUCores)
	}
	return nil
}
