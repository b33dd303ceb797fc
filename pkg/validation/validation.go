package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// GroupIDRegex validates group ID format
var GroupIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const maxGroupIDLength = 64

// ValidateGroupID validates a P2P group name.
func ValidateGroupID(groupID string) error {
	if strings.TrimSpace(groupID) == "" {
		return fmt.Errorf("group ID is required")
	}
	if len(groupID) > maxGroupIDLength {
		return fmt.Errorf("group ID is too long (max %d characters)", maxGroupIDLength)
	}
	if !GroupIDRegex.MatchString(groupID) {
		return fmt.Errorf("invalid group ID format")
	}
	return nil
}

// ValidateHostID validates a host ID taken from user input.
func ValidateHostID(hostID uint64) error {
	if hostID == 0 {
		return fmt.Errorf("host ID is required")
	}
	if hostID > uint64(^uint32(0)) {
		return fmt.Errorf("host ID out of range")
	}
	return nil
}

// ValidateHostPair validates the two hosts of a pair.
func ValidateHostPair(a, b uint64) error {
	if err := ValidateHostID(a); err != nil {
		return fmt.Errorf("host_a: %w", err)
	}
	if err := ValidateHostID(b); err != nil {
		return fmt.Errorf("host_b: %w", err)
	}
	if a == b {
		return fmt.Errorf("host_a and host_b must differ")
	}
	return nil
}
