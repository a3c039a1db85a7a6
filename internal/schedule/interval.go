package schedule

import (
	"fmt"
	"strings"

	"github.com/flemzord/cronsync/internal/cron"
)

// ClearOverride is the reserved interval value that removes a manual override.
const ClearOverride = "default"

// IsClearOverride reports whether expr is the clear sentinel.
func IsClearOverride(expr string) bool {
	return strings.TrimSpace(expr) == ClearOverride
}

// EffectiveInterval returns the manual override when set, else the code interval.
func EffectiveInterval(codeInterval, manualInterval string) string {
	if manualInterval == "" || IsClearOverride(manualInterval) {
		return codeInterval
	}
	return manualInterval
}

// ValidateInterval checks that expr is a usable cadence.
func ValidateInterval(expr string) error {
	if err := cron.Validate(expr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInterval, err)
	}
	return nil
}
