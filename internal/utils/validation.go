package utils

import (
	"fmt"
	"time"
)

// ValidateDate checks that a date string is in YYYY-MM-DD format
func ValidateDate(date, fieldName, context string) error {
	if date == "" {
		return fmt.Errorf("%s: %s is required", context, fieldName)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%s: invalid %s format (expected YYYY-MM-DD): %w", context, fieldName, err)
	}
	return nil
}
