package battery

import "codeberg.org/mutker/batterywidget/internal/errors"

const (
	// Reading Errors
	ErrInvalidReading = errors.ErrorCode("battery_invalid_reading")

	// Source Errors
	ErrSourceNotFound = errors.ErrorCode("battery_source_not_found")
	ErrSourceRead     = errors.ErrorCode("battery_source_read_failed")
	ErrSourceParse    = errors.ErrorCode("battery_source_parse_failed")
)
