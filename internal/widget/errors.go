package widget

import "codeberg.org/mutker/batterywidget/internal/errors"

const (
	// Kind Errors
	ErrUnknownKind = errors.ErrorCode("widget_unknown_kind")

	// Registry Errors
	ErrInvalidID     = errors.ErrorCode("widget_invalid_id")
	ErrRegistryOpen  = errors.ErrorCode("widget_registry_open_failed")
	ErrRegistryIO    = errors.ErrorCode("widget_registry_io_failure")
	ErrRegistryCodec = errors.ErrorCode("widget_registry_codec_failed")
	ErrRegistryClose = errors.ErrShutdownFailed
)
