package render

import "codeberg.org/mutker/batterywidget/internal/errors"

const (
	ErrUnsupported = errors.ErrorCode("render_unsupported_kind")
	ErrEncode      = errors.ErrorCode("render_encode_failed")
)
