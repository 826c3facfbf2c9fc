package publish

import "codeberg.org/mutker/batterywidget/internal/errors"

const (
	ErrInvalidID = errors.ErrorCode("publish_invalid_id")
	ErrEncode    = errors.ErrorCode("publish_encode_failed")
	ErrWrite     = errors.ErrorCode("publish_write_failed")
)
