package pipeline

import "codeberg.org/mutker/batterywidget/internal/errors"

const (
	ErrRunFailed = errors.ErrRunFailed
	ErrCancelled = errors.ErrCancelled
	ErrPublish   = errors.ErrorCode("pipeline_publish_failed")
)
