package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	errFactory := errors.New()
	base := stderrors.New("disk full")
	inner := errFactory.Wrap(errors.ErrOperationFailed, base)
	outer := fmt.Errorf("append: %w", errFactory.Wrap(errors.ErrRunFailed, inner))

	assert.True(t, errors.HasCode(outer, errors.ErrRunFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrOperationFailed))
	assert.False(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(nil, errors.ErrTimeout))
	assert.ErrorIs(t, outer, base)

	code, ok := errors.CodeOf(outer)
	assert.True(t, ok)
	assert.Equal(t, errors.ErrRunFailed, code)
}

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	assert.Equal(t, "Operation timed out", errFactory.New(errors.ErrTimeout).Error())
	assert.Equal(t, "custom", errFactory.WithMessage(errors.ErrTimeout, "custom").Error())
	assert.Equal(t, "unknown_code", errFactory.New(errors.ErrorCode("unknown_code")).Error())
	assert.Equal(t, "Invalid log level", errFactory.New(errors.ErrInvalidLogLevel).Error())
	assert.Equal(t, "Invalid argument provided: bad",
		errFactory.WithData(errors.ErrInvalidArgument, "bad").Error())
}
