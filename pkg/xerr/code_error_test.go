package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(New(BadRequest, "bad")))
	assert.True(t, IsPermanent(New(Unauthorized, "auth")))
	assert.True(t, IsPermanent(New(NotFound, "gone")))

	assert.False(t, IsPermanent(New(InternalServerError, "boom")))
	assert.False(t, IsPermanent(New(ServiceUnavailable, "busy")))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.False(t, IsPermanent(nil))
}

func TestIsPermanent_Wrapped(t *testing.T) {
	err := fmt.Errorf("embed batch: %w", New(Unauthorized, "invalid api key"))
	assert.True(t, IsPermanent(err))

	err = fmt.Errorf("embed batch: %w", errors.New("timeout"))
	assert.False(t, IsPermanent(err))
}

func TestCodeError_Error(t *testing.T) {
	e := Newf(BadRequest, "field %s", "id")
	assert.Contains(t, e.Error(), "400")
	assert.Contains(t, e.Error(), "field id")
}
