package hooks

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultNeverCancels(t *testing.T) {
	var h Hooks = Default{}
	assert.False(t, h.Cancel())
	h.Heartbeat("study", "trial", "done", nil)
	h.Finish()
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &Recorder{}
	h := FromContext(ctx, rec)

	assert.False(t, h.Cancel())
	h.Heartbeat("study", "trial", "done", map[string]interface{}{"score": 0.5})
	cancel()
	assert.True(t, h.Cancel())

	h.Finish()
	assert.True(t, rec.Finished())
	assert.Len(t, rec.Events(), 1)

	assert.False(t, FromContext(context.Background(), nil).Cancel())
}

func TestRecorderCancelAfter(t *testing.T) {
	rec := &Recorder{CancelAfter: 3}
	assert.False(t, rec.Cancel())
	assert.False(t, rec.Cancel())
	assert.True(t, rec.Cancel())
	assert.True(t, rec.Cancel())
}

func TestErrStudyCancelledWraps(t *testing.T) {
	err := fmt.Errorf("iteration 2: %w", ErrStudyCancelled)
	assert.ErrorIs(t, err, ErrStudyCancelled)
}
