package vision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureReadsStdout(t *testing.T) {
	cam, err := NewCamera("echo frame", time.Second)
	require.NoError(t, err)

	img, err := cam.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "frame\n", string(img.Data))
	assert.Contains(t, img.MIME, "text/plain")
}

func TestCaptureFailures(t *testing.T) {
	_, err := NewCamera("   ", time.Second)
	assert.Error(t, err)

	cam, err := NewCamera("false", time.Second)
	require.NoError(t, err)
	_, err = cam.Capture(context.Background())
	assert.Error(t, err)

	cam, err = NewCamera("true", time.Second)
	require.NoError(t, err)
	_, err = cam.Capture(context.Background())
	assert.ErrorContains(t, err, "no image data")
}
