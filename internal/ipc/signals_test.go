package ipc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *FileBus {
	t.Helper()
	b, err := NewFileBus(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestRaiseClear(t *testing.T) {
	b := newBus(t)

	assert.False(t, b.Present(WakeWord))
	require.NoError(t, b.Raise(WakeWord))
	assert.True(t, b.Present(WakeWord))
	assert.FileExists(t, filepath.Join(b.Dir(), "WAKE_WORD_DETECTED.flag"))

	require.NoError(t, b.Clear(WakeWord))
	assert.False(t, b.Present(WakeWord))
	assert.NoError(t, b.Clear(WakeWord), "clearing twice is fine")
}

func TestPayload(t *testing.T) {
	b := newBus(t)

	_, err := b.ReadPayload(UserSpeech)
	assert.ErrorIs(t, err, ErrNoPayload)

	require.NoError(t, b.WritePayload(UserSpeech, "  go find the cat \n"))

	text, err := b.ReadPayload(UserSpeech)
	require.NoError(t, err)
	assert.Equal(t, "go find the cat", text)
	assert.True(t, b.Present(UserSpeech), "read leaves the payload")

	text, err = b.ConsumePayload(UserSpeech)
	require.NoError(t, err)
	assert.Equal(t, "go find the cat", text)
	assert.False(t, b.Present(UserSpeech))

	_, err = b.ConsumePayload(UserSpeech)
	assert.ErrorIs(t, err, ErrNoPayload)
}

func TestWritePayloadLeavesNoTempFiles(t *testing.T) {
	b := newBus(t)
	require.NoError(t, b.WritePayload(UserSpeech, "first"))
	require.NoError(t, b.WritePayload(UserSpeech, "second"))

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(UserSpeech), entries[0].Name())
}

func TestClearAll(t *testing.T) {
	b := newBus(t)
	for _, s := range []Signal{WakeWord, ListeningComplete, RequestAudioCapture} {
		require.NoError(t, b.Raise(s))
	}
	require.NoError(t, b.WritePayload(UserSpeech, "hi"))
	assert.Len(t, b.Raised(), 4)

	require.NoError(t, b.ClearAll())
	assert.Empty(t, b.Raised())
}
