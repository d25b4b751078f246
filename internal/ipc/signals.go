package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Signal names a file in the shared IPC directory. Flags carry meaning by
// existing; UserSpeech carries text.
type Signal string

const (
	WakeWord            Signal = "WAKE_WORD_DETECTED.flag"
	ListeningComplete   Signal = "LISTENING_COMPLETE.flag"
	RequestAudioCapture Signal = "REQUEST_AUDIO_CAPTURE.flag"
	UserSpeech          Signal = "user_speech.txt"
)

// All lists every well-known signal, cleared at startup and shutdown.
var All = []Signal{WakeWord, ListeningComplete, UserSpeech, RequestAudioCapture}

var ErrNoPayload = errors.New("no payload")

// Bus is the poll based signalling channel shared with the voice process.
// It is advisory: a missed poll only delays a reaction.
type Bus interface {
	Present(s Signal) bool
	Raise(s Signal) error
	Clear(s Signal) error
	ReadPayload(s Signal) (string, error)
	ConsumePayload(s Signal) (string, error)
	WritePayload(s Signal, text string) error
	ClearAll() error
}

// FileBus implements Bus with plain files in one directory.
type FileBus struct {
	dir string
}

var _ Bus = (*FileBus)(nil)

func NewFileBus(dir string) (*FileBus, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ipc dir: %w", err)
	}
	return &FileBus{dir: dir}, nil
}

func (b *FileBus) Dir() string {
	return b.dir
}

func (b *FileBus) path(s Signal) string {
	return filepath.Join(b.dir, string(s))
}

func (b *FileBus) Present(s Signal) bool {
	_, err := os.Stat(b.path(s))
	return err == nil
}

func (b *FileBus) Raise(s Signal) error {
	if err := os.WriteFile(b.path(s), []byte("1"), 0o644); err != nil {
		return fmt.Errorf("raise %s: %w", s, err)
	}
	log.Debug("Raised signal", "signal", string(s))
	return nil
}

// Clear removes a signal; clearing an absent signal is not an error.
func (b *FileBus) Clear(s Signal) error {
	err := os.Remove(b.path(s))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear %s: %w", s, err)
	}
	log.Debug("Cleared signal", "signal", string(s))
	return nil
}

func (b *FileBus) ReadPayload(s Signal) (string, error) {
	data, err := os.ReadFile(b.path(s))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read %s: %w", s, ErrNoPayload)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ConsumePayload reads and then deletes the payload. It is only atomic with
// respect to this process.
func (b *FileBus) ConsumePayload(s Signal) (string, error) {
	text, err := b.ReadPayload(s)
	if err != nil {
		return "", err
	}
	if err := os.Remove(b.path(s)); err != nil {
		return "", fmt.Errorf("consume %s: %w", s, err)
	}
	return text, nil
}

// WritePayload replaces the payload atomically so a reader never sees a
// partial write. Raise the matching flag only after this returns.
func (b *FileBus) WritePayload(s Signal, text string) error {
	tmp, err := os.CreateTemp(b.dir, "."+string(s)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", s, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", s, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", s, err)
	}
	if err := os.Rename(tmp.Name(), b.path(s)); err != nil {
		return fmt.Errorf("write %s: %w", s, err)
	}
	return nil
}

func (b *FileBus) ClearAll() error {
	var errs []error
	for _, s := range All {
		if err := b.Clear(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Raised lists the well-known signals currently present.
func (b *FileBus) Raised() []Signal {
	var out []Signal
	for _, s := range All {
		if b.Present(s) {
			out = append(out, s)
		}
	}
	return out
}
