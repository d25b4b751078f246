// Package ears is the listening side of the voice interaction: it records
// an utterance when asked, transcribes it and hands the text to the brain
// through the shared signal directory.
package ears

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rover/internal/ipc"
	"rover/pkg/audioconv"
)

type Recorder interface {
	Record(ctx context.Context) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm16k []float32) (string, error)
}

// ErrBusy is returned when a capture is already running.
var ErrBusy = errors.New("already listening")

// maxClip bounds clips handed in as files.
const maxClip = 30 * audioconv.SampleRate

type Config struct {
	Cue      func() error  // played before recording, may be nil
	KeepDir  string        // when set, every recording is saved there as WAV
	Deadline time.Duration // transcription timeout
}

type Listener struct {
	bus ipc.Bus
	rec Recorder
	tr  Transcriber
	cfg Config

	mu sync.Mutex
}

func New(bus ipc.Bus, rec Recorder, tr Transcriber, cfg Config) *Listener {
	if cfg.Deadline <= 0 {
		cfg.Deadline = time.Minute
	}
	return &Listener{bus: bus, rec: rec, tr: tr, cfg: cfg}
}

// Wake is the operator trigger: it tells the brain to stop, then listens.
func (l *Listener) Wake(ctx context.Context) error {
	return l.exclusive(func() error {
		if err := l.bus.Raise(ipc.WakeWord); err != nil {
			return err
		}
		return l.listen(ctx)
	})
}

// Answer serves a capture request raised by the brain. The request is
// cleared before recording starts.
func (l *Listener) Answer(ctx context.Context) error {
	return l.exclusive(func() error {
		if err := l.bus.Clear(ipc.RequestAudioCapture); err != nil {
			return err
		}
		return l.listen(ctx)
	})
}

// Hear transcribes a prerecorded clip as if it had been spoken.
func (l *Listener) Hear(ctx context.Context, path string) error {
	return l.exclusive(func() error {
		pcm, err := audioconv.Decode(path, audioconv.Options{MaxSamples: maxClip})
		if err != nil {
			return err
		}
		log.Info("Loaded clip", "path", path, "samples", len(pcm))
		return l.transcribe(ctx, pcm)
	})
}

// Watch polls for capture requests until ctx is done.
func (l *Listener) Watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if !l.bus.Present(ipc.RequestAudioCapture) {
			continue
		}
		log.Info("Brain asked for a reply")
		if err := l.Answer(ctx); err != nil && !errors.Is(err, ErrBusy) {
			log.Error("Failed to capture reply", "err", err)
		}
	}
}

func (l *Listener) exclusive(fn func() error) error {
	if !l.mu.TryLock() {
		return ErrBusy
	}
	defer l.mu.Unlock()
	return fn()
}

func (l *Listener) listen(ctx context.Context) error {
	if l.cfg.Cue != nil {
		if err := l.cfg.Cue(); err != nil {
			log.Warn("Failed to play cue", "err", err)
		}
	}

	log.Info("Listening")
	pcm, err := l.rec.Record(ctx)
	if err != nil {
		log.Warn("Nothing recorded", "err", err)
		// an empty utterance makes the brain ask again
		return l.deliver("")
	}
	log.Info("Recorded", "samples", len(pcm))

	if l.cfg.KeepDir != "" {
		if err := l.keep(pcm); err != nil {
			log.Warn("Failed to keep recording", "err", err)
		}
	}
	return l.transcribe(ctx, pcm)
}

func (l *Listener) transcribe(ctx context.Context, pcm []float32) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Deadline)
	defer cancel()

	text, err := l.tr.Transcribe(ctx, pcm)
	if err != nil {
		// still complete the exchange so the brain does not wait for nothing
		if derr := l.deliver(""); derr != nil {
			return errors.Join(err, derr)
		}
		return fmt.Errorf("transcribe: %w", err)
	}

	log.Info("Transcribed", "text", text)
	return l.deliver(strings.TrimSpace(text))
}

// deliver writes the payload before raising the flag, so the brain never
// reads a half written utterance.
func (l *Listener) deliver(text string) error {
	if err := l.bus.WritePayload(ipc.UserSpeech, text); err != nil {
		return err
	}
	return l.bus.Raise(ipc.ListeningComplete)
}

func (l *Listener) keep(pcm []float32) error {
	if err := os.MkdirAll(l.cfg.KeepDir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(l.cfg.KeepDir, time.Now().Format("20060102-150405.000")+".wav")

	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := audioconv.EncodeWAV(f, pcm, audioconv.SampleRate); err != nil {
		f.Close()
		return err
	}
	log.Debug("Kept recording", "file", name)
	return f.Close()
}
