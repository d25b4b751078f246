// Package tts speaks text aloud.
package tts

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Espeak runs espeak-ng synchronously, so Speak returns once the utterance
// has finished playing.
type Espeak struct {
	Binary string
	Voice  string
	Rate   int // words per minute
}

func NewEspeak(voice string, rate int) *Espeak {
	if voice == "" {
		voice = "en-us"
	}
	if rate <= 0 {
		rate = 160
	}
	return &Espeak{Binary: "espeak-ng", Voice: voice, Rate: rate}
}

func (e *Espeak) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	log.Info("Speaking", "text", text)

	cmd := exec.CommandContext(ctx, e.Binary, "-v", e.Voice, "-s", strconv.Itoa(e.Rate), "--", text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("espeak: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Silent only logs what would have been said. Used when no audio device is
// attached.
type Silent struct{}

func (Silent) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	log.Info("Speaking (muted)", "text", text)
	return ctx.Err()
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// New returns the speaker named by backend: "espeak" or "silent".
func New(backend, voice string, rate int) (Speaker, error) {
	switch backend {
	case "", "espeak":
		return NewEspeak(voice, rate), nil
	case "silent", "none":
		return Silent{}, nil
	}
	return nil, errors.New("unknown speech backend: " + backend)
}
