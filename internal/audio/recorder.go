// Package audio records utterances from the default microphone.
package audio

import (
	"context"
	"errors"
	"time"

	"github.com/gordonklaus/portaudio"

	"rover/pkg/audioconv"
)

var ErrNoSpeech = errors.New("no speech heard")

type Settings struct {
	FrameSize int           // samples per read, 320 = 20ms at 16 kHz
	Threshold float64       // frame RMS that counts as speech
	Hold      time.Duration // trailing silence that ends an utterance
	MaxLength time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		FrameSize: 320,
		Threshold: 0.015,
		Hold:      600 * time.Millisecond,
		MaxLength: 10 * time.Second,
	}
}

type Recorder struct {
	set Settings
}

func NewRecorder(set Settings) *Recorder {
	def := DefaultSettings()
	if set.FrameSize <= 0 {
		set.FrameSize = def.FrameSize
	}
	if set.Threshold <= 0 {
		set.Threshold = def.Threshold
	}
	if set.Hold <= 0 {
		set.Hold = def.Hold
	}
	if set.MaxLength <= 0 {
		set.MaxLength = def.MaxLength
	}
	return &Recorder{set: set}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record captures one utterance at 16 kHz mono: it waits for speech and
// stops after the configured trailing silence, at MaxLength, or when ctx
// is done.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	frameDur := time.Second * time.Duration(r.set.FrameSize) / audioconv.SampleRate
	gate := &audioconv.Gate{
		Threshold: r.set.Threshold,
		Hold:      max(1, int(r.set.Hold/frameDur)),
	}

	buf := make([]float32, r.set.FrameSize)
	out := make([]float32, 0, audioconv.SampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, audioconv.SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	maxFrames := int(r.set.MaxLength / frameDur)
	for i := 0; i < maxFrames && ctx.Err() == nil; i++ {
		if err := stream.Read(); err != nil {
			return nil, err
		}

		keep, done := gate.Push(buf)
		if keep {
			out = append(out, buf...)
		}
		if done {
			break
		}
	}

	if !gate.Heard() {
		return nil, ErrNoSpeech
	}
	return out, nil
}
