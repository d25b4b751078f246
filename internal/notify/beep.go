// Package notify plays short audio cues.
package notify

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

var (
	initOnce sync.Once
	initErr  error
	rate     beep.SampleRate
)

// Play decodes an mp3 cue and blocks until it has been played. The speaker is
// initialised on first use with the sample rate of that first file; later
// cues are resampled to it.
func Play(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cue: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode cue: %w", err)
	}
	defer streamer.Close()

	initOnce.Do(func() {
		rate = format.SampleRate
		initErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	if initErr != nil {
		return fmt.Errorf("init speaker: %w", initErr)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != rate {
		s = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}
