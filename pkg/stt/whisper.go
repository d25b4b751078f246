// Package stt transcribes speech with whisper.cpp.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type Options struct {
	Language      string // "auto", "en", ...
	TranslateToEn bool
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string // biases decoding, e.g. the robot's name
	BeamSize      int    // 0 = greedy
}

type Result struct {
	Text     string
	Language string // detected or forced
}

// Transcriber owns a loaded model. Calls are serialised; whisper contexts
// are cheap but the model is not safe for parallel processing.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
}

func NewTranscriber(modelPath string) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Transcriber{model: m}, nil
}

func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// TranscribePCM takes mono 16 kHz float32 samples in [-1, 1].
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm16k []float32, opt Options) (Result, error) {
	if t.model == nil {
		return Result{}, errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return Result{}, errors.New("no audio samples provided")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		if text := strings.TrimSpace(s.Text); text != "" && !isAnnotation(text) {
			parts = append(parts, text)
		}
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return Result{
		Text:     strings.Join(parts, " "),
		Language: lang,
	}, nil
}

// isAnnotation matches non-speech markers such as [BLANK_AUDIO] or (wind).
func isAnnotation(text string) bool {
	return (strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")) ||
		(strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")"))
}
