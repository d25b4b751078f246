// Package audioconv turns audio clips into the mono 16 kHz float PCM that
// whisper expects, and writes recordings back out as WAV.
package audioconv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// SampleRate is the rate every decoder resamples to.
const SampleRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	MaxSamples int // 0 = whole clip
}

type decodeFunc func(r io.ReadSeeker) ([]float32, error)

// Decode reads a wav, mp3 or ogg (vorbis or opus) clip. The extension picks
// the decoder; unknown extensions are sniffed by magic bytes.
func Decode(path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var decoders []decodeFunc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		decoders = []decodeFunc{decodeWAV}
	case ".mp3":
		decoders = []decodeFunc{decodeMP3}
	case ".ogg", ".oga", ".opus":
		decoders = []decodeFunc{decodeVorbis, decodeOpus}
	default:
		decoders, err = sniff(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	var errs []error
	for _, dec := range decoders {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		pcm, err := dec(f)
		if err == nil {
			return truncate(pcm, opt.MaxSamples), nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("decode %s: %w", path, errors.Join(errs...))
}

func sniff(r io.ReadSeeker) ([]decodeFunc, error) {
	magic, _ := bufio.NewReader(r).Peek(4)
	switch {
	case string(magic) == "RIFF":
		return []decodeFunc{decodeWAV}, nil
	case string(magic) == "OggS":
		return []decodeFunc{decodeVorbis, decodeOpus}, nil
	case string(magic[:min(3, len(magic))]) == "ID3", len(magic) >= 2 && magic[0] == 0xff && magic[1]&0xe0 == 0xe0:
		return []decodeFunc{decodeMP3}, nil
	}
	return nil, ErrUnsupported
}

func decodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	channels, rate := 1, int(dec.SampleRate)
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			rate = buf.Format.SampleRate
		}
	}
	return toMono16k(intsToFloat(buf.Data, depth), channels, rate), nil
}

func decodeMP3(r io.ReadSeeker) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}

	samples := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, samples); err != nil {
		return nil, err
	}
	// the decoder always produces interleaved stereo
	return toMono16k(int16sToFloat(samples), 2, dec.SampleRate()), nil
}

func decodeVorbis(r io.ReadSeeker) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return toMono16k(pcm, format.Channels, format.SampleRate), nil
}

func decodeOpus(r io.ReadSeeker) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	channels := dec.ChannelCount()
	if channels <= 0 {
		channels = 1
	}

	// opus always decodes at 48 kHz
	var pcm []float32
	buf := make([]int16, 24000*channels)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16sToFloat(buf[:n*channels])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return toMono16k(pcm, channels, 48000), nil
}
