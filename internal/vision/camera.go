// Package vision captures still images for the survey behaviour.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Image is an opaque captured frame handed to a describer.
type Image struct {
	Data []byte
	MIME string
}

// DefaultCommand writes one JPEG to stdout.
const DefaultCommand = "fswebcam --no-banner -r 640x480 --jpeg 85 -"

// Camera runs an external capture command and reads the image from its stdout.
type Camera struct {
	argv    []string
	timeout time.Duration
}

func NewCamera(command string, timeout time.Duration) (*Camera, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("empty camera command")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Camera{argv: argv, timeout: timeout}, nil
}

func (c *Camera) Capture(ctx context.Context) (Image, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Image{}, fmt.Errorf("capture: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	if out.Len() == 0 {
		return Image{}, errors.New("capture: no image data")
	}

	img := Image{Data: out.Bytes(), MIME: http.DetectContentType(out.Bytes())}
	log.Debug("Captured image", "bytes", len(img.Data), "mime", img.MIME)
	return img, nil
}
