package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net"
	"os"
)

// DefaultSocketPath is where the voice process listens for operator triggers.
const DefaultSocketPath = "/tmp/rover-ears.sock"

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

// StartServer accepts one JSON ControlMessage per connection and hands it to
// handler. Closing the returned io.Closer stops the accept loop.
func StartServer(path string, handler func(ControlMessage)) (io.Closer, error) {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if err != nil {
				log.Warn("Control accept failed", "err", err)
				continue
			}
			go handleConn(conn, handler)
		}
	}()

	return ln, nil
}

func handleConn(conn net.Conn, handler func(ControlMessage)) {
	defer conn.Close()

	var msg ControlMessage
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		return
	}
	handler(msg)
}

func SendCommand(path string, msg ControlMessage) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return err
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	return enc.Encode(msg)
}
