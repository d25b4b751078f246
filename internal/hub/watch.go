package hub

import (
	"context"
	"encoding/json"
	log "log/slog"

	"github.com/gorilla/websocket"
)

// Watch reads bus messages and hands them to fn until ctx is done or the
// connection drops. Undecodable frames are skipped.
func Watch(ctx context.Context, wsURL string, fn func(Message)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Debug("Skipping bus frame", "err", err)
			continue
		}
		fn(m)
	}
}
