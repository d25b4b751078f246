// Package hub publishes robot status to a websocket message bus.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	log "log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	KindState     = "state"
	KindTelemetry = "telemetry"
	KindSpeech    = "speech"
	KindDecision  = "decision"
)

const outboxSize = 64

type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Kind    string    `json:"kind"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Publisher sends messages from a background writer. Publish never blocks;
// messages are dropped when the writer falls behind or the bus goes away.
type Publisher struct {
	name string
	conn *websocket.Conn

	out  chan Message
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func Dial(ctx context.Context, wsURL, name string) (*Publisher, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	log.Info("Connected to bus", "url", wsURL)

	p := &Publisher{
		name: name,
		conn: conn,
		out:  make(chan Message, outboxSize),
		done: make(chan struct{}),
	}
	go p.writer()
	return p, nil
}

func (p *Publisher) Publish(kind, content string) {
	if p == nil {
		return
	}

	m := Message{
		ID:      uuid.NewString(),
		From:    p.name,
		To:      "*",
		Kind:    kind,
		Content: content,
		At:      time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.out <- m:
	default:
		log.Debug("Bus outbox full, dropping message", "kind", kind)
	}
}

func (p *Publisher) writer() {
	defer close(p.done)
	for m := range p.out {
		data, err := json.Marshal(m)
		if err != nil {
			log.Warn("Failed to encode bus message", "err", err)
			continue
		}
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn("Bus write failed, publisher stopped", "err", err)
			for range p.out {
			}
			return
		}
	}
}

// Close flushes queued messages and closes the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.out)
	p.mu.Unlock()

	<-p.done

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	cerr := p.conn.Close()
	if errors.Is(werr, websocket.ErrCloseSent) {
		werr = nil
	}
	return errors.Join(werr, cerr)
}
