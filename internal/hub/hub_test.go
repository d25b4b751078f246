package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busServer(t *testing.T) (string, <-chan Message) {
	t.Helper()
	got := make(chan Message, 16)
	up := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m Message
			if json.Unmarshal(data, &m) == nil {
				got <- m
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), got
}

func TestPublish(t *testing.T) {
	url, got := busServer(t)

	p, err := Dial(context.Background(), url, "rover")
	require.NoError(t, err)

	p.Publish(KindState, "SURVEY")
	p.Publish(KindSpeech, "hello")

	for _, want := range []struct{ kind, content string }{{KindState, "SURVEY"}, {KindSpeech, "hello"}} {
		select {
		case m := <-got:
			assert.Equal(t, want.kind, m.Kind)
			assert.Equal(t, want.content, m.Content)
			assert.Equal(t, "rover", m.From)
			assert.NotEmpty(t, m.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	p.Publish(KindState, "IDLE")
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	p.Publish(KindState, "IDLE")
	assert.NoError(t, p.Close())
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/bus", "rover")
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(Message{Kind: KindState, Content: "IDLE", From: "rover"})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	var got []Message
	err := Watch(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), func(m Message) {
		got = append(got, m)
	})
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)

	require.Len(t, got, 1)
	assert.Equal(t, "IDLE", got[0].Content)
}
