package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendDoesNotBlockAfterConnectionDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient(wsURL(srv))
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}

	// Drain until the read pump notices the drop and closes the stream.
	deadline := time.After(2 * time.Second)
drain:
	for {
		select {
		case _, ok := <-c.Incoming():
			if !ok {
				break drain
			}
		case <-deadline:
			t.Fatal("read pump never observed the dropped connection")
		}
	}

	// Far more envelopes than the outgoing buffer holds; every one must
	// return promptly with nothing draining the queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Send(&Envelope{Type: TypePing})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked after the connection dropped")
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	c := NewClient("ws://localhost:1/ws")
	c.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Send(&Envelope{Type: TypePing})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a closed client")
	}
}
