package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebakerswow/thebakers-front-sub000/internal/api"
	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type stubFetcher struct {
	history []models.ChatMessage
	err     error
}

func (f *stubFetcher) FetchHistory(ctx context.Context, runID uint) ([]models.ChatMessage, error) {
	return f.history, f.err
}

// chatServer scripts the backend side of the duplex connection. Each
// accepted connection is handed to script in order.
type chatServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrades int32
	script   func(n int32, conn *websocket.Conn)
}

func newChatServer(t *testing.T, script func(n int32, conn *websocket.Conn)) *chatServer {
	s := &chatServer{t: t, script: script}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&s.upgrades, 1)
		s.script(n, conn)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *chatServer) wsBase() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *chatServer) upgradeCount() int32 {
	return atomic.LoadInt32(&s.upgrades)
}

func holdOpen(n int32, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testOptions(base string) Options {
	return Options{
		WSBaseURL:      base,
		Token:          "test-token",
		LocalIDDiscord: "local-viewer",
		Backoff:        20 * time.Millisecond,
	}
}

func TestOpenFailedHistoryFetchSkipsConnection(t *testing.T) {
	srv := newChatServer(t, holdOpen)
	fetcher := &stubFetcher{err: api.ErrTransientFetch}

	_, err := Open(context.Background(), 1, fetcher, testOptions(srv.wsBase()))
	require.ErrorIs(t, err, api.ErrTransientFetch)

	// The connection step must never have been attempted.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, srv.upgradeCount())
}

func TestOpenSeedsLogFromHistory(t *testing.T) {
	srv := newChatServer(t, holdOpen)
	history := []models.ChatMessage{
		{ID: 1, UserName: "chef", Message: "starting soon"},
		{ID: 2, UserName: "raider", Message: "omw"},
	}

	c, err := Open(context.Background(), 1, &stubFetcher{history: history}, testOptions(srv.wsBase()))
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return c.State() == StateOpen },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, history, c.Messages())
}

func TestInboundMessagesAndUnreadCount(t *testing.T) {
	inbound := make(chan Envelope, 4)
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		for env := range inbound {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	})

	c, err := Open(context.Background(), 1, &stubFetcher{}, testOptions(srv.wsBase()))
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == StateOpen },
		time.Second, 5*time.Millisecond)

	inbound <- Envelope{Type: "new_message", IDDiscord: "someone-else", UserName: "chef", Message: "pulling"}
	inbound <- Envelope{Type: "new_message", IDDiscord: "local-viewer", UserName: "me", Message: "ok"}
	inbound <- Envelope{Type: "confirmation"}
	inbound <- Envelope{Type: "new_message", IDDiscord: "someone-else", Message: "gone"}

	require.Eventually(t, func() bool { return len(c.Messages()) == 3 },
		time.Second, 5*time.Millisecond)

	msgs := c.Messages()
	assert.Equal(t, "pulling", msgs[0].Message)
	assert.Equal(t, "ok", msgs[1].Message)
	// Missing author name falls back to a placeholder.
	assert.Equal(t, "Unknown", msgs[2].UserName)

	// Only the two foreign messages count while backgrounded.
	assert.Equal(t, 2, c.Unread())

	c.SetForeground(true)
	assert.Equal(t, 0, c.Unread())

	inbound <- Envelope{Type: "new_message", IDDiscord: "someone-else", UserName: "chef", Message: "loot"}
	require.Eventually(t, func() bool { return len(c.Messages()) == 4 },
		time.Second, 5*time.Millisecond)
	// Foregrounded views accumulate no unread.
	assert.Equal(t, 0, c.Unread())
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, body string) {
	n.mu.Lock()
	n.titles = append(n.titles, title)
	n.mu.Unlock()
}

func TestNotifierOnlyFiresForForeignMessages(t *testing.T) {
	inbound := make(chan Envelope, 2)
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		for env := range inbound {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	})

	notifier := &recordingNotifier{}
	opts := testOptions(srv.wsBase())
	opts.Notifier = notifier

	c, err := Open(context.Background(), 1, &stubFetcher{}, opts)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == StateOpen },
		time.Second, 5*time.Millisecond)

	inbound <- Envelope{Type: "new_message", IDDiscord: "local-viewer", UserName: "me", Message: "mine"}
	inbound <- Envelope{Type: "new_message", IDDiscord: "other", UserName: "chef", Message: "theirs"}

	require.Eventually(t, func() bool { return len(c.Messages()) == 2 },
		time.Second, 5*time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{"chef"}, notifier.titles)
}

func TestErrorEnvelopeDoesNotCloseConnection(t *testing.T) {
	inbound := make(chan Envelope, 1)
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		for env := range inbound {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var details []string
	opts := testOptions(srv.wsBase())
	opts.OnError = func(detail string) {
		mu.Lock()
		details = append(details, detail)
		mu.Unlock()
	}

	c, err := Open(context.Background(), 1, &stubFetcher{}, opts)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == StateOpen },
		time.Second, 5*time.Millisecond)

	inbound <- Envelope{Type: "error", Detail: "rate limited"}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(details) == 1 && details[0] == "rate limited"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateOpen, c.State())
}

func TestSendSemantics(t *testing.T) {
	received := make(chan Envelope, 1)
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			received <- env
		}
	})

	c, err := Open(context.Background(), 1, &stubFetcher{}, testOptions(srv.wsBase()))
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == StateOpen },
		time.Second, 5*time.Millisecond)

	// Whitespace-only bodies are a silent no-op.
	require.NoError(t, c.Send("   \t\n"))

	require.NoError(t, c.Send("inv please"))
	select {
	case env := <-received:
		assert.Equal(t, "send_message", env.Type)
		assert.Equal(t, "inv please", env.Message)
	case <-time.After(time.Second):
		t.Fatal("server never received the message")
	}

	// Not appended locally until the backend echoes it back.
	assert.Empty(t, c.Messages())
}

func TestSendRejectedWhileNotOpen(t *testing.T) {
	srv := newChatServer(t, holdOpen)

	c, err := Open(context.Background(), 1, &stubFetcher{}, testOptions(srv.wsBase()))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State() == StateOpen },
		time.Second, 5*time.Millisecond)

	c.Close()
	assert.ErrorIs(t, c.Send("too late"), ErrNotOpen)
}

func TestReconnectTerminatesAtCap(t *testing.T) {
	// Every accepted connection drops without a close frame.
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		conn.Close()
	})

	var mu sync.Mutex
	var details []string
	opts := testOptions(srv.wsBase())
	opts.MaxReconnect = 5
	opts.OnError = func(detail string) {
		mu.Lock()
		details = append(details, detail)
		mu.Unlock()
	}

	c, err := Open(context.Background(), 1, &stubFetcher{}, opts)
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return c.State() == StateTerminated },
		2*time.Second, 10*time.Millisecond)

	// Five abnormal closures exhaust the channel; the accepted-then-dropped
	// handshakes never reset the counter, and no further attempt is made.
	assert.Equal(t, 5, c.Attempts())
	attempts := srv.upgradeCount()
	assert.EqualValues(t, 5, attempts)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, attempts, srv.upgradeCount())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, details)
	assert.Equal(t, ErrConnectionExhausted.Error(), details[len(details)-1])
}

func TestReconnectCounterResetsOnSuccess(t *testing.T) {
	// Connections 1-2 drop immediately, 3 delivers a frame and stays up
	// until the server kills it, 4-7 drop again. Without the reset after
	// connection 3 the channel would terminate before ever reaching
	// attempt 7.
	release := make(chan struct{})
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		if n == 3 {
			conn.WriteJSON(Envelope{Type: "confirmation"})
			<-release
		}
		conn.Close()
	})

	opts := testOptions(srv.wsBase())
	opts.MaxReconnect = 5

	c, err := Open(context.Background(), 1, &stubFetcher{}, opts)
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateOpen && srv.upgradeCount() == 3 && c.Attempts() == 0
	}, 2*time.Second, 5*time.Millisecond)

	close(release)

	require.Eventually(t, func() bool { return c.State() == StateTerminated },
		2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 7, srv.upgradeCount())
}

func TestCloseSuppressesReconnect(t *testing.T) {
	srv := newChatServer(t, holdOpen)

	opts := testOptions(srv.wsBase())
	opts.Backoff = 50 * time.Millisecond

	c, err := Open(context.Background(), 1, &stubFetcher{}, opts)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State() == StateOpen },
		time.Second, 5*time.Millisecond)

	c.Close()
	assert.Equal(t, StateClosed, c.State())

	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, srv.upgradeCount())
	assert.Equal(t, StateClosed, c.State())
}
