package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepsandbloops/bitflip/internal/search"
)

func foundOutcome() *search.Outcome {
	return &search.Outcome{
		ID:        uuid.New(),
		Algorithm: "md5",
		Length:    4,
		Found:     true,
		Workers:   2,
		Elapsed:   1500 * time.Millisecond,
		Collision: &search.Collision{
			Index:   search.BitIndex{Byte: 2, Bit: 5},
			Digest:  "0123456789abcdef0123456789abcdef",
			Variant: []byte{0x00, 0x01, 0x04, 0x03},
		},
	}
}

func TestCorrectedPath(t *testing.T) {
	assert.Equal(t, "data.bin_corrected", CorrectedPath("data.bin"))
	assert.Equal(t, "/tmp/x/payload_corrected", CorrectedPath("/tmp/x/payload"))
}

func TestFileSinkPersist(t *testing.T) {
	src := filepath.Join(t.TempDir(), "payload.bin")
	s := NewFileSink(src)
	outcome := foundOutcome()

	require.NoError(t, s.Persist(context.Background(), outcome))

	data, err := os.ReadFile(src + "_corrected")
	require.NoError(t, err)
	assert.Equal(t, outcome.Collision.Variant, data)

	entries, err := os.ReadDir(filepath.Dir(src))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must not be left behind")
}

func TestFileSinkOverwrites(t *testing.T) {
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(CorrectedPath(src), []byte("stale and much longer"), 0644))

	outcome := foundOutcome()
	require.NoError(t, NewFileSink(src).Persist(context.Background(), outcome))

	data, err := os.ReadFile(CorrectedPath(src))
	require.NoError(t, err)
	assert.Equal(t, outcome.Collision.Variant, data)
}

func TestFileSinkErrors(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "missing-dir", "payload.bin"))
	err := s.Persist(context.Background(), foundOutcome())
	assert.Error(t, err)

	assert.ErrorIs(t, s.Persist(context.Background(), &search.Outcome{}), ErrNoCollision)
	assert.ErrorIs(t, s.Persist(context.Background(), nil), ErrNoCollision)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewFileSink(filepath.Join(t.TempDir(), "p")).Persist(ctx, foundOutcome()), context.Canceled)
}

type stubSink struct {
	calls int
	err   error
}

func (s *stubSink) Persist(context.Context, *search.Outcome) error {
	s.calls++
	return s.err
}

func TestMultiSink(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	a := &stubSink{err: errA}
	b := &stubSink{}
	c := &stubSink{err: errC}

	err := MultiSink{a, nil, b, c}.Persist(context.Background(), foundOutcome())
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)

	assert.NoError(t, MultiSink{b}.Persist(context.Background(), foundOutcome()))
	assert.NoError(t, MultiSink{}.Persist(context.Background(), foundOutcome()))
}

func TestNewWebSocketSink(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"ws://localhost:8080/report", false},
		{"wss://example.com/collisions", false},
		{"http://example.com", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			s, err := NewWebSocketSink(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.url, s.URL)
		})
	}
}

func TestWebSocketSinkPersist(t *testing.T) {
	received := make(chan Message, 1)
	closed := make(chan int, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		received <- msg

		_, _, err = conn.ReadMessage()
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			closed <- closeErr.Code
		}
	}))
	defer server.Close()

	s, err := NewWebSocketSink("ws" + strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)

	outcome := foundOutcome()
	require.NoError(t, s.Persist(context.Background(), outcome))

	var msg Message
	select {
	case msg = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	assert.Equal(t, TypeCollisionFound, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var payload CollisionPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, outcome.ID.String(), payload.SearchID)
	assert.Equal(t, "md5", payload.Algorithm)
	assert.Equal(t, 2, payload.Byte)
	assert.Equal(t, uint8(5), payload.Bit)
	assert.Equal(t, int64(21), payload.Linear)
	assert.Equal(t, outcome.Collision.Digest, payload.Digest)
	assert.Equal(t, 4, payload.Length)
	assert.Equal(t, int64(1500), payload.ElapsedMs)

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("no close frame received")
	}
}

func TestWebSocketSinkDialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	s, err := NewWebSocketSink("ws" + strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)

	err = s.Persist(context.Background(), foundOutcome())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")

	assert.ErrorIs(t, s.Persist(context.Background(), &search.Outcome{}), ErrNoCollision)
}
