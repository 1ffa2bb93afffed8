package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/backoff"
	"github.com/scaleworld/client/internal/entity"
)

func moveDiff(id string, base uint64, x float64) entity.Diff {
	pos := entity.Vec3{X: x}
	return entity.Diff{
		Op:          entity.OpUpdate,
		EntityID:    id,
		BaseVersion: base,
		Fields:      entity.FieldSet{Position: &pos},
	}
}

func TestLoopbackPairRoundTrip(t *testing.T) {
	a, b := NewLoopbackPair()
	var got []entity.Diff
	b.Subscribe(func(d entity.Diff) { got = append(got, d) })

	require.NoError(t, a.Publish(moveDiff("e1", 0, 1)))
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].EntityID)
}

func TestLoopbackDeadEndDropsPublishes(t *testing.T) {
	l := NewLoopback()
	assert.NoError(t, l.Publish(moveDiff("e1", 0, 1)))
}

func TestLoopbackCloseStopsDelivery(t *testing.T) {
	l := NewLoopback()
	var got int
	l.Subscribe(func(entity.Diff) { got++ })
	require.NoError(t, l.Close())
	l.Deliver(moveDiff("e1", 0, 1))
	assert.Zero(t, got)
}

func TestLoopbackCollectsRejections(t *testing.T) {
	l := NewLoopback()
	l.Rejected(moveDiff("e1", 3, 1), &entity.VersionConflictError{ID: "e1", Base: 3, Current: 5})
	rejects := l.Rejects()
	require.Len(t, rejects, 1)
	assert.Equal(t, uint64(3), rejects[0].BaseVersion)
}

func newTestWS(t *testing.T) *WSChannel {
	t.Helper()
	c := NewWSChannel("ws://unused", backoff.Config{InitialDelay: time.Millisecond}, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDispatchDeliversDiffFrames(t *testing.T) {
	c := newTestWS(t)
	var got []entity.Diff
	c.Subscribe(func(d entity.Diff) { got = append(got, d) })

	raw, err := entity.EncodeDiff(moveDiff("e1", 2, 4))
	require.NoError(t, err)
	c.dispatch([]byte(`{"type":"diff","diff":` + string(raw) + `}`))

	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].BaseVersion)
	assert.Zero(t, c.Malformed())
}

func TestDispatchCountsMalformedFrames(t *testing.T) {
	c := newTestWS(t)
	c.Subscribe(func(entity.Diff) { t.Fatal("malformed frame must not reach handlers") })

	c.dispatch([]byte(`{{{`))
	c.dispatch([]byte(`{"type":"diff","diff":{"op":"upsert","entity_id":"e1"}}`))
	c.dispatch([]byte(`{"type":"snapshot"}`))
	assert.Equal(t, uint64(3), c.Malformed())
}

func TestRejectedSendsConflictFrame(t *testing.T) {
	c := newTestWS(t)
	c.Rejected(moveDiff("e1", 3, 1), &entity.VersionConflictError{ID: "e1", Base: 3, Current: 7})

	select {
	case env := <-c.outbox:
		assert.Equal(t, "reject", env.Type)
		require.NotNil(t, env.Reject)
		assert.Equal(t, "e1", env.Reject.EntityID)
		assert.Equal(t, uint64(3), env.Reject.BaseVersion)
		assert.Equal(t, uint64(7), env.Reject.CurrentVersion)
	default:
		t.Fatal("no frame queued")
	}
}

func TestOutboxDropsOldestWhenFull(t *testing.T) {
	c := newTestWS(t)
	for i := 0; i <= outboxSize; i++ {
		require.NoError(t, c.Publish(moveDiff("e1", uint64(i), 1)))
	}
	assert.Len(t, c.outbox, outboxSize)

	env := <-c.outbox
	d, err := entity.DecodeDiff(env.Diff)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.BaseVersion, "oldest frame was dropped")
}

// End-to-end over a real websocket: the server pushes a diff, the client
// publishes one back.
func TestWSChannelRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverGot := make(chan entity.Diff, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		raw, err := entity.EncodeDiff(moveDiff("e1", 0, 9))
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(envelope{Type: "diff", Diff: raw}))

		var env envelope
		if err := conn.ReadJSON(&env); err == nil && env.Type == "diff" {
			if d, err := entity.DecodeDiff(env.Diff); err == nil {
				serverGot <- d
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWSChannel(url, backoff.Config{InitialDelay: time.Millisecond}, zap.NewNop())
	defer c.Close()

	clientGot := make(chan entity.Diff, 1)
	c.Subscribe(func(d entity.Diff) { clientGot <- d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case d := <-clientGot:
		assert.Equal(t, 9.0, d.Fields.Position.X)
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the server diff")
	}

	require.NoError(t, c.Publish(moveDiff("e2", 1, 3)))
	select {
	case d := <-serverGot:
		assert.Equal(t, "e2", d.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the published diff")
	}
}

// Cancelling the run context must unblock a read that is sitting on a silent
// connection, not just the write pump.
func TestRunShutsDownWhileReadBlocked(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		close(connected)
		_, _, _ = conn.ReadMessage() // hold the connection open, send nothing
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWSChannel(url, backoff.Config{InitialDelay: time.Millisecond}, zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
