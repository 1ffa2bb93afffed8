package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/backoff"
	"github.com/scaleworld/client/internal/entity"
)

// envelope is one websocket frame. Peers exchange diffs; rejects flow
// upstream so the authoritative side can rebase a stale writer.
type envelope struct {
	Type   string          `json:"type"` // "diff" or "reject"
	Diff   json.RawMessage `json:"diff,omitempty"`
	Reject *rejectNote     `json:"reject,omitempty"`
}

type rejectNote struct {
	EntityID       string `json:"entity_id"`
	BaseVersion    uint64 `json:"base_version"`
	CurrentVersion uint64 `json:"current_version,omitempty"`
	Reason         string `json:"reason"`
}

const outboxSize = 256

// WSChannel is the websocket Channel implementation. It reconnects with
// jittered exponential backoff and keeps a bounded outbox across reconnects;
// the at-least-once contract is the applier's problem, not ours.
type WSChannel struct {
	url   string
	retry backoff.Config
	log   *zap.Logger
	rng   *rand.Rand

	mu       stdsync.Mutex
	handlers []func(entity.Diff)

	outbox    chan envelope
	done      chan struct{}
	closeOnce stdsync.Once

	malformed uint64 // stale-reference-class: frames rejected before the version check
}

func NewWSChannel(url string, retry backoff.Config, log *zap.Logger) *WSChannel {
	return &WSChannel{
		url:    url,
		retry:  retry,
		log:    log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		outbox: make(chan envelope, outboxSize),
		done:   make(chan struct{}),
	}
}

func (c *WSChannel) Subscribe(handler func(entity.Diff)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
}

// Publish queues a committed local diff for the write pump. When the outbox
// is full (peer down for a long stretch) the oldest frame is dropped: the
// back-end reconciles from authoritative state on reconnect anyway.
func (c *WSChannel) Publish(d entity.Diff) error {
	raw, err := entity.EncodeDiff(d)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	c.send(envelope{Type: "diff", Diff: raw})
	return nil
}

// Rejected implements apply.Origin: a remote diff the registry refused flows
// back as a reject frame so the sender rebases. The channel never retries.
func (c *WSChannel) Rejected(d entity.Diff, err error) {
	note := &rejectNote{
		EntityID:    d.EntityID,
		BaseVersion: d.BaseVersion,
		Reason:      err.Error(),
	}
	var vc *entity.VersionConflictError
	if errors.As(err, &vc) {
		note.CurrentVersion = vc.Current
	}
	c.send(envelope{Type: "reject", Reject: note})
}

func (c *WSChannel) send(env envelope) {
	select {
	case c.outbox <- env:
	default:
		select {
		case <-c.outbox:
		default:
		}
		c.log.Warn("sync outbox full, dropping oldest frame")
		select {
		case c.outbox <- env:
		default:
		}
	}
}

// Malformed returns the count of frames dropped before the version check.
func (c *WSChannel) Malformed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.malformed
}

// Run dials and serves the connection until ctx ends, reconnecting with
// backoff after any failure.
func (c *WSChannel) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			attempt++
			delay := backoff.Delay(c.retry, attempt, c.rng)
			c.log.Warn("sync dial failed",
				zap.String("url", c.url),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
		attempt = 0
		c.log.Info("sync channel connected", zap.String("url", c.url))
		c.serve(ctx, conn)
		_ = conn.Close()
	}
}

// serve runs the read loop and a write pump until either side fails or the
// channel shuts down. ReadMessage has no context hook, so a watcher closes
// the connection on cancellation to force the read loop out.
func (c *WSChannel) serve(ctx context.Context, conn *websocket.Conn) {
	readDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		case <-readDone:
		}
		_ = conn.Close()
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case env := <-c.outbox:
				if err := conn.WriteJSON(env); err != nil {
					c.log.Warn("sync write failed", zap.Error(err))
					return
				}
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-readDone:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !c.closed() {
				c.log.Warn("sync read failed", zap.Error(err))
			}
			break
		}
		c.dispatch(raw)
	}
	close(readDone)
	<-writeDone
}

func (c *WSChannel) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.noteMalformed(err)
		return
	}
	switch env.Type {
	case "diff":
		d, err := entity.DecodeDiff(env.Diff)
		if err != nil {
			// Malformed payloads never reach the version check; they are
			// stale-reference-class events, logged and dropped.
			c.noteMalformed(err)
			return
		}
		c.mu.Lock()
		handlers := append([]func(entity.Diff){}, c.handlers...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(d)
		}
	case "reject":
		// Our own publish was refused remotely; authoritative state will
		// flow back as a fresh diff, nothing to do locally.
		c.log.Debug("remote rejected published diff",
			zap.String("entity", envEntity(env)))
	default:
		c.noteMalformed(fmt.Errorf("unknown frame type %q", env.Type))
	}
}

func envEntity(env envelope) string {
	if env.Reject != nil {
		return env.Reject.EntityID
	}
	return ""
}

func (c *WSChannel) noteMalformed(err error) {
	c.mu.Lock()
	c.malformed++
	c.mu.Unlock()
	c.log.Warn("malformed sync frame dropped", zap.Error(err))
}

func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *WSChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
