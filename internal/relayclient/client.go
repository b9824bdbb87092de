// Package relayclient dials out to Nostr relays, publishes signed events,
// and runs short-lived REQ/CLOSE queries against them. It only ever
// originates connections; it never accepts them.
package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/logger"
	"github.com/shugur-network/groupcore/internal/nostrevent"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// Client holds one open websocket connection to a single relay.
type Client struct {
	url  string
	conn *websocket.Conn

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]chan subMessage
}

type subMessage struct {
	event *nostr.Event
	eose  bool
}

// Dial opens a websocket connection to url (scheme ws:// or wss://).
func Dial(ctx context.Context, url string, connectTimeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, apperrors.Transport("dial "+url, err)
	}
	c := &Client{
		url:  url,
		conn: conn,
		subs: make(map[string]chan subMessage),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// URL returns the relay address this client is connected to.
func (c *Client) URL() string {
	return c.url
}

// Publish sends evt as an ["EVENT", evt] frame and waits for the relay's
// ["OK", id, accepted, message] reply or publishTimeout, whichever comes
// first. Any OK reply for evt's id returns nil; its accepted flag is not
// read.
func (c *Client) Publish(ctx context.Context, evt nostr.Event, publishTimeout time.Duration) error {
	ch := make(chan subMessage, 1)
	c.subMu.Lock()
	c.subs["ok:"+evt.ID] = ch
	c.subMu.Unlock()
	defer func() {
		c.subMu.Lock()
		delete(c.subs, "ok:"+evt.ID)
		c.subMu.Unlock()
	}()

	frame, err := json.Marshal([]interface{}{"EVENT", evt})
	if err != nil {
		return apperrors.Transport("marshal EVENT frame", err)
	}
	if err := c.writeFrame(frame); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-time.After(publishTimeout):
		return apperrors.Transport("publish", fmt.Errorf("no OK from %s within %s", c.url, publishTimeout))
	case <-ctx.Done():
		return apperrors.Transport("publish", ctx.Err())
	}
}

// Query runs a one-shot REQ against filter and returns every event
// received before the relay sends EOSE or deadline elapses.
func (c *Client) Query(ctx context.Context, filter nostr.Filter, deadline time.Duration) ([]nostr.Event, error) {
	subID := uuid.NewString()
	ch := make(chan subMessage, 64)
	c.subMu.Lock()
	c.subs[subID] = ch
	c.subMu.Unlock()
	defer func() {
		c.subMu.Lock()
		delete(c.subs, subID)
		c.subMu.Unlock()
		closeFrame, _ := json.Marshal([]interface{}{"CLOSE", subID})
		_ = c.writeFrame(closeFrame)
	}()

	reqFrame, err := json.Marshal([]interface{}{"REQ", subID, filter})
	if err != nil {
		return nil, apperrors.Transport("marshal REQ frame", err)
	}
	if err := c.writeFrame(reqFrame); err != nil {
		return nil, err
	}

	var events []nostr.Event
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case msg := <-ch:
			if msg.eose {
				return events, nil
			}
			if msg.event != nil {
				events = append(events, *msg.event)
			}
		case <-timer.C:
			return events, nil
		case <-ctx.Done():
			return events, apperrors.Transport("query", ctx.Err())
		}
	}
}

func (c *Client) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return apperrors.Transport("write frame", err)
	}
	return nil
}

// readLoop dispatches every inbound relay frame to the subscription (or
// publish-ack) channel it belongs to. A frame for an id nobody is waiting
// on is dropped; nothing here ever blocks on a slow consumer for more than
// its channel's buffer.
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			logger.Debug("relay connection closed", zap.String("relay", c.url), zap.Error(err))
			c.broadcastClosed()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		if err := nostrevent.VerifyEventJSON(frame[2]); err != nil {
			logger.Warn("dropping relay EVENT with invalid signature", zap.String("relay", c.url), zap.Error(err))
			return
		}
		var evt nostr.Event
		if err := json.Unmarshal(frame[2], &evt); err != nil {
			return
		}
		c.deliver(subID, subMessage{event: &evt})
	case "EOSE":
		if len(frame) < 2 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		c.deliver(subID, subMessage{eose: true})
	case "OK":
		if len(frame) < 2 {
			return
		}
		var id string
		if err := json.Unmarshal(frame[1], &id); err != nil {
			return
		}
		c.deliver("ok:"+id, subMessage{})
	case "NOTICE":
		var notice string
		_ = json.Unmarshal(frame[1], &notice)
		logger.Warn("relay notice", zap.String("relay", c.url), zap.String("notice", notice))
	}
}

func (c *Client) deliver(key string, msg subMessage) {
	c.subMu.Lock()
	ch, ok := c.subs[key]
	c.subMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (c *Client) broadcastClosed() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- subMessage{eose: true}:
		default:
		}
	}
}
