package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shugur-network/groupcore/internal/identity"
	"github.com/shugur-network/groupcore/internal/nostrevent"
	"github.com/gorilla/websocket"
	nostr "github.com/nbd-wtf/go-nostr"
)

// signedTestEvent returns an event with a genuine BIP-340 signature, so it
// survives the EVENT-frame signature check relayclient.Client.dispatch
// applies to everything a relay sends it.
func signedTestEvent(t *testing.T, kind int, content string) nostr.Event {
	t.Helper()
	key, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	evt := nostr.Event{PubKey: key.PublicKey, Kind: kind, Content: content}
	if err := nostrevent.Sign(&evt, key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return evt
}

// fakeRelay upgrades every request to a websocket connection and answers
// REQs with a single canned event followed by EOSE, and EVENTs with OK.
func fakeRelay(t *testing.T, canned nostr.Event) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame []json.RawMessage
			if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
				continue
			}
			var label string
			_ = json.Unmarshal(frame[0], &label)
			switch label {
			case "REQ":
				var subID string
				_ = json.Unmarshal(frame[1], &subID)
				evtFrame, _ := json.Marshal([]interface{}{"EVENT", subID, canned})
				_ = conn.WriteMessage(websocket.TextMessage, evtFrame)
				eoseFrame, _ := json.Marshal([]interface{}{"EOSE", subID})
				_ = conn.WriteMessage(websocket.TextMessage, eoseFrame)
			case "EVENT":
				var evt nostr.Event
				_ = json.Unmarshal(frame[1], &evt)
				okFrame, _ := json.Marshal([]interface{}{"OK", evt.ID, true, ""})
				_ = conn.WriteMessage(websocket.TextMessage, okFrame)
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientQueryReturnsCannedEventThenStops(t *testing.T) {
	canned := signedTestEvent(t, 1, "hi")
	srv := fakeRelay(t, canned)
	defer srv.Close()

	ctx := context.Background()
	c, err := Dial(ctx, wsURL(srv.URL), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	evts, err := c.Query(ctx, nostr.Filter{Kinds: []int{1}}, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(evts) != 1 || evts[0].ID != canned.ID {
		t.Fatalf("expected exactly the canned event, got %+v", evts)
	}
}

func TestClientPublishWaitsForOK(t *testing.T) {
	srv := fakeRelay(t, nostr.Event{})
	defer srv.Close()

	ctx := context.Background()
	c, err := Dial(ctx, wsURL(srv.URL), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	evt := nostr.Event{ID: "event-one", PubKey: "deadbeef", Kind: 1}
	if err := c.Publish(ctx, evt, time.Second); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestPoolQueryDedupsAcrossRelays(t *testing.T) {
	canned := signedTestEvent(t, 1, "")
	srvA := fakeRelay(t, canned)
	defer srvA.Close()
	srvB := fakeRelay(t, canned)
	defer srvB.Close()

	pool := NewPool(time.Second, time.Second)
	defer pool.Close()

	evts, err := pool.Query(context.Background(), []string{wsURL(srvA.URL), wsURL(srvB.URL)}, nostr.Filter{Kinds: []int{1}}, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected the duplicate event from both relays to collapse to one, got %d", len(evts))
	}
}

func TestPoolPublishSucceedsIfAnyRelayAcks(t *testing.T) {
	srv := fakeRelay(t, nostr.Event{})
	defer srv.Close()

	pool := NewPool(time.Second, time.Second)
	defer pool.Close()

	evt := nostr.Event{ID: "event-two", PubKey: "deadbeef", Kind: 1}
	err := pool.Publish(context.Background(), []string{wsURL(srv.URL)}, evt)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
