package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shugur-network/groupcore/internal/account"
	"github.com/shugur-network/groupcore/internal/contact"
	"github.com/shugur-network/groupcore/internal/groupmanager"
	"github.com/shugur-network/groupcore/internal/identity"
	"github.com/shugur-network/groupcore/internal/keypackage"
	"github.com/shugur-network/groupcore/internal/mlsengine"
	"github.com/shugur-network/groupcore/internal/nostrevent"
	"github.com/shugur-network/groupcore/internal/relayclient"
	"github.com/shugur-network/groupcore/internal/secretstore"
	"github.com/gorilla/websocket"
	nostr "github.com/nbd-wtf/go-nostr"
)

// statefulFakeRelay is a minimal store-and-forward relay: EVENT frames are
// kept and acked, REQ frames are answered with every stored event the
// filter matches followed by EOSE. Unlike relayclient's own
// single-canned-event fake, this lets two independent lifecycle Engines
// actually exchange events through it, the way a real relay would.
type statefulFakeRelay struct {
	mu     chan struct{} // binary semaphore
	events []nostr.Event
}

func newStatefulFakeRelay() *statefulFakeRelay {
	r := &statefulFakeRelay{mu: make(chan struct{}, 1)}
	r.mu <- struct{}{}
	return r
}

func (r *statefulFakeRelay) store(evt nostr.Event) {
	<-r.mu
	r.events = append(r.events, evt)
	r.mu <- struct{}{}
}

// rawREQFilter pulls just the fields this test's two query shapes
// (kind + single-letter tag filter) ever use straight out of the REQ
// frame's raw JSON, sidestepping any assumption about how nostr.Filter
// itself marshals its Tags field on the wire.
type rawREQFilter struct {
	Kinds []int                      `json:"kinds"`
	Tags  map[string]json.RawMessage `json:"-"`
}

func parseRawREQFilter(raw json.RawMessage) rawREQFilter {
	var f rawREQFilter
	_ = json.Unmarshal(raw, &f)
	var asMap map[string]json.RawMessage
	_ = json.Unmarshal(raw, &asMap)
	f.Tags = make(map[string]json.RawMessage)
	for k, v := range asMap {
		if strings.HasPrefix(k, "#") && len(k) == 2 {
			f.Tags[k[1:]] = v
		}
	}
	return f
}

func (f rawREQFilter) matches(evt nostr.Event) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == evt.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for tagName, rawValues := range f.Tags {
		var wanted []string
		_ = json.Unmarshal(rawValues, &wanted)
		if !eventHasAnyTagValue(evt, tagName, wanted) {
			return false
		}
	}
	return true
}

func eventHasAnyTagValue(evt nostr.Event, tagName string, wanted []string) bool {
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != tagName {
			continue
		}
		for _, w := range wanted {
			if tag[1] == w {
				return true
			}
		}
	}
	return false
}

func (r *statefulFakeRelay) query(filter rawREQFilter) []nostr.Event {
	<-r.mu
	defer func() { r.mu <- struct{}{} }()
	var out []nostr.Event
	for _, evt := range r.events {
		if filter.matches(evt) {
			out = append(out, evt)
		}
	}
	return out
}

func (r *statefulFakeRelay) serve(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
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
				if len(frame) < 3 {
					continue
				}
				var subID string
				_ = json.Unmarshal(frame[1], &subID)
				filter := parseRawREQFilter(frame[2])
				for _, evt := range r.query(filter) {
					evtFrame, _ := json.Marshal([]interface{}{"EVENT", subID, evt})
					_ = conn.WriteMessage(websocket.TextMessage, evtFrame)
				}
				eoseFrame, _ := json.Marshal([]interface{}{"EOSE", subID})
				_ = conn.WriteMessage(websocket.TextMessage, eoseFrame)
			case "EVENT":
				if len(frame) < 2 {
					continue
				}
				var evt nostr.Event
				if err := json.Unmarshal(frame[1], &evt); err != nil {
					continue
				}
				r.store(evt)
				okFrame, _ := json.Marshal([]interface{}{"OK", evt.ID, true, ""})
				_ = conn.WriteMessage(websocket.TextMessage, okFrame)
			}
		}
	}))
}

func newTestEngine(t *testing.T, relayURL string, keypkgs keypackage.Fetcher, contacts contact.Directory) *Engine {
	t.Helper()
	accounts, err := account.New(t.TempDir())
	if err != nil {
		t.Fatalf("account.New: %v", err)
	}
	groups, err := groupmanager.New(t.TempDir())
	if err != nil {
		t.Fatalf("groupmanager.New: %v", err)
	}
	secrets := secretstore.New(t.TempDir())
	relays := relayclient.NewPool(time.Second, time.Second)
	t.Cleanup(relays.Close)

	cfg := Config{
		DefaultRelays:      []string{relayURL},
		WelcomeMaxAttempts: 3,
		WelcomeRetryDelay:  time.Millisecond,
		QueryTimeout:       time.Second,
		PublishTimeout:     time.Second,
		ConnectTimeout:     time.Second,
	}
	return New(cfg, mlsengine.New(), secrets, groups, accounts, relays, keypkgs, contacts, NewEventBus())
}

// publishKeyPackage registers a well-formed kind-443 KeyPackage event for
// owner in fetcher, the way a real client would before anyone can invite it.
func publishKeyPackage(fetcher *keypackage.MemoryFetcher, owner *identity.KeyPair, relayURL string) {
	evt := nostrevent.NewUnsignedEvent(owner.PublicKey, nostrevent.KindKeyPackage,
		nostr.Tags{
			{"mls_protocol_version", "1.0"},
			{"mls_ciphersuite", "1"},
			{nostrevent.TagRelays, relayURL},
		},
		"serialized-key-package-bundle")
	nostrevent.ComputeID(&evt)
	fetcher.Publish(owner.PublicKey, evt)
}

// corruptGroupMessage builds an event that looks exactly like a genuine
// kind-445 group message (right kind, right "h" tag, genuinely signed, a
// well-formed NIP-44 v2 envelope) but whose ciphertext was never produced
// by Encrypt against the group's real epoch secret, so it is well-formed
// but fails AEAD authentication on decrypt: the S5 "corrupted message in an
// otherwise healthy batch" scenario.
func corruptGroupMessage(t *testing.T, nostrGroupID string) nostr.Event {
	t.Helper()
	ephemeral, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate ephemeral key: %v", err)
	}
	garbage := make([]byte, 1+nostrevent.V2NonceLength+16)
	garbage[0] = nostrevent.NIP44Version2
	if _, err := rand.Read(garbage[1:]); err != nil {
		t.Fatalf("read garbage: %v", err)
	}
	envelope := base64.StdEncoding.EncodeToString(garbage)

	evt := nostrevent.NewUnsignedEvent(ephemeral.PublicKey, nostrevent.KindMLSGroupMessage,
		nostr.Tags{{nostrevent.TagGroup, nostrGroupID}}, envelope)
	if err := nostrevent.Sign(&evt, ephemeral); err != nil {
		t.Fatalf("sign corrupt event: %v", err)
	}
	return evt
}

func wsURLIntegration(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// TestLifecycleCreateSendFetchRoundTrip drives create_group -> send_mls_message
// -> fetch_mls_messages across two independent engines talking through a
// single fake relay, and asserts the literal S1/S2/S5 outcomes from spec.md
// section 8: a one-time welcome delivers a known group to the recipient
// (S1), a sent application message is recovered byte-for-byte on the
// recipient's side (S2), and a corrupted event in the same fetch batch is
// skipped without losing the healthy message alongside it or failing the
// whole fetch (S5).
func TestLifecycleCreateSendFetchRoundTrip(t *testing.T) {
	relay := newStatefulFakeRelay()
	srv := relay.serve(t)
	defer srv.Close()
	relayURL := wsURLIntegration(srv.URL)

	keypkgs := keypackage.NewMemoryFetcher()
	contacts := contact.NewMemoryDirectory()

	aliceEngine := newTestEngine(t, relayURL, keypkgs, contacts)
	bobEngine := newTestEngine(t, relayURL, keypkgs, contacts)

	aliceAccount, err := aliceEngine.accounts.CreateIdentity()
	if err != nil {
		t.Fatalf("alice CreateIdentity: %v", err)
	}
	bobAccount, err := bobEngine.accounts.CreateIdentity()
	if err != nil {
		t.Fatalf("bob CreateIdentity: %v", err)
	}

	bobKey, err := identity.FromHex(bobAccount.SecretHex)
	if err != nil {
		t.Fatalf("derive bob keypair: %v", err)
	}
	publishKeyPackage(keypkgs, bobKey, relayURL)

	aliceGroupAdded := aliceEngine.bus.SubscribeGroupAdded(4)
	bobGroupAdded := bobEngine.bus.SubscribeGroupAdded(4)
	bobMessageReceived := bobEngine.bus.SubscribeMessageReceived(4)

	ctx := context.Background()

	// S1: creating the group delivers one welcome gift-wrap to bob,
	// classifies the group DirectMessage, records it in alice's own
	// known-groups list, and emits group_added exactly once for alice.
	group, err := aliceEngine.CreateGroup(ctx, aliceAccount.Pubkey, []string{bobAccount.Pubkey}, nil, "Alice & Bob", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if group.GroupType != groupmanager.DirectMessage {
		t.Fatalf("expected a 2-member group to be classified DirectMessage, got %q", group.GroupType)
	}
	select {
	case added := <-aliceGroupAdded:
		if added.Group.NostrGroupID != group.NostrGroupID {
			t.Fatalf("unexpected group in alice's group_added event: %q", added.Group.NostrGroupID)
		}
	default:
		t.Fatal("expected exactly one group_added event for alice after CreateGroup, got none")
	}
	select {
	case extra := <-aliceGroupAdded:
		t.Fatalf("expected exactly one group_added event for alice, got a second: %+v", extra)
	default:
	}
	aliceKnown, err := aliceEngine.accounts.GetActiveAccount()
	if err != nil {
		t.Fatalf("alice GetActiveAccount: %v", err)
	}
	groupIDHex := hex.EncodeToString(group.MLSGroupID)
	found := false
	for _, g := range aliceKnown.KnownGroups {
		if g == groupIDHex {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected alice's known_groups to contain %q, got %v", groupIDHex, aliceKnown.KnownGroups)
	}

	// Bob's side: the welcome is only actually consumed on his own
	// fetch_mls_messages call (the receive-welcome supplement in
	// SPEC_FULL.md section 4.5.4).
	if err := bobEngine.FetchMessages(ctx); err != nil {
		t.Fatalf("bob FetchMessages (welcome intake): %v", err)
	}
	select {
	case added := <-bobGroupAdded:
		if added.Group.NostrGroupID != group.NostrGroupID {
			t.Fatalf("bob joined a different group than alice created: got %q, want %q", added.Group.NostrGroupID, group.NostrGroupID)
		}
	default:
		t.Fatal("expected exactly one group_added event for bob after welcome intake, got none")
	}
	select {
	case extra := <-bobGroupAdded:
		t.Fatalf("expected exactly one group_added event for bob, got a second: %+v", extra)
	default:
	}
	bobGroups := bobEngine.groups.All()
	if len(bobGroups) != 1 {
		t.Fatalf("expected bob to know exactly one group after welcome intake, got %d", len(bobGroups))
	}
	bobKnown, err := bobEngine.accounts.GetActiveAccount()
	if err != nil {
		t.Fatalf("bob GetActiveAccount: %v", err)
	}
	if len(bobKnown.KnownGroups) != 1 {
		t.Fatalf("expected bob's known_groups to list exactly the joined group, got %v", bobKnown.KnownGroups)
	}

	// S2: send_mls_message is recovered verbatim on fetch.
	const messageBody = "hello bob, this is alice"
	if _, err := aliceEngine.SendMessage(ctx, group.MLSGroupID, messageBody); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// Inject one corrupted event into the same relay state the healthy
	// message just landed in, so bob's next fetch sees both in one batch.
	relay.store(corruptGroupMessage(t, group.NostrGroupID))

	if err := bobEngine.FetchMessages(ctx); err != nil {
		t.Fatalf("bob FetchMessages (application message + corruption): %v", err)
	}

	select {
	case recv := <-bobMessageReceived:
		if recv.Event.Content != messageBody {
			t.Fatalf("expected bob to receive %q, got %q", messageBody, recv.Event.Content)
		}
		if recv.Event.Kind != nostrevent.KindApplicationMessage {
			t.Fatalf("expected application-message kind %d, got %d", nostrevent.KindApplicationMessage, recv.Event.Kind)
		}
		if recv.Event.PubKey != aliceAccount.Pubkey {
			t.Fatalf("expected message authored by alice (%q), got %q", aliceAccount.Pubkey, recv.Event.PubKey)
		}
	default:
		t.Fatal("expected exactly one message_received event for bob, got none")
	}
	select {
	case extra := <-bobMessageReceived:
		t.Fatalf("expected the corrupted event to be skipped, not delivered as a second message: %+v", extra)
	default:
	}

	bobGroup, err := bobEngine.groups.ByNostrID(group.NostrGroupID)
	if err != nil {
		t.Fatalf("bob ByNostrID: %v", err)
	}
	if len(bobGroup.Transcript) != 1 {
		t.Fatalf("expected bob's transcript to contain exactly the one healthy message, got %d entries", len(bobGroup.Transcript))
	}
	if bobGroup.Transcript[0].Content != messageBody {
		t.Fatalf("unexpected transcript content: %q", bobGroup.Transcript[0].Content)
	}
}
