// Package lifecycle orchestrates the Secret Store, Group Manager, MLS
// Engine, Relay Client, account store, and the key-package/contact
// collaborators into the three named operations: create_group,
// send_message, and fetch_messages.
package lifecycle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shugur-network/groupcore/internal/account"
	"github.com/shugur-network/groupcore/internal/contact"
	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/groupmanager"
	"github.com/shugur-network/groupcore/internal/identity"
	"github.com/shugur-network/groupcore/internal/keypackage"
	"github.com/shugur-network/groupcore/internal/logger"
	"github.com/shugur-network/groupcore/internal/mlsengine"
	"github.com/shugur-network/groupcore/internal/nostrevent"
	"github.com/shugur-network/groupcore/internal/relayclient"
	"github.com/shugur-network/groupcore/internal/secretstore"
	"github.com/shugur-network/groupcore/internal/workers"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DevRelay is appended to relay sets used for group creation and message
// publishing when Config.DevMode is set.
const DevRelay = "ws://localhost:8080"

// Config carries the relay preferences and welcome-delivery retry budget
// the engine needs, independent of how the caller loaded them.
type Config struct {
	DefaultRelays []string
	DevMode       bool

	WelcomeMaxAttempts int
	WelcomeRetryDelay  time.Duration

	QueryTimeout   time.Duration
	PublishTimeout time.Duration
	ConnectTimeout time.Duration
}

// Engine is the group lifecycle orchestrator.
type Engine struct {
	cfg Config

	mls      *mlsengine.Engine
	secrets  *secretstore.Store
	groups   *groupmanager.Manager
	accounts *account.Store
	relays   *relayclient.Pool
	keypkgs  keypackage.Fetcher
	contacts contact.Directory
	bus      *EventBus
	pool     *workers.WorkerPool

	fetchMu sync.Mutex // serializes FetchMessages across concurrent callers
}

// New wires the lifecycle engine's collaborators together.
func New(
	cfg Config,
	mls *mlsengine.Engine,
	secrets *secretstore.Store,
	groups *groupmanager.Manager,
	accounts *account.Store,
	relays *relayclient.Pool,
	keypkgs keypackage.Fetcher,
	contacts contact.Directory,
	bus *EventBus,
) *Engine {
	return &Engine{
		cfg:      cfg,
		mls:      mls,
		secrets:  secrets,
		groups:   groups,
		accounts: accounts,
		relays:   relays,
		keypkgs:  keypkgs,
		contacts: contacts,
		bus:      bus,
		pool:     workers.NewWorkerPool(4, 32),
	}
}

func (e *Engine) relaySet(extra []string) []string {
	set := append([]string(nil), e.cfg.DefaultRelays...)
	set = append(set, extra...)
	if e.cfg.DevMode {
		set = append(set, DevRelay)
	}
	return dedupStrings(set)
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// CreateGroup creates a new MLS group for creatorPubkey, delivers welcome
// gift-wraps to every member, and registers the group in the catalog.
func (e *Engine) CreateGroup(ctx context.Context, creatorPubkey string, members, admins []string, name, description string) (groupmanager.Group, error) {
	active, err := e.accounts.GetActiveAccount()
	if err != nil {
		return groupmanager.Group{}, err
	}
	if active.Pubkey != creatorPubkey {
		return groupmanager.Group{}, apperrors.Unauthorized("caller is not the active account")
	}
	selfKeyPair, err := identity.FromHex(active.SecretHex)
	if err != nil {
		return groupmanager.Group{}, apperrors.Storage("derive active identity keypair", err)
	}
	e.relays.SetSigner(selfKeyPair)
	signer, err := e.relays.Signer()
	if err != nil || signer.PublicKeyHex() != creatorPubkey {
		return groupmanager.Group{}, apperrors.Unauthorized("active signer does not match the stated creator")
	}

	if err := validateMembership(creatorPubkey, members, admins); err != nil {
		return groupmanager.Group{}, err
	}

	keyPackageIDs := make(map[string]string, len(members))
	for _, member := range members {
		kpEvt, err := e.keypkgs.Fetch(member)
		if err != nil {
			return groupmanager.Group{}, err
		}
		if !nostrevent.IsKeyPackageEvent(kpEvt) {
			return groupmanager.Group{}, apperrors.InvalidInput("key_package", "fetched event for "+member+" is not a KeyPackage event")
		}
		if err := nostrevent.ValidateKeyPackageEvent(kpEvt); err != nil {
			return groupmanager.Group{}, apperrors.InvalidInput("key_package", err.Error())
		}
		keyPackageIDs[member] = kpEvt.ID
	}

	relays := e.relaySet(nil)

	result, err := e.mls.CreateGroup(name, description, creatorPubkey, members, admins, relays)
	if err != nil {
		return groupmanager.Group{}, err
	}

	if err := e.deliverWelcomes(ctx, result, members, keyPackageIDs); err != nil {
		return groupmanager.Group{}, err
	}

	groupType := groupmanager.GroupChat
	if result.GroupData.MemberCount == 2 {
		groupType = groupmanager.DirectMessage
	}

	allMembers := append([]string{creatorPubkey}, members...)
	g, err := e.groups.Add(result.MLSGroupID, result.Epoch, groupType, groupmanager.GroupData{
		NostrGroupID: result.GroupData.NostrGroupID,
		Name:         name,
		Description:  description,
		Admins:       result.GroupData.Admins,
		Members:      allMembers,
		RelayURLs:    result.GroupData.RelayURLs,
	})
	if err != nil {
		return groupmanager.Group{}, err
	}

	e.bus.emitGroupAdded(GroupAdded{Group: g})

	if err := e.accounts.AddKnownGroup(creatorPubkey, hex.EncodeToString(result.MLSGroupID)); err != nil {
		logger.Warn("failed to record known group on active account", zap.Error(err))
	}

	return g, nil
}

func validateMembership(creator string, members, admins []string) error {
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m == creator {
			return apperrors.InvalidInput("members", "creator must not be listed as a member")
		}
		if seen[m] {
			return apperrors.InvalidInput("members", "duplicate member "+m)
		}
		seen[m] = true
	}
	if len(members) == 0 {
		return apperrors.InvalidInput("members", "a group needs at least one member besides the creator")
	}
	allowed := make(map[string]bool, len(members)+1)
	allowed[creator] = true
	for _, m := range members {
		allowed[m] = true
	}
	for _, a := range admins {
		if !allowed[a] {
			return apperrors.InvalidInput("admins", "admin "+a+" is not a member or the creator")
		}
	}
	return nil
}

// deliverWelcomes fans out welcome gift-wraps to every member concurrently,
// each with its own retry budget, and waits for every delivery to finish.
// If any member's delivery failed, the call returns the error of the
// earliest such member in the members list.
func (e *Engine) deliverWelcomes(ctx context.Context, result *mlsengine.CreateGroupResult, members []string, keyPackageIDs map[string]string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, member := range members {
		wg.Add(1)
		e.pool.Submit(func(i int, member string) func() {
			return func() {
				defer wg.Done()
				errs[i] = e.deliverWelcomeToMember(ctx, result, member, keyPackageIDs[member])
			}
		}(i, member))
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) deliverWelcomeToMember(ctx context.Context, result *mlsengine.CreateGroupResult, member, keyPackageID string) error {
	rumor := nostrevent.NewUnsignedEvent(member, nostrevent.KindMLSWelcome,
		nostr.Tags{
			{nostrevent.TagEvent, keyPackageID},
			{nostrevent.TagRelays, result.GroupData.RelayURLs...},
		},
		hex.EncodeToString(result.WelcomeBlob))
	nostrevent.ComputeID(&rumor)

	seal, _, err := nostrevent.Seal(rumor, member)
	if err != nil {
		return apperrors.WelcomeDeliveryFailed(member, err)
	}
	wrap, err := nostrevent.GiftWrap(*seal, member, nostrevent.WelcomeExpiry)
	if err != nil {
		return apperrors.WelcomeDeliveryFailed(member, err)
	}

	hints := e.contacts.Lookup(member)
	fallback := e.relays.DefaultRelays()
	if len(fallback) == 0 {
		fallback = e.relaySet(nil)
	}
	targetRelays := contact.Resolve(contact.Hints{
		InboxRelays:   hints.InboxRelays,
		GeneralRelays: hints.GeneralRelays,
	}, fallback)

	limiter := rate.NewLimiter(rate.Every(e.cfg.WelcomeRetryDelay), 1)
	var lastErr error
	for attempt := 0; attempt < e.cfg.WelcomeMaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return apperrors.WelcomeDeliveryFailed(member, err)
		}
		if err := e.relays.Publish(ctx, targetRelays, *wrap); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return apperrors.WelcomeDeliveryFailed(member, lastErr)
}

// SendMessage seals plaintext for the active account's current epoch in
// mlsGroupID, publishes the NIP-44-wrapped result, and appends the
// plaintext event to the group's own transcript.
func (e *Engine) SendMessage(ctx context.Context, mlsGroupID []byte, plaintext string) (nostr.Event, error) {
	active, err := e.accounts.GetActiveAccount()
	if err != nil {
		return nostr.Event{}, err
	}

	g, err := e.groups.ByMLSID(mlsGroupID)
	if err != nil {
		return nostr.Event{}, err
	}

	inner := nostrevent.NewUnsignedEvent(active.Pubkey, nostrevent.KindApplicationMessage, nil, plaintext)
	nostrevent.ComputeID(&inner)
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return nostr.Event{}, apperrors.InvalidInput("plaintext", err.Error())
	}

	ciphertext, err := e.mls.CreateMessage(mlsGroupID, string(innerJSON))
	if err != nil {
		return nostr.Event{}, err
	}
	secretHex, epoch, err := e.mls.ExportSecret(mlsGroupID)
	if err != nil {
		return nostr.Event{}, err
	}
	var secret [32]byte
	rawSecret, err := hex.DecodeString(secretHex)
	if err != nil || len(rawSecret) != 32 {
		return nostr.Event{}, apperrors.EngineErr(fmt.Errorf("export_secret returned malformed secret"))
	}
	copy(secret[:], rawSecret)

	if err := e.secrets.Store(mlsGroupID, epoch, secret); err != nil {
		return nostr.Event{}, err
	}

	envelope, err := nostrevent.Encrypt(secret, ciphertext)
	if err != nil {
		return nostr.Event{}, apperrors.EngineErr(err)
	}

	ephemeral, err := identity.Generate()
	if err != nil {
		return nostr.Event{}, apperrors.EngineErr(err)
	}
	outer := nostrevent.NewUnsignedEvent(ephemeral.PublicKey, nostrevent.KindMLSGroupMessage,
		nostr.Tags{{nostrevent.TagGroup, g.NostrGroupID}}, envelope)
	if err := nostrevent.Sign(&outer, ephemeral); err != nil {
		return nostr.Event{}, apperrors.EngineErr(err)
	}

	relays := g.RelayURLs
	if e.cfg.DevMode {
		relays = append(append([]string(nil), relays...), DevRelay)
	}
	if err := e.relays.Publish(ctx, relays, outer); err != nil {
		return nostr.Event{}, err
	}

	updated, err := e.groups.AppendMessage(mlsGroupID, inner)
	if err != nil {
		return nostr.Event{}, err
	}

	e.bus.emitMessageSent(MessageSent{Group: updated, Event: inner})
	return inner, nil
}

// FetchMessages pulls pending welcomes for the active account, then pulls
// and processes pending group messages for every known group.
func (e *Engine) FetchMessages(ctx context.Context) error {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	active, err := e.accounts.GetActiveAccount()
	if err != nil {
		return err
	}

	if err := e.receiveWelcomes(ctx, active.Pubkey); err != nil {
		logger.Warn("welcome intake failed", zap.Error(err))
	}

	groups := e.groups.All()
	if len(groups) == 0 {
		return nil
	}
	nostrIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		nostrIDs = append(nostrIDs, g.NostrGroupID)
	}

	relaySet := e.collectRelays(groups)
	filter := nostr.Filter{
		Kinds: []int{nostrevent.KindMLSGroupMessage},
		Tags:  nostr.TagMap{nostrevent.TagGroup: nostrIDs},
	}
	events, err := e.relays.Query(ctx, relaySet, filter, e.cfg.QueryTimeout)
	if err != nil {
		return err
	}

	buckets := bucketByGroupTag(events)
	for nostrID, bucketEvents := range buckets {
		g, err := e.groups.ByNostrID(nostrID)
		if err != nil {
			continue
		}
		sort.Slice(bucketEvents, func(i, j int) bool {
			if bucketEvents[i].CreatedAt != bucketEvents[j].CreatedAt {
				return bucketEvents[i].CreatedAt < bucketEvents[j].CreatedAt
			}
			return bucketEvents[i].ID < bucketEvents[j].ID
		})
		e.processGroupEvents(g, bucketEvents)
	}
	return nil
}

func (e *Engine) collectRelays(groups []groupmanager.Group) []string {
	var all []string
	for _, g := range groups {
		all = append(all, g.RelayURLs...)
	}
	all = append(all, e.cfg.DefaultRelays...)
	if e.cfg.DevMode {
		all = append(all, DevRelay)
	}
	return dedupStrings(all)
}

func bucketByGroupTag(events []nostr.Event) map[string][]nostr.Event {
	buckets := make(map[string][]nostr.Event)
	for _, evt := range events {
		if !nostrevent.IsMLSGroupEvent(&evt) {
			continue
		}
		nostrID := nostrevent.GetTagValue(evt, nostrevent.TagGroup)
		if nostrID == "" {
			continue
		}
		buckets[nostrID] = append(buckets[nostrID], evt)
	}
	return buckets
}

func (e *Engine) processGroupEvents(g groupmanager.Group, events []nostr.Event) {
	for _, evt := range events {
		if err := nostrevent.ValidateGroupEvent(&evt); err != nil {
			logger.Warn("malformed group message event", zap.String("group", g.NostrGroupID), zap.String("event", evt.ID), zap.Error(err))
			continue
		}
		if err := nostrevent.Verify(evt); err != nil {
			logger.Warn("group message event failed signature check", zap.String("group", g.NostrGroupID), zap.String("event", evt.ID), zap.Error(err))
			continue
		}
		if err := nostrevent.ValidateNIP44Payload(&evt); err != nil {
			logger.Warn("group message event failed NIP-44 envelope check", zap.String("group", g.NostrGroupID), zap.String("event", evt.ID), zap.Error(err))
			continue
		}

		secret, err := e.epochSecret(g.MLSGroupID, g.Epoch)
		if err != nil {
			logger.Warn("no epoch secret available", zap.String("group", g.NostrGroupID), zap.Error(err))
			continue
		}

		decrypted, err := nostrevent.Decrypt(secret, evt.Content)
		if err != nil {
			logger.Warn("event decryption failed", zap.String("group", g.NostrGroupID), zap.String("event", evt.ID), zap.Error(err))
			continue
		}

		payloads, err := e.mls.ProcessMessage(g.MLSGroupID, decrypted)
		if err != nil {
			logger.Warn("process_message rejected event", zap.String("group", g.NostrGroupID), zap.String("event", evt.ID), zap.Error(err))
			continue
		}

		for _, payload := range payloads {
			var inner nostr.Event
			if err := json.Unmarshal(payload, &inner); err != nil {
				logger.Warn("application message payload was not a valid event", zap.Error(err))
				continue
			}
			updated, err := e.groups.AppendMessage(g.MLSGroupID, inner)
			if err != nil {
				logger.Warn("failed to append received message", zap.Error(err))
				continue
			}
			if len(updated.Transcript) > len(g.Transcript) {
				e.bus.emitMessageReceived(MessageReceived{Group: updated, Event: inner})
			}
			g = updated
		}
	}
}

func (e *Engine) epochSecret(mlsGroupID []byte, epoch uint64) ([32]byte, error) {
	if e.secrets.Has(mlsGroupID, epoch) {
		kp, err := e.secrets.GetKeyPair(mlsGroupID, epoch)
		if err != nil {
			return [32]byte{}, err
		}
		var out [32]byte
		raw, err := hex.DecodeString(kp.SecretHex())
		if err != nil {
			return [32]byte{}, apperrors.Storage("decode cached secret", err)
		}
		copy(out[:], raw)
		return out, nil
	}

	secretHex, exportedEpoch, err := e.mls.ExportSecret(mlsGroupID)
	if err != nil {
		return [32]byte{}, err
	}
	if exportedEpoch != epoch {
		return [32]byte{}, apperrors.NotFound("epoch secret", fmt.Sprintf("%x/%d", mlsGroupID, epoch))
	}
	raw, err := hex.DecodeString(secretHex)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, apperrors.EngineErr(fmt.Errorf("export_secret returned malformed secret"))
	}
	var out [32]byte
	copy(out[:], raw)
	if err := e.secrets.Store(mlsGroupID, epoch, out); err != nil {
		return [32]byte{}, err
	}
	return out, nil
}

// receiveWelcomes queries for gift-wraps addressed to selfPubkey, unwraps
// and joins every welcome it can decrypt, and registers each newly joined
// group in the catalog.
func (e *Engine) receiveWelcomes(ctx context.Context, selfPubkey string) error {
	active, err := e.accounts.GetActiveAccount()
	if err != nil {
		return err
	}
	self, err := identity.FromHex(active.SecretHex)
	if err != nil {
		return apperrors.Storage("derive active identity keypair", err)
	}

	filter := nostr.Filter{
		Kinds: []int{nostrevent.KindGiftWrap},
		Tags:  nostr.TagMap{nostrevent.TagRecipient: {selfPubkey}},
	}
	wraps, err := e.relays.Query(ctx, e.relaySet(nil), filter, e.cfg.QueryTimeout)
	if err != nil {
		return err
	}

	for _, wrap := range wraps {
		if err := nostrevent.ValidateGiftWrapEvent(&wrap); err != nil {
			logger.Debug("skipping malformed gift-wrap", zap.String("event", wrap.ID), zap.Error(err))
			continue
		}
		if err := nostrevent.Verify(wrap); err != nil {
			logger.Debug("skipping gift-wrap with invalid signature", zap.String("event", wrap.ID), zap.Error(err))
			continue
		}
		rumor, err := unwrapWelcome(wrap, self)
		if err != nil {
			logger.Debug("skipping undecryptable gift-wrap", zap.String("event", wrap.ID), zap.Error(err))
			continue
		}
		if rumor.Kind != nostrevent.KindMLSWelcome {
			continue
		}
		if err := nostrevent.ValidateWelcomeEvent(&rumor); err != nil {
			logger.Debug("skipping malformed welcome rumor", zap.String("event", wrap.ID), zap.Error(err))
			continue
		}
		welcomeBlob, err := hex.DecodeString(rumor.Content)
		if err != nil {
			logger.Debug("welcome rumor content was not valid hex", zap.String("event", wrap.ID), zap.Error(err))
			continue
		}
		joined, err := e.mls.JoinGroup(welcomeBlob)
		if err != nil {
			logger.Debug("join_group failed for welcome", zap.String("event", wrap.ID), zap.Error(err))
			continue
		}

		groupType := groupmanager.GroupChat
		if joined.GroupData.MemberCount == 2 {
			groupType = groupmanager.DirectMessage
		}
		g, err := e.groups.Add(joined.MLSGroupID, joined.Epoch, groupType, groupmanager.GroupData{
			NostrGroupID: joined.GroupData.NostrGroupID,
			Admins:       joined.GroupData.Admins,
			RelayURLs:    joined.GroupData.RelayURLs,
		})
		if err != nil {
			if apperrors.Is(err, apperrors.KindDuplicate) {
				continue
			}
			logger.Warn("failed to register joined group", zap.Error(err))
			continue
		}
		e.bus.emitGroupAdded(GroupAdded{Group: g})
		if err := e.accounts.AddKnownGroup(selfPubkey, hex.EncodeToString(joined.MLSGroupID)); err != nil {
			logger.Warn("failed to record known group after join", zap.Error(err))
		}
	}
	return nil
}

// unwrapWelcome decrypts a gift-wrap addressed to self via ECDH against
// the wrap's ephemeral sender key, then the seal inside via ECDH against
// the seal's own ephemeral key, and returns the rumor.
func unwrapWelcome(wrap nostr.Event, self *identity.KeyPair) (nostr.Event, error) {
	seal, err := nostrevent.UnwrapGiftWrap(wrap, self)
	if err != nil {
		return nostr.Event{}, err
	}
	return nostrevent.UnwrapSeal(seal, self)
}
