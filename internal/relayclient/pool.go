package relayclient

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/logger"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// Signer is the active identity's public key and signing capability. The
// relay client does not own key material itself; it holds whatever signer
// the lifecycle engine last installed via SetSigner, so a caller can check
// that the signer's public key matches the identity it claims to act as.
type Signer interface {
	PublicKeyHex() string
}

// Pool maintains one Client per relay URL, dialing lazily and reusing
// connections across calls.
type Pool struct {
	connectTimeout time.Duration
	publishTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*Client
	signer  Signer
}

// NewPool returns a Pool that dials relays on demand.
func NewPool(connectTimeout, publishTimeout time.Duration) *Pool {
	return &Pool{
		connectTimeout: connectTimeout,
		publishTimeout: publishTimeout,
		clients:        make(map[string]*Client),
	}
}

func (p *Pool) clientFor(ctx context.Context, url string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[url]; ok {
		return c, nil
	}
	c, err := Dial(ctx, url, p.connectTimeout)
	if err != nil {
		return nil, err
	}
	p.clients[url] = c
	return c, nil
}

// Publish sends evt to every relay in urls, returning an error only if no
// relay answered with an OK frame (every relay was unreachable, failed the
// write, or timed out). An OK frame counts as delivery whether or not it
// marks the event as accepted. Per-relay failures are logged and otherwise
// tolerated, since a group's RelayURLs commonly outlives any one member's
// connectivity to all of them.
func (p *Pool) Publish(ctx context.Context, urls []string, evt nostr.Event) error {
	var wg sync.WaitGroup
	errs := make([]error, len(urls))
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			c, err := p.clientFor(ctx, url)
			if err != nil {
				errs[i] = err
				return
			}
			if err := c.Publish(ctx, evt, p.publishTimeout); err != nil {
				errs[i] = err
			}
		}(i, url)
	}
	wg.Wait()

	var lastErr error
	succeeded := 0
	for i, err := range errs {
		if err != nil {
			logger.Warn("publish to relay failed", zap.String("relay", urls[i]), zap.Error(err))
			lastErr = err
			continue
		}
		succeeded++
	}
	if succeeded == 0 && len(urls) > 0 {
		return apperrors.Transport("publish to all relays", lastErr)
	}
	return nil
}

// Query runs filter against every relay in urls and returns the union of
// results, deduplicated by event id.
func (p *Pool) Query(ctx context.Context, urls []string, filter nostr.Filter, deadline time.Duration) ([]nostr.Event, error) {
	var wg sync.WaitGroup
	results := make([][]nostr.Event, len(urls))
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			c, err := p.clientFor(ctx, url)
			if err != nil {
				logger.Warn("query dial failed", zap.String("relay", url), zap.Error(err))
				return
			}
			evts, err := c.Query(ctx, filter, deadline)
			if err != nil {
				logger.Warn("query failed", zap.String("relay", url), zap.Error(err))
				return
			}
			results[i] = evts
		}(i, url)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var merged []nostr.Event
	for _, evts := range results {
		for _, evt := range evts {
			if seen[evt.ID] {
				continue
			}
			seen[evt.ID] = true
			merged = append(merged, evt)
		}
	}
	return merged, nil
}

// SetSigner installs the signer the pool currently acts as. The lifecycle
// engine installs the active account's keypair at the start of every
// CreateGroup.
func (p *Pool) SetSigner(s Signer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signer = s
}

// Signer returns the currently installed signer, or NotFound if none has
// been set yet.
func (p *Pool) Signer() (Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signer == nil {
		return nil, apperrors.NotFound("signer", "active")
	}
	return p.signer, nil
}

// DefaultRelays returns the relay URLs this client currently holds an open
// connection to: the fallback used when a contact has no relay hints of
// its own.
func (p *Pool) DefaultRelays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.clients))
	for url := range p.clients {
		out = append(out, url)
	}
	return out
}

// Close closes every connection the pool has opened.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		if err := c.Close(); err != nil {
			logger.Debug("error closing relay connection", zap.String("relay", url), zap.Error(err))
		}
	}
	p.clients = make(map[string]*Client)
}
