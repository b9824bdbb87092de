package main

import (
	"github.com/shugur-network/groupcore/internal/account"
	"github.com/shugur-network/groupcore/internal/config"
	"github.com/shugur-network/groupcore/internal/contact"
	"github.com/shugur-network/groupcore/internal/groupmanager"
	"github.com/shugur-network/groupcore/internal/keypackage"
	"github.com/shugur-network/groupcore/internal/lifecycle"
	"github.com/shugur-network/groupcore/internal/mlsengine"
	"github.com/shugur-network/groupcore/internal/relayclient"
	"github.com/shugur-network/groupcore/internal/secretstore"
)

// App ties every collaborator package together into the one lifecycle
// engine the command surface drives.
type App struct {
	cfg      *config.Config
	accounts *account.Store
	groups   *groupmanager.Manager
	relays   *relayclient.Pool
	engine   *lifecycle.Engine
	bus      *lifecycle.EventBus
}

// newApp constructs every collaborator rooted at cfg.General.DataDir and
// wires them into a lifecycle.Engine.
func newApp(cfg *config.Config) (*App, error) {
	accounts, err := account.New(cfg.General.DataDir)
	if err != nil {
		return nil, err
	}
	groups, err := groupmanager.New(cfg.General.DataDir)
	if err != nil {
		return nil, err
	}
	secrets := secretstore.New(cfg.General.DataDir)
	mls := mlsengine.New()
	relays := relayclient.NewPool(cfg.Relay.ConnectTimeout, cfg.Relay.PublishTimeout)
	keypkgs := keypackage.NewMemoryFetcher()
	contacts := contact.NewMemoryDirectory()
	bus := lifecycle.NewEventBus()

	engine := lifecycle.New(lifecycle.Config{
		DefaultRelays:      cfg.Relay.DefaultRelays,
		DevMode:            cfg.General.DevMode,
		WelcomeMaxAttempts: cfg.Relay.WelcomeRetry.MaxAttempts,
		WelcomeRetryDelay:  cfg.Relay.WelcomeRetry.Delay,
		QueryTimeout:       cfg.Relay.QueryTimeout,
		PublishTimeout:     cfg.Relay.PublishTimeout,
		ConnectTimeout:     cfg.Relay.ConnectTimeout,
	}, mls, secrets, groups, accounts, relays, keypkgs, contacts, bus)

	return &App{
		cfg:      cfg,
		accounts: accounts,
		groups:   groups,
		relays:   relays,
		engine:   engine,
		bus:      bus,
	}, nil
}

// Close releases every open relay connection.
func (a *App) Close() {
	a.relays.Close()
}
