package main

import (
	"fmt"
	"log/slog"

	"github.com/projuktisheba/vpanelctl/internal/auth"
	"github.com/projuktisheba/vpanelctl/internal/config"
	"github.com/projuktisheba/vpanelctl/internal/session"
	"github.com/projuktisheba/vpanelctl/internal/transport"
)

// Session meta keys written at login.
const (
	metaServer   = "server"
	metaUserID   = "user_id"
	metaName     = "name"
	metaEmail    = "email"
	metaRole     = "role"
	metaUsername = "username"
)

// apiSession bundles the store, the auth client and the transport client
// for one command invocation.
type apiSession struct {
	Store  session.MetaStore
	Auth   *auth.Client
	Client *transport.Client

	closeStore func() error
}

// openStore opens the configured credential store.
func openStore(cfg *config.Resolved, logger *slog.Logger) (session.MetaStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.SessionStore {
	case config.StoreMemory:
		return session.NewMemoryStore(), noop, nil
	case config.StoreSQLite:
		if cfg.SessionPath == "" {
			return nil, nil, fmt.Errorf("cannot determine session database path")
		}

		st, err := session.NewSQLiteStore(cfg.SessionPath, logger)
		if err != nil {
			return nil, nil, err
		}

		return st, st.Close, nil
	default:
		if cfg.SessionPath == "" {
			return nil, nil, fmt.Errorf("cannot determine session file path")
		}

		return session.NewFileStore(cfg.SessionPath), noop, nil
	}
}

// newAPISession wires the store, the refresher and the transport client.
func newAPISession(cc *CLIContext) (*apiSession, error) {
	store, closeStore, err := openStore(cc.Cfg, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	userAgent := cc.Cfg.UserAgent
	if userAgent == "" {
		userAgent = "vpanelctl/" + version
	}

	httpClient := newHTTPClient()
	authClient := auth.NewClient(cc.Cfg.BaseURL, httpClient, store, userAgent, cc.Logger)
	authClient.SetRequestTimeout(cc.Cfg.RequestTimeout)

	client := transport.New(cc.Cfg.BaseURL, store, authClient, transport.Options{
		HTTPClient:     httpClient,
		UserAgent:      userAgent,
		RequestTimeout: cc.Cfg.RequestTimeout,
		RefreshTimeout: cc.Cfg.RefreshTimeout,
		Logger:         cc.Logger,
	})

	return &apiSession{
		Store:      store,
		Auth:       authClient,
		Client:     client,
		closeStore: closeStore,
	}, nil
}

// requireLogin fails with errNotLoggedIn when no credentials are stored.
func (s *apiSession) requireLogin() error {
	cred, err := s.Store.Get()
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}

	if !cred.Valid() {
		return errNotLoggedIn
	}

	return nil
}

// Close releases the transport client and the store.
func (s *apiSession) Close() error {
	s.Client.Close()

	return s.closeStore()
}
