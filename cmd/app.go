package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/markb/mentionbot/internal/authenticator"
	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/config"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/oauth1"
	"github.com/markb/mentionbot/internal/store"
	"github.com/markb/mentionbot/internal/tokens"
)

// app bundles the OAuth 2.0 pieces most subcommands need.
type app struct {
	backend *store.Backend
	client  *oauth.Client
	manager *tokens.Manager
	flow    *oauth.Flow
}

// openApp validates the OAuth 2.0 settings and opens the configured store.
// When prompt is non-nil a missing client secret is read from the terminal.
func openApp(ctx context.Context, c config.Config, prompt io.Writer) (*app, error) {
	if prompt != nil {
		var err error
		if c, err = c.WithPromptedClientSecret(prompt); err != nil {
			return nil, err
		}
	}
	if err := c.ValidateOAuth2(); err != nil {
		return nil, err
	}

	client, err := oauth.NewClient(c.OAuthClient())
	if err != nil {
		return nil, err
	}
	backend, err := store.New(ctx, c.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", c.Store.Type, err)
	}

	var opts []tokens.Option
	if c.AlwaysRefresh {
		opts = append(opts, tokens.WithAlwaysRefresh())
	}
	if m := tel.Metrics(); m != nil {
		opts = append(opts, tokens.WithObserver(m))
	}
	mgr := tokens.NewManager(client.ClientID(), backend.Tokens, client, opts...)

	return &app{
		backend: backend,
		client:  client,
		manager: mgr,
		flow:    oauth.NewFlow(client, backend.Flows, mgr),
	}, nil
}

func (a *app) Close() error {
	return a.backend.Close()
}

func newSigner(c config.Config) (*oauth1.Signer, error) {
	if err := c.ValidateOAuth1(); err != nil {
		return nil, err
	}
	return oauth1.NewSigner(c.OAuth1)
}

func newOAuth1Authenticator(c config.Config) (*authenticator.OAuth1, error) {
	s, err := newSigner(c)
	if err != nil {
		return nil, err
	}
	return &authenticator.OAuth1{Signer: s}, nil
}

func parseStoreType(s string) (store.Type, error) {
	t, err := store.ParseType(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", autherr.ErrConfig, err)
	}
	return t, nil
}
