package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/log"
)

const (
	DefaultSkew         = 30 * time.Second
	DefaultSettleTries  = 5
	defaultSettleWaitMs = 50

	// DefaultFlightTimeout bounds one shared refresh, provider call and
	// store write included. It does not depend on any caller's context.
	DefaultFlightTimeout = time.Minute
	// DefaultSaveTries bounds the writes of a pair the provider just issued.
	DefaultSaveTries = 5
)

// Refresh outcomes reported to a RefreshObserver.
const (
	OutcomeRotated = "rotated" // this caller rotated the pair
	OutcomeAdopted = "adopted" // another caller's rotation was picked up
	OutcomeExpired = "expired" // the refresh token was rejected for good
	OutcomeFailed  = "failed"
)

// RefreshObserver is told how each refresh ended.
type RefreshObserver interface {
	RecordRefresh(ctx context.Context, outcome string)
}

var tracer = otel.Tracer("github.com/markb/mentionbot/internal/tokens")

// errNotAdvanced is returned by the settle loop while the store still holds
// the pair that was used for the failed refresh.
var errNotAdvanced = errors.New("token store has not advanced")

// Manager owns the token pair of one client identity. Concurrent refreshes
// in the same process share a single provider call; refreshes across
// processes are arbitrated by the Store's conditional Put.
type Manager struct {
	clientID  string
	store     Store
	refresher Refresher
	group     singleflight.Group

	alwaysRefresh bool
	skew          time.Duration
	settleTries   uint
	settleWait    time.Duration
	saveTries     uint
	flightTimeout time.Duration
	now           func() time.Time
	observer      RefreshObserver
}

// Option configures a Manager.
type Option func(*Manager)

// WithAlwaysRefresh makes AccessToken rotate the pair on every call, even
// when the access token is still valid.
func WithAlwaysRefresh() Option {
	return func(m *Manager) { m.alwaysRefresh = true }
}

// WithSkew sets how long before expiry an access token is treated as expired.
func WithSkew(d time.Duration) Option {
	return func(m *Manager) { m.skew = d }
}

// WithSettle bounds the re-read loop that runs after a lost refresh race.
func WithSettle(tries uint, initialWait time.Duration) Option {
	return func(m *Manager) {
		m.settleTries = tries
		m.settleWait = initialWait
	}
}

// WithSaveRetry bounds how often a freshly rotated pair is written before
// the store error is returned.
func WithSaveRetry(tries uint) Option {
	return func(m *Manager) { m.saveTries = tries }
}

// WithFlightTimeout bounds one shared refresh.
func WithFlightTimeout(d time.Duration) Option {
	return func(m *Manager) { m.flightTimeout = d }
}

// WithObserver reports refresh outcomes to o.
func WithObserver(o RefreshObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager for clientID.
func NewManager(clientID string, store Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		clientID:      clientID,
		store:         store,
		refresher:     refresher,
		skew:          DefaultSkew,
		settleTries:   DefaultSettleTries,
		settleWait:    defaultSettleWaitMs * time.Millisecond,
		saveTries:     DefaultSaveTries,
		flightTimeout: DefaultFlightTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClientID returns the client identity the manager is bound to.
func (m *Manager) ClientID() string {
	return m.clientID
}

// Current returns the stored pair without refreshing it.
func (m *Manager) Current(ctx context.Context) (*Pair, error) {
	p, err := m.store.Get(ctx, m.clientID)
	if err != nil {
		return nil, fmt.Errorf("load token pair: %w", err)
	}
	return p, nil
}

// Save stores a freshly issued pair, replacing whatever is stored. It is used
// after a completed authorization code exchange.
func (m *Manager) Save(ctx context.Context, pair *Pair) error {
	var prev int64
	cur, err := m.store.Get(ctx, m.clientID)
	switch {
	case err == nil:
		prev = cur.Version
	case errors.Is(err, autherr.ErrNotFound):
	default:
		return fmt.Errorf("load token pair: %w", err)
	}

	if err := m.store.Put(ctx, m.clientID, pair, prev); err != nil {
		return fmt.Errorf("save token pair: %w", err)
	}
	log.Info("token pair saved", "client_id", m.clientID, "version", pair.Version)
	return nil
}

// AccessToken returns a usable pair, refreshing it first when the access
// token is expired or about to expire, or always when WithAlwaysRefresh is set.
func (m *Manager) AccessToken(ctx context.Context) (*Pair, error) {
	cur, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !m.alwaysRefresh && !cur.Expired(m.now(), m.skew) {
		return cur, nil
	}
	return m.RefreshAccessToken(ctx, *cur)
}

// RefreshAccessToken rotates the pair that current was read from.
//
// If another caller has already rotated it, the stored pair is returned
// without contacting the provider. If this caller loses a race, either at
// the provider (autherr.ErrAuthExpired) or at the store
// (autherr.ErrStoreConflict), the store is re-read for a bounded time and
// the winner's pair is returned once visible.
//
// The shared refresh is detached from ctx and bounded by the flight timeout.
// A caller whose ctx ends first gets ctx's error; the flight and the other
// waiters carry on.
func (m *Manager) RefreshAccessToken(ctx context.Context, current Pair) (*Pair, error) {
	ch := m.group.DoChan(m.clientID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.flightTimeout)
		defer cancel()
		return m.refresh(fctx, current.RefreshToken)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: refresh abandoned: %w", autherr.ErrNetwork, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := res.Val.(*Pair)
		if res.Shared {
			cp := *p
			p = &cp
		}
		return p, nil
	}
}

func (m *Manager) refresh(ctx context.Context, used string) (*Pair, error) {
	ctx, span := tracer.Start(ctx, "tokens.refresh",
		trace.WithAttributes(attribute.String("client_id", m.clientID)))
	defer span.End()

	p, outcome, err := m.rotate(ctx, used)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if m.observer != nil {
		m.observer.RecordRefresh(ctx, outcome)
	}
	return p, err
}

func (m *Manager) rotate(ctx context.Context, used string) (*Pair, string, error) {
	stored, err := m.Current(ctx)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	if used != "" && stored.RefreshToken != used {
		log.Debug("token pair already rotated", "client_id", m.clientID, "version", stored.Version)
		return stored, OutcomeAdopted, nil
	}

	next, err := m.refresher.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		if errors.Is(err, autherr.ErrAuthExpired) {
			return m.settle(ctx, stored, err)
		}
		return nil, OutcomeFailed, fmt.Errorf("refresh token pair: %w", err)
	}

	if err := m.persist(ctx, next, stored.Version); err != nil {
		if errors.Is(err, autherr.ErrStoreConflict) {
			return m.settle(ctx, stored, err)
		}
		log.Error("rotated pair could not be saved", "client_id", m.clientID,
			"refresh_token", log.Mask(next.RefreshToken), "error", err)
		return nil, OutcomeFailed, fmt.Errorf("save refreshed pair: %w", err)
	}

	log.Info("token pair rotated", "client_id", m.clientID, "version", next.Version,
		"refresh_token", log.Mask(next.RefreshToken))
	return next, OutcomeRotated, nil
}

// persist writes a pair the provider has just issued. The old refresh token
// is already dead at the provider, so transient store errors are retried and
// ctx cancellation is ignored. A conflict is returned at once.
func (m *Manager) persist(ctx context.Context, next *Pair, prevVersion int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.flightTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.settleWait
	b.MaxInterval = 20 * m.settleWait

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.store.Put(ctx, m.clientID, next, prevVersion)
		if errors.Is(err, autherr.ErrStoreConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.saveTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("saving rotated pair failed, retrying", "client_id", m.clientID,
				"error", err, "wait", wait)
		}),
	)
	return err
}

// settle waits for the store to move past used. It returns cause when the
// store does not advance within the retry budget.
func (m *Manager) settle(ctx context.Context, used *Pair, cause error) (*Pair, string, error) {
	log.Warn("refresh race lost, waiting for winner", "client_id", m.clientID, "error", cause)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.settleWait
	b.MaxInterval = 20 * m.settleWait

	winner, err := backoff.Retry(ctx, func() (*Pair, error) {
		p, err := m.store.Get(ctx, m.clientID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if p.Version > used.Version && p.RefreshToken != used.RefreshToken {
			return p, nil
		}
		return nil, errNotAdvanced
	}, backoff.WithBackOff(b), backoff.WithMaxTries(m.settleTries))
	failed := OutcomeFailed
	if errors.Is(cause, autherr.ErrAuthExpired) {
		failed = OutcomeExpired
	}
	if err != nil {
		if errors.Is(err, errNotAdvanced) {
			return nil, failed, cause
		}
		return nil, failed, fmt.Errorf("%w (re-read: %v)", cause, err)
	}
	return winner, OutcomeAdopted, nil
}
