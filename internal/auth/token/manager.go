package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pysugar/trade-nexus/internal/kis"
	"github.com/pysugar/trade-nexus/internal/logging"
	"github.com/pysugar/trade-nexus/internal/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoCredential is returned when the caller has no usable credential.
	ErrNoCredential = errors.New("brokerage credential not configured")

	// ErrIssuance wraps every failed issuance, timeouts included.
	ErrIssuance = errors.New("token issuance failed")
)

// Issuer obtains a fresh token from the brokerage. kis.Client implements it.
type Issuer interface {
	IssueToken(ctx context.Context, cred kis.Credential) (*oauth2.Token, error)
}

// Stats counts cache outcomes since start.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Issued   int64 `json:"issued"`
	Failures int64 `json:"failures"`
	Swept    int64 `json:"swept"`
}

// Manager hands out brokerage access tokens, reusing a cached token while it
// is valid. Concurrent misses for one user and credential share a single
// issuance.
type Manager struct {
	store  *Store
	issuer Issuer
	ttl    time.Duration
	flight singleflight.Group
	users  sync.Map // user id -> *userState

	hits, misses, issued, failures, swept atomic.Int64
}

// userState orders cache writes against Invalidate. gen moves on every
// Invalidate; an issuance only caches its token if gen has not moved since it
// started.
type userState struct {
	mu  sync.Mutex
	gen uint64
}

func (m *Manager) state(userID string) *userState {
	st, _ := m.users.LoadOrStore(userID, &userState{})
	return st.(*userState)
}

func (st *userState) generation() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

// flightKey separates issuances for the same user made with different app
// keys or hosts.
func flightKey(userID string, cred kis.Credential) string {
	sum := sha256.Sum256([]byte(cred.AppKey + "\x00" + cred.BaseURL))
	return userID + "|" + hex.EncodeToString(sum[:8])
}

func NewManager(store *Store, issuer Issuer) *Manager {
	return &Manager{
		store:  store,
		issuer: issuer,
		ttl:    kis.TokenTTL,
	}
}

// GetAccessToken returns a usable bearer token for userID.
func (m *Manager) GetAccessToken(ctx context.Context, cred *kis.Credential, userID string) (string, error) {
	tok, err := m.Token(ctx, cred, userID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token is GetAccessToken returning the oauth2 form with its expiry.
func (m *Manager) Token(ctx context.Context, cred *kis.Credential, userID string) (*oauth2.Token, error) {
	if !cred.Usable() {
		return nil, ErrNoCredential
	}

	cached, err := m.store.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		m.hits.Add(1)
		return cached, nil
	}
	m.misses.Add(1)

	// The flight outlives a cancelled first caller; the issuer bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(flightKey(userID, *cred), func() (any, error) {
		return m.issueAndStore(flightCtx, *cred, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) issueAndStore(ctx context.Context, cred kis.Credential, userID string) (*oauth2.Token, error) {
	logger := logging.FromContext(ctx).With().Str("user_id", userID).Logger()
	st := m.state(userID)
	gen := st.generation()

	// A flight that just finished may have stored a token after our miss.
	if cached, err := m.store.GetValidToken(ctx, userID); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	tok, err := m.issuer.IssueToken(ctx, cred)
	if err != nil {
		m.failures.Add(1)
		logger.Warn().Err(err).Msg("brokerage token issuance failed")
		return nil, fmt.Errorf("%w: %w", ErrIssuance, err)
	}
	m.issued.Add(1)

	logger.Info().Str("token", util.MaskToken(tok.AccessToken)).Msg("issued brokerage token")

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		// Invalidated mid-flight; the token may belong to replaced settings.
		logger.Info().Msg("token invalidated during issuance, not caching it")
		return tok, nil
	}
	if err := m.store.Upsert(ctx, userID, tok.AccessToken, m.ttl); err != nil {
		// The token is still good for this request; the next miss reissues.
		logger.Error().Err(err).Msg("failed to cache issued token")
	}
	return tok, nil
}

// Invalidate drops the cached token so the next call reissues. Issuances
// already running for the user no longer cache their result.
func (m *Manager) Invalidate(ctx context.Context, userID string) error {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++
	if err := m.store.Delete(ctx, userID); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Msg("brokerage token invalidated")
	return nil
}

// Status reports the user's cached token state.
func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	return m.store.Status(ctx, userID)
}

// Sweep deletes expired rows and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	m.swept.Add(n)
	return n, nil
}

// StartSweepLoop runs Sweep every interval until ctx is done.
func (m *Manager) StartSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Info().Msg("expired token sweep disabled")
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.Sweep(ctx)
				if err != nil {
					log.Err(err).Msg("expired token sweep failed")
					continue
				}
				if n > 0 {
					log.Info().Int64("deleted", n).Msg("swept expired tokens")
				}
			}
		}
	}()
	log.Info().Dur("interval", interval).Msg("expired token sweep started")
}

func (m *Manager) Stats() Stats {
	return Stats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Issued:   m.issued.Load(),
		Failures: m.failures.Load(),
		Swept:    m.swept.Load(),
	}
}

// TokenSource adapts the manager to oauth2.TokenSource for one user.
func (m *Manager) TokenSource(ctx context.Context, cred *kis.Credential, userID string) oauth2.TokenSource {
	return &userTokenSource{ctx: ctx, m: m, cred: cred, userID: userID}
}

type userTokenSource struct {
	ctx    context.Context
	m      *Manager
	cred   *kis.Credential
	userID string
}

func (s *userTokenSource) Token() (*oauth2.Token, error) {
	return s.m.Token(s.ctx, s.cred, s.userID)
}
