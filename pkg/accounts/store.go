package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/system"
)

const (
	DefaultRefreshMargin  = 5 * time.Minute
	DefaultRefreshTimeout = 2 * time.Minute
)

// Renewer turns a stored refresh token into a fresh account record.
type Renewer interface {
	Renew(ctx context.Context, refreshToken string) (*MicrosoftAccount, error)
}

// RotatedError is returned by a Renewer whose refresh token redemption
// succeeded before a later step failed. The server has already invalidated
// the old token, so RefreshToken must replace it.
type RotatedError struct {
	RefreshToken string
	Err          error
}

func (e *RotatedError) Error() string {
	return e.Err.Error()
}

func (e *RotatedError) Unwrap() error {
	return e.Err
}

type document struct {
	Accounts []json.RawMessage `json:"accounts"`
}

// Store owns the account records. Every accessor returns copies.
type Store struct {
	backend Backend
	renewer Renewer

	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	log            *zap.SugaredLogger

	mu       sync.RWMutex
	accounts []MicrosoftAccount
	flights  singleflight.Group
}

type Option func(*Store)

func WithMargin(d time.Duration) Option {
	return func(s *Store) { s.margin = d }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Store) { s.refreshTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Store) { s.log = log }
}

// Open loads the accounts held by backend. renewer may be nil for callers
// that never ask for a token.
func Open(backend Backend, renewer Renewer, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("accounts backend is required")
	}
	s := &Store{
		backend:        backend,
		renewer:        renewer,
		margin:         DefaultRefreshMargin,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = system.OrNop(s.log)
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := s.backend.Load()
	if err != nil {
		return autherr.New(autherr.KindStorage, "accounts.load", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return autherr.New(autherr.KindStorage, "accounts.load", fmt.Errorf("accounts document is corrupt: %w", err))
	}
	seen := make(map[uuid.UUID]bool, len(doc.Accounts))
	for i, raw := range doc.Accounts {
		var account MicrosoftAccount
		if err := json.Unmarshal(raw, &account); err != nil {
			s.log.Warnw("Skipping unreadable account record", "index", i, "error", err)
			continue
		}
		if err := account.Validate(); err != nil {
			s.log.Warnw("Skipping invalid account record", "index", i, "uuid", account.UUID.String(), "error", err)
			continue
		}
		if seen[account.UUID] {
			s.log.Warnw("Skipping duplicate account record", "index", i, "uuid", account.UUID.String())
			continue
		}
		seen[account.UUID] = true
		s.accounts = append(s.accounts, account)
	}
	s.log.Debugw("Loaded accounts", "count", len(s.accounts))
	return nil
}

// persist writes next and, only once that succeeded, makes it current.
// Callers hold s.mu.
func (s *Store) persist(op string, next []MicrosoftAccount) error {
	raws := make([]json.RawMessage, 0, len(next))
	for _, account := range next {
		raw, err := json.Marshal(account)
		if err != nil {
			return autherr.New(autherr.KindStorage, op, err)
		}
		raws = append(raws, raw)
	}
	data, err := json.MarshalIndent(document{Accounts: raws}, "", "  ")
	if err != nil {
		return autherr.New(autherr.KindStorage, op, err)
	}
	if err := s.backend.Save(data); err != nil {
		return autherr.New(autherr.KindStorage, op, err)
	}
	s.accounts = next
	return nil
}

func (s *Store) indexOf(id uuid.UUID) int {
	for i := range s.accounts {
		if s.accounts[i].UUID == id {
			return i
		}
	}
	return -1
}

// AddOrUpdate stores account, replacing a record with the same UUID in place
// or appending a new one.
func (s *Store) AddOrUpdate(account MicrosoftAccount) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append([]MicrosoftAccount(nil), s.accounts...)
	if i := s.indexOf(account.UUID); i >= 0 {
		next[i] = account
	} else {
		next = append(next, account)
	}
	if err := s.persist("accounts.add", next); err != nil {
		return err
	}
	s.log.Infow("Saved account", system.AccountFields(account.UUID.String(), account.Name)...)
	return nil
}

// Remove deletes the account with id.
func (s *Store) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return notFound("accounts.remove", id)
	}
	next := make([]MicrosoftAccount, 0, len(s.accounts)-1)
	next = append(next, s.accounts[:i]...)
	next = append(next, s.accounts[i+1:]...)
	if err := s.persist("accounts.remove", next); err != nil {
		return err
	}
	s.log.Infow("Removed account", "uuid", id.String())
	return nil
}

// List returns the accounts in insertion order.
func (s *Store) List() []MicrosoftAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MicrosoftAccount(nil), s.accounts...)
}

func (s *Store) Get(id uuid.UUID) (MicrosoftAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.accounts[i], nil
	}
	return MicrosoftAccount{}, notFound("accounts.get", id)
}

// EnsureValidToken is an alias of GetValidAccessToken.
func (s *Store) EnsureValidToken(ctx context.Context, id uuid.UUID) (string, error) {
	return s.GetValidAccessToken(ctx, id)
}

// GetValidAccessToken returns the account's access token if it stays valid
// for longer than the refresh margin, and refreshes it otherwise. Concurrent
// callers for one account share a single refresh. The refresh keeps running
// and its result is saved even if ctx is cancelled.
func (s *Store) GetValidAccessToken(ctx context.Context, id uuid.UUID) (string, error) {
	account, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if account.NeedsRelogin {
		return "", &autherr.Error{Kind: autherr.KindRefreshInvalid, Op: "accounts.token", Raw: "account needs a new login"}
	}
	if account.ValidFor(s.now(), s.margin) {
		return account.AccessToken, nil
	}
	if s.renewer == nil {
		return "", errors.New("accounts store has no renewer")
	}

	refreshCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(id.String(), func() (any, error) {
		ctx, cancel := context.WithTimeout(refreshCtx, s.refreshTimeout)
		defer cancel()
		return s.refresh(ctx, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Store) refresh(ctx context.Context, id uuid.UUID) (string, error) {
	account, err := s.Get(id)
	if err != nil {
		return "", err
	}
	// A flight that finished just before this one started may have renewed it.
	if account.ValidFor(s.now(), s.margin) {
		return account.AccessToken, nil
	}
	log := s.log.With(system.AccountFields(id.String(), account.Name)...)
	log.Infow("Refreshing access token", "expiry", account.Expiry(), "refreshToken", system.MaskToken(account.RefreshToken))

	renewed, err := s.renewer.Renew(ctx, account.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.Outcome(err)).Inc()
		var rotated *RotatedError
		switch {
		case errors.As(err, &rotated) && rotated.RefreshToken != "":
			log.Warnw("Refresh token rotated but renewal failed, keeping the new refresh token", "error", err)
			s.keepRotated(id, rotated.RefreshToken, log)
		case errors.Is(err, autherr.ErrRefreshInvalid):
			log.Warnw("Refresh token rejected, account needs a new login", "error", err)
			s.markNeedsRelogin(id)
		}
		return "", err
	}
	if renewed.AccessToken == "" || renewed.RefreshToken == "" {
		return "", autherr.Protocol("accounts.refresh", "", errors.New("renewed account is missing a token"))
	}
	if renewed.UUID != uuid.Nil && renewed.UUID != id {
		log.Warnw("Refreshed profile id differs from the stored account", "got", renewed.UUID.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]MicrosoftAccount(nil), s.accounts...)
	i := s.indexOf(id)
	if i < 0 {
		// Removed while refreshing; do not bring it back.
		return renewed.AccessToken, nil
	}
	updated := next[i]
	if renewed.Name != "" {
		updated.Name = renewed.Name
	}
	if renewed.Email != "" {
		updated.Email = renewed.Email
	}
	updated.AccessToken = renewed.AccessToken
	updated.RefreshToken = renewed.RefreshToken
	updated.LastRefreshTime = renewed.LastRefreshTime
	updated.ExpiresAt = renewed.ExpiresAt
	updated.NeedsRelogin = false
	next[i] = updated
	if err := s.persistRotated("accounts.refresh", next); err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.Outcome(err)).Inc()
		log.Errorw("Failed to save refreshed tokens, keeping them in memory", "error", err)
		return "", err
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	log.Infow("Access token refreshed", "expiry", updated.Expiry())
	return updated.AccessToken, nil
}

// persistRotated is persist for records carrying a rotated refresh token.
// The old token is dead on the server, so next becomes current even when
// the save fails. Callers hold s.mu.
func (s *Store) persistRotated(op string, next []MicrosoftAccount) error {
	if err := s.persist(op, next); err != nil {
		s.accounts = next
		return err
	}
	return nil
}

// keepRotated stores refreshToken for id and marks the access token expired,
// so the pair stays complete and the next request renews with the new token.
func (s *Store) keepRotated(id uuid.UUID, refreshToken string, log *zap.SugaredLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	next := append([]MicrosoftAccount(nil), s.accounts...)
	next[i].RefreshToken = refreshToken
	next[i].ExpiresAt = s.now().UTC()
	if err := s.persistRotated("accounts.refresh", next); err != nil {
		log.Errorw("Failed to save rotated refresh token, keeping it in memory", "error", err)
	}
}

func (s *Store) markNeedsRelogin(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	next := append([]MicrosoftAccount(nil), s.accounts...)
	next[i].NeedsRelogin = true
	if err := s.persist("accounts.refresh", next); err != nil {
		s.log.Errorw("Failed to mark account for new login", "uuid", id.String(), "error", err)
	}
}

func notFound(op string, id uuid.UUID) error {
	return &autherr.Error{Kind: autherr.KindAccountNotFound, Op: op, Raw: id.String()}
}
