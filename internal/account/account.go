// Package account implements the multi-credential account pool: sticky
// selection, per-model rate-limit state, cooldowns, and token refresh.
package account

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/kestrel-labs/antigravity-gateway/internal/ratelimit"
)

// ModelRateLimit is the per-account, per-model rate-limit state.
type ModelRateLimit struct {
	CooldownUntil    time.Time
	Last429At        time.Time
	Consecutive429s  int
}

// Account is one credential set in the pool.
type Account struct {
	Email        string
	Label        string
	RefreshToken string
	AccessToken  string
	TokenExpiry  time.Time
	ProjectID    string
	Disabled     bool // set when Auth errors mark the account unusable

	LastUsed          time.Time
	LastUsedSessionID string

	mu        sync.Mutex
	RateLimit map[string]*ModelRateLimit // keyed by model
}

func (a *Account) rateLimitFor(model string) *ModelRateLimit {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RateLimit == nil {
		a.RateLimit = make(map[string]*ModelRateLimit)
	}
	rl, ok := a.RateLimit[model]
	if !ok {
		rl = &ModelRateLimit{}
		a.RateLimit[model] = rl
	}
	return rl
}

// CooldownUntil returns the instant before which this account should be
// skipped for model, or the zero time if it is not in cooldown.
func (a *Account) CooldownUntil(model string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RateLimit == nil {
		return time.Time{}
	}
	if rl, ok := a.RateLimit[model]; ok {
		return rl.CooldownUntil
	}
	return time.Time{}
}

// RateLimitSnapshot returns a copy of the per-model rate-limit state, for
// the /account-limits management view.
func (a *Account) RateLimitSnapshot() map[string]ModelRateLimit {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]ModelRateLimit, len(a.RateLimit))
	for model, rl := range a.RateLimit {
		out[model] = *rl
	}
	return out
}

// TokenRefresher exchanges a refresh token for a fresh access token. The
// interactive device-code authorization flow that originally produced the
// refresh token lives outside the gateway; this is only the narrow
// refresh-token exchange the pool needs.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Pool selects accounts and tracks their rate-limit/token state.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account

	refresher  TokenRefresher
	skew       time.Duration
	refreshSF  singleflight.Group
	broadcast  Broadcaster // optional, see broadcast.go
	store      Store       // optional persistence, see store.go
}

// NewPool constructs a pool over the given accounts. skew is how far in
// advance of actual expiry a token is considered due for refresh.
func NewPool(accounts []*Account, refresher TokenRefresher, skew time.Duration) *Pool {
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Pool{accounts: accounts, refresher: refresher, skew: skew}
}

// SetBroadcaster wires an optional cross-replica state mirror.
func (p *Pool) SetBroadcaster(b Broadcaster) { p.broadcast = b }

// SetStore wires optional atomic persistence.
func (p *Pool) SetStore(s Store) { p.store = s }

// Accounts returns a snapshot of the pool's accounts, for /account-limits.
func (p *Pool) Accounts() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// PickNext selects the account for one dispatch:
//  1. The sticky candidate (last used for this session) if not cooled down.
//  2. Otherwise round-robin, skipping cooled-down accounts.
//  3. If all are cooled down, the sticky candidate anyway if the oldest
//     cooldown for model is younger than 2 minutes (brief-blip tolerance).
//  4. Otherwise nil (no account available).
func (p *Pool) PickNext(model, sessionID string) *Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	var sticky *Account
	for _, a := range p.accounts {
		if a.Disabled {
			continue
		}
		if a.LastUsedSessionID == sessionID {
			sticky = a
			break
		}
	}

	if sticky != nil {
		if cu := sticky.CooldownUntil(model); cu.IsZero() || cu.Before(now) {
			p.markUsedLocked(sticky, sessionID, now)
			return sticky
		}
	}

	for _, a := range p.accounts {
		if a.Disabled || a == sticky {
			continue
		}
		if cu := a.CooldownUntil(model); !cu.IsZero() && cu.After(now) {
			continue
		}
		p.markUsedLocked(a, sessionID, now)
		return a
	}

	// All cooled down (or only the sticky account exists and is cooled
	// down). If even the oldest live cooldown began less than two minutes
	// ago this is likely a brief upstream blip, so the sticky account is
	// returned anyway rather than failing the request outright.
	if sticky != nil {
		if started := p.oldestCooldownStartLocked(model); !started.IsZero() && now.Sub(started) < 2*time.Minute {
			p.markUsedLocked(sticky, sessionID, now)
			return sticky
		}
	}
	return nil
}

// oldestCooldownStartLocked returns the earliest Last429At among accounts
// currently in cooldown for model.
func (p *Pool) oldestCooldownStartLocked(model string) time.Time {
	now := time.Now()
	var oldest time.Time
	for _, a := range p.accounts {
		a.mu.Lock()
		rl, ok := a.RateLimit[model]
		var started time.Time
		if ok && rl.CooldownUntil.After(now) {
			started = rl.Last429At
		}
		a.mu.Unlock()
		if started.IsZero() {
			continue
		}
		if oldest.IsZero() || started.Before(oldest) {
			oldest = started
		}
	}
	return oldest
}

func (p *Pool) markUsedLocked(a *Account, sessionID string, now time.Time) {
	a.mu.Lock()
	a.LastUsed = now
	a.LastUsedSessionID = sessionID
	a.mu.Unlock()
	if p.broadcast != nil {
		p.broadcast.PublishLastUsed(a.Email, sessionID, now)
	}
}

// ReportRateLimited records a 429 for account a on model, updating its
// cooldown per the configured base/cap (ratelimit.Cooldown).
func (p *Pool) ReportRateLimited(a *Account, model string, parsed time.Duration, hasParsed bool, base, cap_ time.Duration) {
	rl := a.rateLimitFor(model)

	a.mu.Lock()
	rl.Consecutive429s++
	rl.Last429At = time.Now()
	consecutive := rl.Consecutive429s
	a.mu.Unlock()

	cooldown := ratelimit.Cooldown(parsed, hasParsed, consecutive, base, cap_)

	a.mu.Lock()
	rl.CooldownUntil = time.Now().Add(cooldown)
	a.mu.Unlock()

	if p.broadcast != nil {
		p.broadcast.PublishCooldown(a.Email, model, rl.CooldownUntil)
	}
	if p.store != nil {
		_ = p.store.Save(p.Accounts())
	}
}

// ReportSuccess resets the consecutive-429 counter for a on model, so a
// recovered account is not penalized by its prior backoff multiplier.
func (p *Pool) ReportSuccess(a *Account, model string) {
	rl := a.rateLimitFor(model)
	a.mu.Lock()
	rl.Consecutive429s = 0
	a.mu.Unlock()
}

// GetToken returns a's current access token if it is not near expiry,
// otherwise performs a deduplicated OAuth refresh. Concurrent callers for
// the same account share one in-flight refresh (golang.org/x/sync/singleflight).
func (p *Pool) GetToken(ctx context.Context, a *Account) (string, error) {
	a.mu.Lock()
	tok, expiry := a.AccessToken, a.TokenExpiry
	a.mu.Unlock()

	if tok != "" && time.Until(expiry) > p.skew {
		return tok, nil
	}

	v, err, _ := p.refreshSF.Do(a.Email, func() (interface{}, error) {
		newTok, err := p.refresher.Refresh(ctx, a.RefreshToken)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.AccessToken = newTok.AccessToken
		a.TokenExpiry = newTok.Expiry
		a.mu.Unlock()
		if p.store != nil {
			_ = p.store.Save(p.Accounts())
		}
		return newTok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
