package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatekeeper-api/internal/account"
)

const blockReasonAttempts = "too many failed login attempts"

var ErrInvalidCredentials = errors.New("invalid credentials")

// Config bounds the brute-force throttling behaviour of a Policy. Zero values
// fall back to the defaults (5 failures per hour, 30 minute block).
type Config struct {
	AttemptLimit  int
	AttemptWindow time.Duration
	BlockDuration time.Duration
}

// Policy composes the token service, attempt tracker and block registry into
// a single admission decision per request. It owns the mutable maps
// exclusively; the HTTP layer only ever sees verdicts.
type Policy struct {
	tokens        *TokenService
	attempts      *AttemptTracker
	blocks        *BlockRegistry
	accounts      account.Source
	blockDuration time.Duration
	now           func() time.Time
}

func NewPolicy(tokens *TokenService, accounts account.Source, cfg Config) *Policy {
	blockDuration := cfg.BlockDuration
	if blockDuration <= 0 {
		blockDuration = DefaultBlockDuration
	}

	return &Policy{
		tokens:        tokens,
		attempts:      NewAttemptTracker(cfg.AttemptLimit, cfg.AttemptWindow),
		blocks:        NewBlockRegistry(),
		accounts:      accounts,
		blockDuration: blockDuration,
		now:           time.Now,
	}
}

// EvaluateLogin runs the credential admission path. The returned error only
// reports infrastructure failure in the account source or token service;
// every policy outcome, including denial, is a Verdict.
//
// Malformed input still charges the client an attempt, matching the reference
// behaviour. See DESIGN.md for the trade-off.
func (p *Policy) EvaluateLogin(ctx context.Context, clientID, username, password string) (Verdict, error) {
	now := p.now().UTC()

	if until, blocked := p.blocks.Until(clientID, now); blocked {
		return denyBlocked(until, now), nil
	}

	if strings.TrimSpace(username) == "" || password == "" {
		if p.registerFailure(clientID, now) {
			return denyBlocked(now.Add(p.blockDuration), now), nil
		}
		return deny(ReasonBadRequest), nil
	}

	acct, err := p.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Indistinguishable from a wrong password to avoid
			// account enumeration.
			return p.failCredentials(clientID, now), nil
		}
		return Verdict{}, fmt.Errorf("look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return p.failCredentials(clientID, now), nil
	}

	p.attempts.Clear(clientID)

	identity := Identity{ID: acct.ID, Username: acct.Username, Role: acct.Role}
	token, err := p.tokens.Issue(identity)
	if err != nil {
		return Verdict{}, fmt.Errorf("issue token: %w", err)
	}

	return Verdict{Allow: true, Token: token, User: &identity}, nil
}

// EvaluateToken runs the bearer-token admission path for protected resources.
func (p *Policy) EvaluateToken(clientID, authorization string) Verdict {
	now := p.now().UTC()

	if until, blocked := p.blocks.Until(clientID, now); blocked {
		return denyBlocked(until, now)
	}

	header := strings.TrimSpace(authorization)
	if header == "" {
		return deny(ReasonMissingToken)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return deny(ReasonBadTokenFormat)
	}

	claims, err := p.tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		return deny(ReasonInvalidToken)
	}

	return Verdict{Allow: true, Claims: &claims}
}

// Refresh re-issues a still valid token with a fresh TTL window.
func (p *Policy) Refresh(token string) (string, error) {
	return p.tokens.Refresh(token)
}

// ChangePassword verifies the current password and rewrites the stored hash.
// Returns account.ErrNotFound or ErrInvalidCredentials on the caller-facing
// failure paths.
func (p *Policy) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	acct, err := p.accounts.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return p.accounts.UpdatePassword(ctx, username, string(hash))
}

// Unblock lifts an active block early. Not exercised by the default flow but
// available to operator tooling.
func (p *Policy) Unblock(clientID string) {
	p.blocks.Clear(clientID)
	p.attempts.Clear(clientID)
}

func (p *Policy) failCredentials(clientID string, now time.Time) Verdict {
	if p.registerFailure(clientID, now) {
		return denyBlocked(now.Add(p.blockDuration), now)
	}
	return deny(ReasonInvalidCredentials)
}

// registerFailure charges one failed attempt and reports whether it tripped
// the threshold. A trip escalates to the block registry and consumes the
// attempt record, so a fresh count starts once the block expires.
func (p *Policy) registerFailure(clientID string, now time.Time) bool {
	_, tripped := p.attempts.RecordFailure(clientID, now)
	if tripped {
		p.blocks.Block(clientID, blockReasonAttempts, p.blockDuration, now)
		p.attempts.Clear(clientID)
	}
	return tripped
}

func denyBlocked(until, now time.Time) Verdict {
	retryAfter := until.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Verdict{Reason: ReasonBlocked, RetryAfter: retryAfter}
}
