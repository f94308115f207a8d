// Package auth keeps each configured broadcaster's OAuth token pair usable.
// A validation cycle checks every handle's access token against the identity
// service and exchanges the stored refresh token for a new pair when the
// access token is no longer accepted. Refresh is driven by proactive
// validation rather than by reacting to failed API calls elsewhere, so the
// rest of the bot can assume a current token without handling 401s itself.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chattender/store"
	"github.com/onnwee/chattender/telemetry"
	"github.com/onnwee/chattender/twitchapi"
)

// Identity is the slice of the identity service the validator needs.
// *twitchapi.IdentityClient satisfies it.
type Identity interface {
	Validate(ctx context.Context, accessToken string) (bool, error)
	Refresh(ctx context.Context, refreshToken string) (*twitchapi.RefreshResult, error)
}

// Validator runs validate-and-refresh cycles over a set of handles.
type Validator struct {
	identity Identity
	tokens   store.TokenStore
	timeout  time.Duration

	trigger chan struct{}
}

// NewValidator builds a Validator. Every upstream call made during a cycle is
// bounded by a fixed per-call timeout.
func NewValidator(identity Identity, tokens store.TokenStore) *Validator {
	return &Validator{
		identity: identity,
		tokens:   tokens,
		timeout:  15 * time.Second,
		trigger:  make(chan struct{}, 1),
	}
}

// ValidateAndRefresh runs one cycle over handles. Failures are isolated per
// handle: a broken principal is logged and skipped, the rest of the batch
// still runs, and nothing panics. An empty handle set is a no-op.
func (v *Validator) ValidateAndRefresh(ctx context.Context, handles []string) {
	log := telemetry.LoggerWithCorr(ctx)
	if len(handles) == 0 {
		log.Debug("no handles to validate, skipping cycle")
		return
	}
	if telemetry.ValidationCycles != nil {
		telemetry.ValidationCycles.Inc()
	}
	log.Info("validating access tokens", slog.Int("handles", len(handles)))
	for _, handle := range handles {
		v.validateOne(ctx, handle)
	}
}

func (v *Validator) validateOne(ctx context.Context, handle string) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("handle", handle))

	accessToken, ok, err := v.tokens.AccessToken(ctx, handle)
	if err != nil {
		telemetry.CountValidation("error")
		log.Warn("token store read failed", slog.Any("err", err))
		return
	}
	if !ok || accessToken == "" {
		// Not yet authenticated; nothing to keep fresh.
		telemetry.CountValidation("skipped")
		return
	}

	vctx, cancel := context.WithTimeout(ctx, v.timeout)
	valid, err := v.identity.Validate(vctx, accessToken)
	cancel()
	if err != nil {
		// Transport failure says nothing about the token; retry next cycle.
		telemetry.CountValidation("error")
		log.Warn("token validation unreachable, retrying next cycle", slog.Any("err", err))
		return
	}
	if valid {
		telemetry.CountValidation("valid")
		return
	}
	telemetry.CountValidation("invalid")
	log.Info("access token rejected, refreshing")

	refreshToken, ok, err := v.tokens.RefreshToken(ctx, handle)
	if err != nil {
		telemetry.CountRefresh("failed")
		log.Warn("token store read failed", slog.Any("err", err))
		return
	}
	if !ok || refreshToken == "" {
		telemetry.CountRefresh("failed")
		log.Warn("no refresh token on record, cannot refresh")
		return
	}

	rctx, cancel := context.WithTimeout(ctx, v.timeout)
	res, err := v.identity.Refresh(rctx, refreshToken)
	cancel()
	if err != nil {
		// Old pair stays untouched; the next cycle tries again.
		telemetry.CountRefresh("failed")
		if errors.Is(err, twitchapi.ErrMalformedGrant) {
			log.Error("token exchange returned a malformed grant", slog.Any("err", err))
		} else {
			log.Warn("token refresh failed", slog.Any("err", err))
		}
		return
	}

	if err := v.tokens.SetTokens(ctx, handle, res.AccessToken, res.RefreshToken); err != nil {
		telemetry.CountRefresh("failed")
		log.Error("token persist failed", slog.Any("err", err))
		return
	}
	telemetry.CountRefresh("ok")
	log.Info("token refreshed")
}

// Trigger requests an immediate cycle from StartCycle, e.g. after chat login
// rejects the bot's credentials. Non-blocking; a pending trigger is enough.
func (v *Validator) Trigger() {
	select {
	case v.trigger <- struct{}{}:
	default:
	}
}

// StartCycle launches a goroutine running a cycle for handles at roughly the
// given interval, with jitter so multiple instances don't stampede the
// identity service, plus one immediate cycle at startup. Each cycle carries a
// fresh correlation id in its logs.
func (v *Validator) StartCycle(ctx context.Context, handles []string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	go func() {
		v.runCycle(ctx, handles)
		for {
			// ±20% jitter per iteration.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-v.trigger:
			case <-time.After(interval + jitter):
			}
			v.runCycle(ctx, handles)
		}
	}()
}

func (v *Validator) runCycle(ctx context.Context, handles []string) {
	cctx := telemetry.WithCorrelation(ctx, uuid.NewString())
	v.ValidateAndRefresh(cctx, handles)
}
