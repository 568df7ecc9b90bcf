package service

import (
	"context"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/ratelimit"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

// passwordResetter is the backend's recovery endpoint
type passwordResetter interface {
	RequestPasswordReset(ctx context.Context, email string) error
}

// AccountService fronts the recovery-adjacent account flows
type AccountService struct {
	backend passwordResetter
	limiter ratelimit.Limiter
	now     func() time.Time
	logger  *zap.Logger
}

// NewAccountService creates a new account service
func NewAccountService(backend passwordResetter, limiter ratelimit.Limiter) *AccountService {
	return &AccountService{
		backend: backend,
		limiter: limiter,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// RequestPasswordReset asks the backend to send a recovery e-mail. The caller
// sees the same outcome whether or not an account exists for email; only the
// per-address throttle is reported.
func (a *AccountService) RequestPasswordReset(ctx context.Context, email string, markers ratelimit.MarkerStore) error {
	ctx, span := util.StartSpan(ctx, "AccountService.RequestPasswordReset")
	defer span.End()

	decision, err := a.limiter.Check(ctx, markers, ratelimit.Key(email), a.now())
	if err != nil {
		a.logger.Warn("Rate limit marker unavailable", zap.Error(err))
	}
	if !decision.Allowed && err == nil {
		util.PasswordResetRequestsTotal.WithLabelValues("rate_limited").Inc()
		e := apperror.New(apperror.KindRateLimited, "please wait before requesting another reset e-mail")
		e.RetryAfterSeconds = decision.RetryAfterSeconds
		return e
	}

	if err := a.backend.RequestPasswordReset(ctx, email); err != nil {
		util.PasswordResetRequestsTotal.WithLabelValues("backend_error").Inc()
		util.LoggerFrom(ctx).Error("Password reset request failed", zap.Error(err))
		return nil
	}

	util.PasswordResetRequestsTotal.WithLabelValues("accepted").Inc()
	return nil
}
