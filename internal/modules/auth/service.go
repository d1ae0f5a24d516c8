package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/mailer"
	"fitstudio/internal/metrics"
	"fitstudio/internal/pkg/password"
	"fitstudio/internal/ratelimit"
	"fitstudio/internal/token"

	"go.uber.org/zap"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 15 * time.Minute
	DefaultOTPTTL           = 10 * time.Minute
	DefaultResetTokenTTL    = 30 * time.Minute
)

// Options are the tunables of the pipeline. Zero values take the defaults.
type Options struct {
	Policy           password.Policy
	OTPTTL           time.Duration
	ResetTokenTTL    time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration
	// AppBaseURL prefixes the reset link, e.g. https://app.example.com.
	AppBaseURL string
}

func (o Options) withDefaults() Options {
	if o.Policy == (password.Policy{}) {
		o.Policy = password.DefaultPolicy()
	}
	if o.OTPTTL <= 0 {
		o.OTPTTL = DefaultOTPTTL
	}
	if o.ResetTokenTTL <= 0 {
		o.ResetTokenTTL = DefaultResetTokenTTL
	}
	if o.LockoutThreshold <= 0 {
		o.LockoutThreshold = DefaultLockoutThreshold
	}
	if o.LockoutWindow <= 0 {
		o.LockoutWindow = DefaultLockoutWindow
	}
	return o
}

// Service contains all business logic for authentication
type Service struct {
	users   UserStore
	hasher  PasswordHasher
	tokens  TokenIssuer
	secrets *token.Secrets
	mailer  mailer.Mailer
	limiter Limiter
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

func NewService(
	users UserStore,
	hasher PasswordHasher,
	tokens TokenIssuer,
	secrets *token.Secrets,
	m mailer.Mailer,
	limiter Limiter,
	opts Options,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		secrets: secrets,
		mailer:  m,
		limiter: limiter,
		opts:    opts.withDefaults(),
		log:     log,
		now:     time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Signup creates an unverified account and mails its verification code. When
// the mail cannot be sent the account still exists and the error is
// mail_delivery_failed, so the client can offer "resend".
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*user.User, error) {
	if err := s.checkPolicy(req.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	code, digest, err := s.secrets.NewOTP()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	expires := s.now().Add(s.opts.OTPTTL).UTC()

	u := &user.User{
		Email:                      user.NormalizeEmail(req.Email),
		PasswordHash:               hash,
		FirstName:                  strings.TrimSpace(req.FirstName),
		LastName:                   strings.TrimSpace(req.LastName),
		Phone:                      strings.TrimSpace(req.Phone),
		Role:                       user.RoleUser,
		EmailVerificationOTPHash:   digest,
		EmailVerificationExpiresAt: &expires,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return nil, apperror.New(apperror.KindEmailTaken, "This email is already registered")
		}
		return nil, storeError(err)
	}

	s.log.Info("user signed up", zap.String("user_id", u.ID))
	if err := s.mailer.SendVerificationCode(ctx, u.Email, code); err != nil {
		s.log.Error("verification mail failed", zap.String("user_id", u.ID), zap.Error(err))
		return u, apperror.Wrap(apperror.KindMailDeliveryFailed,
			"Account created, but the verification email could not be sent. Request a new code.", err)
	}
	return u, nil
}

// VerifyEmail confirms the address with the mailed code and logs the user in.
// Expiry is checked before the code so an expired code never verifies.
func (s *Service) VerifyEmail(ctx context.Context, email, otp string) (*Session, error) {
	email = user.NormalizeEmail(email)
	if err := s.allow(ctx, ratelimit.VerifyEmail, email); err != nil {
		return nil, err
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, apperror.NotFound("No account with this email")
		}
		return nil, storeError(err)
	}
	if u.IsEmailVerified {
		return nil, apperror.Validation("Email is already verified")
	}

	now := s.now()
	if u.EmailVerificationExpiresAt == nil || now.After(*u.EmailVerificationExpiresAt) {
		return nil, apperror.New(apperror.KindOTPExpired, "Verification code has expired, request a new one")
	}
	if !token.ValidOTPFormat(otp) || !s.secrets.MatchOTP(otp, u.EmailVerificationOTPHash) {
		return nil, apperror.New(apperror.KindOTPMismatch, "Verification code is incorrect")
	}

	if err := s.users.SetEmailVerified(ctx, u.ID); err != nil {
		return nil, storeError(err)
	}
	u.IsEmailVerified = true
	u.EmailVerificationOTPHash = ""
	u.EmailVerificationExpiresAt = nil
	u.FailedLoginAttempts = 0
	u.LockoutUntil = nil

	s.log.Info("email verified", zap.String("user_id", u.ID))
	return s.session(u)
}

// Login checks credentials. Unknown email and wrong password are the same
// error and both cost one bcrypt comparison.
func (s *Service) Login(ctx context.Context, email, plain, ip string) (*Session, error) {
	email = user.NormalizeEmail(email)
	if err := s.allow(ctx, ratelimit.Login, email, ip); err != nil {
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.Verify(ctx, plain, s.hasher.DummyHash())
			metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			return nil, invalidCredentials()
		}
		return nil, storeError(err)
	}

	now := s.now()
	if u.IsLocked(now) {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, apperror.New(apperror.KindAccountLocked, "Too many failed attempts, the account is temporarily locked").
			WithRetryAfter(u.LockoutUntil.Sub(now))
	}

	if !s.hasher.Verify(ctx, plain, u.PasswordHash) {
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		if err := s.recordFailure(ctx, u, now); err != nil {
			return nil, err
		}
		return nil, invalidCredentials()
	}

	if !u.IsEmailVerified {
		metrics.LoginAttempts.WithLabelValues("unverified").Inc()
		return nil, apperror.New(apperror.KindEmailNotVerified, "Verify your email before logging in")
	}

	if u.FailedLoginAttempts > 0 || u.LockoutUntil != nil {
		if err := s.users.ResetFailedAttempts(ctx, u.ID); err != nil {
			return nil, storeError(err)
		}
		u.FailedLoginAttempts = 0
		u.LockoutUntil = nil
	}

	if s.hasher.NeedsRehash(u.PasswordHash) {
		s.upgradeHash(ctx, u, plain)
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	return s.session(u)
}

// upgradeHash re-hashes at the configured cost. Sessions stay valid; a
// failure only means the upgrade is retried on the next login.
func (s *Service) upgradeHash(ctx context.Context, u *user.User, plain string) {
	hash, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		s.log.Warn("rehash password", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	if err := s.users.RehashPassword(ctx, u.ID, u.PasswordHash, hash); err != nil {
		s.log.Warn("store rehashed password", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	u.PasswordHash = hash
}

func (s *Service) recordFailure(ctx context.Context, u *user.User, now time.Time) error {
	n, err := s.users.IncrementFailedAttempts(ctx, u.ID)
	if err != nil {
		return storeError(err)
	}
	if n < s.opts.LockoutThreshold {
		return nil
	}
	until := now.Add(s.opts.LockoutWindow)
	if err := s.users.SetLockout(ctx, u.ID, until); err != nil {
		return storeError(err)
	}
	s.log.Warn("account locked after failed logins",
		zap.String("user_id", u.ID), zap.Int("attempts", n), zap.Time("until", until))
	return nil
}

// ResendVerification mails a fresh code to an unverified account. The result
// is the same whether or not the account exists.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)
	if err := s.allow(ctx, ratelimit.ResendVerification, email); err != nil {
		return err
	}

	u, ok := s.lookupQuietly(ctx, email)
	if !ok || u.IsEmailVerified {
		return nil
	}

	code, digest, err := s.secrets.NewOTP()
	if err != nil {
		return apperror.Internal(err)
	}
	if err := s.users.SetEmailVerification(ctx, u.ID, digest, s.now().Add(s.opts.OTPTTL)); err != nil {
		s.log.Error("store verification code", zap.String("user_id", u.ID), zap.Error(err))
		return nil
	}
	if err := s.mailer.SendVerificationCode(ctx, u.Email, code); err != nil {
		s.log.Error("verification mail failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	return nil
}

// ForgotPassword mails a reset link to verified accounts. The result is the
// same whether or not the account exists.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)
	if err := s.allow(ctx, ratelimit.ForgotPassword, email); err != nil {
		return err
	}

	u, ok := s.lookupQuietly(ctx, email)
	if !ok || !u.IsEmailVerified {
		return nil
	}

	raw, digest, err := s.secrets.NewResetToken()
	if err != nil {
		return apperror.Internal(err)
	}
	if err := s.users.SetPasswordResetToken(ctx, u.ID, digest, s.now().Add(s.opts.ResetTokenTTL)); err != nil {
		s.log.Error("store reset token", zap.String("user_id", u.ID), zap.Error(err))
		return nil
	}
	if err := s.mailer.SendPasswordReset(ctx, u.Email, s.resetURL(raw)); err != nil {
		s.log.Error("reset mail failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	return nil
}

func (s *Service) resetURL(raw string) string {
	return strings.TrimRight(s.opts.AppBaseURL, "/") + "/reset-password?token=" + url.QueryEscape(raw)
}

// ResetPassword sets a new password from a mailed reset token. Every bearer
// issued before the reset stops verifying.
func (s *Service) ResetPassword(ctx context.Context, raw, newPassword string) error {
	if err := s.checkPolicy(newPassword); err != nil {
		return err
	}
	invalid := apperror.New(apperror.KindInvalidOrExpired, "Reset link is invalid or has expired")
	if strings.TrimSpace(raw) == "" {
		return invalid
	}

	u, err := s.users.FindByResetTokenHash(ctx, s.secrets.ResetDigest(raw))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return invalid
		}
		return storeError(err)
	}
	if u.PasswordResetExpiresAt == nil || s.now().After(*u.PasswordResetExpiresAt) {
		return invalid
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return apperror.Internal(err)
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return storeError(err)
	}
	s.log.Info("password reset", zap.String("user_id", u.ID))
	return nil
}

// ChangePassword replaces the caller's password and returns a fresh session,
// since the change revokes every existing bearer including the caller's.
func (s *Service) ChangePassword(ctx context.Context, u *user.User, current, next string) (*Session, error) {
	if !s.hasher.Verify(ctx, current, u.PasswordHash) {
		return nil, apperror.New(apperror.KindInvalidCredentials, "Current password is incorrect")
	}
	if err := s.checkPolicy(next); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return nil, storeError(err)
	}
	fresh, err := s.users.FindByID(ctx, u.ID)
	if err != nil {
		return nil, storeError(err)
	}
	s.log.Info("password changed", zap.String("user_id", u.ID))
	return s.session(fresh)
}

// Logout is a no-op for the token layer unless everywhere is set, which
// revokes all of the user's bearers.
func (s *Service) Logout(ctx context.Context, u *user.User, everywhere bool) error {
	if !everywhere {
		return nil
	}
	if err := s.users.BumpTokenVersion(ctx, u.ID); err != nil {
		return storeError(err)
	}
	s.log.Info("signed out everywhere", zap.String("user_id", u.ID))
	return nil
}

// UpdateProfile applies the self-service fields only.
func (s *Service) UpdateProfile(ctx context.Context, id string, req UpdateProfileRequest) (*user.User, error) {
	patch := req.toPatch()
	for _, f := range []*string{patch.FirstName, patch.LastName, patch.Phone} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
	if (patch.FirstName != nil && *patch.FirstName == "") || (patch.LastName != nil && *patch.LastName == "") {
		return nil, apperror.Validation("Name fields cannot be blank")
	}

	var (
		u   *user.User
		err error
	)
	if patch.Empty() {
		u, err = s.users.FindByID(ctx, id)
	} else {
		u, err = s.users.UpdateProfileFields(ctx, id, patch)
	}
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, apperror.NotFound("User not found")
		}
		return nil, storeError(err)
	}
	return u, nil
}

func (s *Service) session(u *user.User) (*Session, error) {
	tok, exp, err := s.tokens.Issue(u.ID, string(u.Role), u.TokenVersion)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u.Public()}, nil
}

func (s *Service) checkPolicy(pw string) error {
	if err := s.opts.Policy.Validate(pw); err != nil {
		var pe *password.PolicyError
		if errors.As(err, &pe) {
			return apperror.Validation("Password does not meet requirements").
				WithDetails(map[string]any{"password": pe.Violations})
		}
		return apperror.Validation(err.Error())
	}
	return nil
}

func (s *Service) allow(ctx context.Context, endpoint ratelimit.Endpoint, parts ...string) error {
	d, _ := s.limiter.Allow(ctx, endpoint, ratelimit.Key(parts...))
	if d.Allowed {
		return nil
	}
	return apperror.New(apperror.KindRateLimited, "Too many requests, try again later").WithRetryAfter(d.RetryAfter)
}

// lookupQuietly is for flows that must not reveal whether the account
// exists: every failure is logged and reported as absent.
func (s *Service) lookupQuietly(ctx context.Context, email string) (*user.User, bool) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.log.Error("user lookup failed", zap.Error(err))
		}
		return nil, false
	}
	return u, true
}

func invalidCredentials() error {
	return apperror.New(apperror.KindInvalidCredentials, "Email or password is incorrect")
}

func storeError(err error) error {
	if errors.Is(err, user.ErrStoreUnavailable) {
		return apperror.Upstream(err)
	}
	return apperror.Internal(err)
}
