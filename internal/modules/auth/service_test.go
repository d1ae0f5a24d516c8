package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/ratelimit"
	"fitstudio/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testUserID   = "65a1f0c2e4b0a1b2c3d4e5f6"
	goodPassword = "GoodP@ss1"
)

// Mock user store implementing UserStore
type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) Create(ctx context.Context, u *user.User) error {
	args := m.Called(ctx, u)
	if args.Error(0) == nil && u.ID == "" {
		u.ID = testUserID
	}
	return args.Error(0)
}

func (m *mockUserStore) userResult(args mock.Arguments) (*user.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *mockUserStore) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return m.userResult(m.Called(ctx, email))
}

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*user.User, error) {
	return m.userResult(m.Called(ctx, id))
}

func (m *mockUserStore) FindByResetTokenHash(ctx context.Context, hash string) (*user.User, error) {
	return m.userResult(m.Called(ctx, hash))
}

func (m *mockUserStore) UpdateProfileFields(ctx context.Context, id string, patch user.ProfilePatch) (*user.User, error) {
	return m.userResult(m.Called(ctx, id, patch))
}

func (m *mockUserStore) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockUserStore) ResetFailedAttempts(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserStore) SetLockout(ctx context.Context, id string, until time.Time) error {
	return m.Called(ctx, id, until).Error(0)
}

func (m *mockUserStore) SetEmailVerification(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	return m.Called(ctx, id, otpHash, expiresAt).Error(0)
}

func (m *mockUserStore) SetEmailVerified(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserStore) SetPasswordResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	return m.Called(ctx, id, hash, expiresAt).Error(0)
}

func (m *mockUserStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

func (m *mockUserStore) RehashPassword(ctx context.Context, id, oldHash, newHash string) error {
	return m.Called(ctx, id, oldHash, newHash).Error(0)
}

func (m *mockUserStore) BumpTokenVersion(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// fakeHasher prefixes instead of running bcrypt and counts verifications.
type fakeHasher struct {
	mu       sync.Mutex
	verified []string
	stale    bool
}

func (h *fakeHasher) Hash(_ context.Context, plain string) (string, error) {
	return "hashed:" + plain, nil
}

func (h *fakeHasher) Verify(_ context.Context, plain, hash string) bool {
	h.mu.Lock()
	h.verified = append(h.verified, hash)
	h.mu.Unlock()
	return hash == "hashed:"+plain
}

func (h *fakeHasher) DummyHash() string { return "dummy" }

func (h *fakeHasher) NeedsRehash(string) bool { return h.stale }

type sentMail struct {
	kind, to, payload string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendVerificationCode(_ context.Context, email, code string) error {
	m.sent = append(m.sent, sentMail{"code", email, code})
	return m.err
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, email, resetURL string) error {
	m.sent = append(m.sent, sentMail{"reset", email, resetURL})
	return m.err
}

type fakeLimiter struct {
	deny bool
	keys []string
}

func (l *fakeLimiter) Allow(_ context.Context, endpoint ratelimit.Endpoint, key string) (ratelimit.Decision, error) {
	l.keys = append(l.keys, string(endpoint)+"="+key)
	if l.deny {
		return ratelimit.Decision{Allowed: false, RetryAfter: 30 * time.Second}, nil
	}
	return ratelimit.Decision{Allowed: true}, nil
}

type fixture struct {
	svc     *Service
	store   *mockUserStore
	hasher  *fakeHasher
	mailer  *fakeMailer
	limiter *fakeLimiter
	secrets *token.Secrets
	tokens  *token.Service
	now     time.Time
}

func newFixture() *fixture {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &fixture{
		store:   new(mockUserStore),
		hasher:  &fakeHasher{},
		mailer:  &fakeMailer{},
		limiter: &fakeLimiter{},
		secrets: token.NewSecrets("test-pepper").WithOTPSource(func() (string, error) { return "123456", nil }),
		tokens:  token.NewService("auth-test-secret-of-32-bytes!!!!", time.Hour, 0).WithClock(clock),
		now:     now,
	}
	f.svc = NewService(f.store, f.hasher, f.tokens, f.secrets, f.mailer, f.limiter,
		Options{AppBaseURL: "https://app.example.com/"}, nil).WithClock(clock)
	return f
}

func (f *fixture) verifiedUser() *user.User {
	return &user.User{
		ID:              testUserID,
		Email:           "a@b.com",
		Role:            user.RoleUser,
		PasswordHash:    "hashed:" + goodPassword,
		IsEmailVerified: true,
		TokenVersion:    2,
	}
}

func requireKind(t *testing.T, err error, kind apperror.Kind) *apperror.Error {
	t.Helper()
	require.Error(t, err)
	var ae *apperror.Error
	require.True(t, errors.As(err, &ae), "expected *apperror.Error, got %T: %v", err, err)
	assert.Equal(t, kind, ae.Kind)
	return ae
}

func TestService_Signup_Success(t *testing.T) {
	f := newFixture()
	f.store.On("Create", mock.Anything, mock.MatchedBy(func(u *user.User) bool {
		return u.Email == "a@b.com" &&
			u.PasswordHash == "hashed:"+goodPassword &&
			u.Role == user.RoleUser &&
			!u.IsEmailVerified &&
			f.secrets.MatchOTP("123456", u.EmailVerificationOTPHash) &&
			u.EmailVerificationExpiresAt != nil && u.EmailVerificationExpiresAt.Equal(f.now.Add(DefaultOTPTTL))
	})).Return(nil)

	u, err := f.svc.Signup(context.Background(), SignupRequest{
		Email: "  A@B.com ", Password: goodPassword, FirstName: "A", LastName: "B",
	})

	require.NoError(t, err)
	assert.Equal(t, testUserID, u.ID)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, sentMail{"code", "a@b.com", "123456"}, f.mailer.sent[0])
	f.store.AssertExpectations(t)
}

func TestService_Signup_PolicyViolationNeverTouchesStore(t *testing.T) {
	for _, pw := range []string{"alllower1!", "ALLUPPER1!", "NoDigits!!", "NoSpecial11", "Sh0rt!", strings.Repeat("Aa1!", 19)} {
		t.Run(pw, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Signup(context.Background(), SignupRequest{Email: "a@b.com", Password: pw, FirstName: "A", LastName: "B"})
			requireKind(t, err, apperror.KindValidationFailed)
			f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			assert.Empty(t, f.mailer.sent)
		})
	}
}

func TestService_Signup_EmailTaken(t *testing.T) {
	f := newFixture()
	f.store.On("Create", mock.Anything, mock.Anything).Return(user.ErrEmailTaken)

	_, err := f.svc.Signup(context.Background(), SignupRequest{Email: "a@b.com", Password: goodPassword, FirstName: "A", LastName: "B"})

	requireKind(t, err, apperror.KindEmailTaken)
	assert.Empty(t, f.mailer.sent)
}

func TestService_Signup_MailFailureKeepsUser(t *testing.T) {
	f := newFixture()
	f.store.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.mailer.err = errors.New("smtp down")

	u, err := f.svc.Signup(context.Background(), SignupRequest{Email: "a@b.com", Password: goodPassword, FirstName: "A", LastName: "B"})

	requireKind(t, err, apperror.KindMailDeliveryFailed)
	require.NotNil(t, u)
	assert.Equal(t, testUserID, u.ID)
}

func TestService_Login_UnknownEmailStillVerifies(t *testing.T) {
	f := newFixture()
	f.store.On("FindByEmail", mock.Anything, "ghost@b.com").Return(nil, user.ErrNotFound)

	_, err := f.svc.Login(context.Background(), "Ghost@b.com", goodPassword, "10.0.0.1")

	requireKind(t, err, apperror.KindInvalidCredentials)
	assert.Equal(t, []string{"dummy"}, f.hasher.verified)
	assert.Equal(t, []string{"login=ghost@b.com|10.0.0.1"}, f.limiter.keys)
}

func TestService_Login_WrongPasswordSameErrorAndOneVerify(t *testing.T) {
	f := newFixture()
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.verifiedUser(), nil)
	f.store.On("IncrementFailedAttempts", mock.Anything, testUserID).Return(1, nil)

	_, err := f.svc.Login(context.Background(), "a@b.com", "WrongP@ss1", "10.0.0.1")

	ae := requireKind(t, err, apperror.KindInvalidCredentials)
	assert.Equal(t, "Email or password is incorrect", ae.Message)
	assert.Len(t, f.hasher.verified, 1)
	f.store.AssertNotCalled(t, "SetLockout", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Login_LocksAtThreshold(t *testing.T) {
	f := newFixture()
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.verifiedUser(), nil)
	f.store.On("IncrementFailedAttempts", mock.Anything, testUserID).Return(DefaultLockoutThreshold, nil)
	f.store.On("SetLockout", mock.Anything, testUserID, f.now.Add(DefaultLockoutWindow)).Return(nil)

	_, err := f.svc.Login(context.Background(), "a@b.com", "WrongP@ss1", "10.0.0.1")

	requireKind(t, err, apperror.KindInvalidCredentials)
	f.store.AssertExpectations(t)
}

func TestService_Login_LockedEvenWithCorrectPassword(t *testing.T) {
	f := newFixture()
	u := f.verifiedUser()
	until := f.now.Add(14*time.Minute + 30*time.Second)
	u.LockoutUntil = &until
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(u, nil)

	_, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	ae := requireKind(t, err, apperror.KindAccountLocked)
	assert.Equal(t, 14*time.Minute+30*time.Second, ae.RetryAfter)
	f.store.AssertNotCalled(t, "ResetFailedAttempts", mock.Anything, mock.Anything)
}

func TestService_Login_ExpiredLockoutIsIgnored(t *testing.T) {
	f := newFixture()
	u := f.verifiedUser()
	past := f.now.Add(-time.Second)
	u.LockoutUntil = &past
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(u, nil)
	f.store.On("ResetFailedAttempts", mock.Anything, testUserID).Return(nil)

	session, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	f.store.AssertExpectations(t)
}

func TestService_Login_Unverified(t *testing.T) {
	f := newFixture()
	u := f.verifiedUser()
	u.IsEmailVerified = false
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(u, nil)

	_, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	requireKind(t, err, apperror.KindEmailNotVerified)
}

func TestService_Login_SuccessResetsCounter(t *testing.T) {
	f := newFixture()
	u := f.verifiedUser()
	u.FailedLoginAttempts = 3
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(u, nil)
	f.store.On("ResetFailedAttempts", mock.Anything, testUserID).Return(nil)

	session, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	require.NoError(t, err)
	claims, err := f.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, testUserID, claims.UserID)
	assert.Equal(t, int64(2), claims.TokenVersion)
	assert.Equal(t, f.now.Add(time.Hour), session.ExpiresAt)
	f.store.AssertExpectations(t)
}

func TestService_Login_SkipsResetWhenClean(t *testing.T) {
	f := newFixture()
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.verifiedUser(), nil)

	_, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	require.NoError(t, err)
	f.store.AssertNotCalled(t, "ResetFailedAttempts", mock.Anything, mock.Anything)
}

func TestService_Login_UpgradesStaleHash(t *testing.T) {
	f := newFixture()
	f.hasher.stale = true
	u := f.verifiedUser()
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(u, nil)
	f.store.On("RehashPassword", mock.Anything, testUserID, "hashed:"+goodPassword, "hashed:"+goodPassword).Return(nil)

	session, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	require.NoError(t, err)
	claims, err := f.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), claims.TokenVersion)
	f.store.AssertExpectations(t)
	f.store.AssertNotCalled(t, "SetPasswordHash", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "BumpTokenVersion", mock.Anything, mock.Anything)
}

func TestService_Login_RehashFailureStillLogsIn(t *testing.T) {
	f := newFixture()
	f.hasher.stale = true
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.verifiedUser(), nil)
	f.store.On("RehashPassword", mock.Anything, testUserID, mock.Anything, mock.Anything).Return(user.ErrStoreUnavailable)

	_, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	require.NoError(t, err)
}

func TestService_Login_RateLimited(t *testing.T) {
	f := newFixture()
	f.limiter.deny = true

	_, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	ae := requireKind(t, err, apperror.KindRateLimited)
	assert.Equal(t, 30*time.Second, ae.RetryAfter)
	f.store.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
}

func TestService_Login_StoreUnavailable(t *testing.T) {
	f := newFixture()
	f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(nil, user.ErrStoreUnavailable)

	_, err := f.svc.Login(context.Background(), "a@b.com", goodPassword, "10.0.0.1")

	requireKind(t, err, apperror.KindUpstream)
}

func (f *fixture) pendingUser(expires time.Time) *user.User {
	_, digest, _ := f.secrets.NewOTP()
	u := f.verifiedUser()
	u.IsEmailVerified = false
	u.EmailVerificationOTPHash = digest
	u.EmailVerificationExpiresAt = &expires
	u.FailedLoginAttempts = 2
	return u
}

func TestService_VerifyEmail(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.pendingUser(f.now.Add(time.Minute)), nil)
		f.store.On("SetEmailVerified", mock.Anything, testUserID).Return(nil)

		session, err := f.svc.VerifyEmail(context.Background(), "A@b.com", "123456")

		require.NoError(t, err)
		assert.True(t, session.User.IsEmailVerified)
		assert.NotEmpty(t, session.Token)
		assert.Equal(t, []string{"verify-email=a@b.com"}, f.limiter.keys)
	})

	t.Run("expired code is checked before matching", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.pendingUser(f.now.Add(-time.Second)), nil)

		_, err := f.svc.VerifyEmail(context.Background(), "a@b.com", "123456")

		requireKind(t, err, apperror.KindOTPExpired)
		f.store.AssertNotCalled(t, "SetEmailVerified", mock.Anything, mock.Anything)
	})

	t.Run("mismatch", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.pendingUser(f.now.Add(time.Minute)), nil)

		for _, code := range []string{"654321", "12345", "abcdef", ""} {
			_, err := f.svc.VerifyEmail(context.Background(), "a@b.com", code)
			requireKind(t, err, apperror.KindOTPMismatch)
		}
		f.store.AssertNotCalled(t, "SetEmailVerified", mock.Anything, mock.Anything)
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "x@b.com").Return(nil, user.ErrNotFound)

		_, err := f.svc.VerifyEmail(context.Background(), "x@b.com", "123456")
		requireKind(t, err, apperror.KindNotFound)
	})
}

func TestService_ResendVerification(t *testing.T) {
	t.Run("unverified gets a fresh code", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.pendingUser(f.now), nil)
		f.store.On("SetEmailVerification", mock.Anything, testUserID, mock.AnythingOfType("string"), f.now.Add(DefaultOTPTTL)).Return(nil)

		require.NoError(t, f.svc.ResendVerification(context.Background(), "a@b.com"))
		require.Len(t, f.mailer.sent, 1)
		assert.Equal(t, "123456", f.mailer.sent[0].payload)
	})

	t.Run("unknown and verified are silent", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "x@b.com").Return(nil, user.ErrNotFound)
		f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.verifiedUser(), nil)

		require.NoError(t, f.svc.ResendVerification(context.Background(), "x@b.com"))
		require.NoError(t, f.svc.ResendVerification(context.Background(), "a@b.com"))
		assert.Empty(t, f.mailer.sent)
	})
}

func TestService_ForgotPassword(t *testing.T) {
	t.Run("unknown address looks the same", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "x@b.com").Return(nil, user.ErrNotFound)

		assert.NoError(t, f.svc.ForgotPassword(context.Background(), "x@b.com"))
		assert.Empty(t, f.mailer.sent)
	})

	t.Run("verified user gets a link whose token matches the stored digest", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.verifiedUser(), nil)
		var stored string
		f.store.On("SetPasswordResetToken", mock.Anything, testUserID, mock.AnythingOfType("string"), f.now.Add(DefaultResetTokenTTL)).
			Run(func(args mock.Arguments) { stored = args.String(2) }).Return(nil)

		require.NoError(t, f.svc.ForgotPassword(context.Background(), "a@b.com"))

		require.Len(t, f.mailer.sent, 1)
		link, err := url.Parse(f.mailer.sent[0].payload)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(f.mailer.sent[0].payload, "https://app.example.com/reset-password?token="))
		raw := link.Query().Get("token")
		assert.Equal(t, stored, f.secrets.ResetDigest(raw))
		assert.NotContains(t, stored, raw)
	})

	t.Run("mail failure is not reported", func(t *testing.T) {
		f := newFixture()
		f.mailer.err = errors.New("down")
		f.store.On("FindByEmail", mock.Anything, "a@b.com").Return(f.verifiedUser(), nil)
		f.store.On("SetPasswordResetToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		assert.NoError(t, f.svc.ForgotPassword(context.Background(), "a@b.com"))
	})
}

func TestService_ResetPassword(t *testing.T) {
	t.Run("policy is checked before any lookup", func(t *testing.T) {
		f := newFixture()
		err := f.svc.ResetPassword(context.Background(), "raw", "weak")
		requireKind(t, err, apperror.KindValidationFailed)
		f.store.AssertNotCalled(t, "FindByResetTokenHash", mock.Anything, mock.Anything)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture()
		f.store.On("FindByResetTokenHash", mock.Anything, f.secrets.ResetDigest("raw")).Return(nil, user.ErrNotFound)
		err := f.svc.ResetPassword(context.Background(), "raw", "NewP@ss2")
		requireKind(t, err, apperror.KindInvalidOrExpired)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture()
		u := f.verifiedUser()
		past := f.now.Add(-time.Minute)
		u.PasswordResetExpiresAt = &past
		f.store.On("FindByResetTokenHash", mock.Anything, f.secrets.ResetDigest("raw")).Return(u, nil)

		err := f.svc.ResetPassword(context.Background(), "raw", "NewP@ss2")
		requireKind(t, err, apperror.KindInvalidOrExpired)
		f.store.AssertNotCalled(t, "SetPasswordHash", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture()
		u := f.verifiedUser()
		future := f.now.Add(time.Minute)
		u.PasswordResetExpiresAt = &future
		f.store.On("FindByResetTokenHash", mock.Anything, f.secrets.ResetDigest("raw")).Return(u, nil)
		f.store.On("SetPasswordHash", mock.Anything, testUserID, "hashed:NewP@ss2").Return(nil)

		require.NoError(t, f.svc.ResetPassword(context.Background(), "raw", "NewP@ss2"))
		f.store.AssertExpectations(t)
	})
}

func TestService_ChangePassword(t *testing.T) {
	f := newFixture()
	u := f.verifiedUser()
	bumped := f.verifiedUser()
	bumped.TokenVersion = 3
	f.store.On("SetPasswordHash", mock.Anything, testUserID, "hashed:NewP@ss2").Return(nil)
	f.store.On("FindByID", mock.Anything, testUserID).Return(bumped, nil)

	_, err := f.svc.ChangePassword(context.Background(), u, "wrong", "NewP@ss2")
	requireKind(t, err, apperror.KindInvalidCredentials)

	session, err := f.svc.ChangePassword(context.Background(), u, goodPassword, "NewP@ss2")
	require.NoError(t, err)
	claims, err := f.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.TokenVersion)
}

func TestService_Logout(t *testing.T) {
	f := newFixture()
	u := f.verifiedUser()
	f.store.On("BumpTokenVersion", mock.Anything, testUserID).Return(nil).Once()

	require.NoError(t, f.svc.Logout(context.Background(), u, false))
	require.NoError(t, f.svc.Logout(context.Background(), u, true))
	f.store.AssertExpectations(t)
}

func TestService_UpdateProfile(t *testing.T) {
	f := newFixture()
	updated := f.verifiedUser()
	updated.FirstName = "C"
	f.store.On("UpdateProfileFields", mock.Anything, testUserID, mock.MatchedBy(func(p user.ProfilePatch) bool {
		return p.FirstName != nil && *p.FirstName == "C" && p.LastName == nil && p.Phone == nil
	})).Return(updated, nil)

	first := "  C "
	got, err := f.svc.UpdateProfile(context.Background(), testUserID, UpdateProfileRequest{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "C", got.FirstName)

	blank := " "
	_, err = f.svc.UpdateProfile(context.Background(), testUserID, UpdateProfileRequest{LastName: &blank})
	requireKind(t, err, apperror.KindValidationFailed)
}
