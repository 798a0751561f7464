package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestRegisterIssuesTokenWithDefaultRole(t *testing.T) {
	is, ctx, svc, issuer, clock, _ := testSetup(t)

	token, err := svc.Register(ctx, registration("alice"))
	is.NoErr(err)

	claims, err := issuer.Verify(token)
	is.NoErr(err)
	is.Equal("alice", claims.Subject)
	is.Equal("operator", claims.Role)
	is.True(claims.ExpiresAt.Sub(clock.Now()) > 23*time.Hour)
}

func TestRegisterTwiceIsRejectedWithoutSecondProfile(t *testing.T) {
	is, ctx, svc, _, _, db := testSetup(t)

	_, err := svc.Register(ctx, registration("alice"))
	is.NoErr(err)

	_, err = svc.Register(ctx, registration("alice"))
	is.True(errors.Is(err, ErrUsernameTaken))

	_, err = svc.Login(ctx, "alice", "s3cret")
	is.NoErr(err)

	is.Equal(int64(1), db.count(t, "user_info"))
	is.Equal(int64(1), db.count(t, "users"))
}

func TestRegisterConflictAtInsertKeepsNoProfile(t *testing.T) {
	is, ctx, _, issuer, _, db := testSetup(t)

	// the username check passes, as if another registration committed right after it
	svc := NewAuthService(&staleUsernameCheck{db}, issuer, "operator", bcrypt.MinCost)

	_, err := svc.Register(ctx, registration("alice"))
	is.NoErr(err)

	_, err = svc.Register(ctx, registration("alice"))
	is.True(errors.Is(err, ErrUsernameTaken))

	is.Equal(int64(1), db.count(t, "user_info"))
	is.Equal(int64(1), db.count(t, "users"))
}

func TestRegisterRequiresFields(t *testing.T) {
	is, ctx, svc, _, _, _ := testSetup(t)

	cases := map[string]types.RegisterRequest{
		"username":  {Password: "pw", FullName: strptr("A"), Email: strptr("a@b.c")},
		"password":  {Username: "bob", FullName: strptr("A"), Email: strptr("a@b.c")},
		"full_name": {Username: "bob", Password: "pw", Email: strptr("a@b.c")},
		"email":     {Username: "bob", Password: "pw", FullName: strptr("A")},
	}

	for field, req := range cases {
		_, err := svc.Register(ctx, req)

		var verr *ValidationError
		is.True(errors.As(err, &verr))
		is.Equal(field, verr.Field)
	}
}

func TestRegisterFailsWhenDefaultRoleIsMissing(t *testing.T) {
	is, ctx, _, issuer, _, db := testSetup(t)

	svc := NewAuthService(db, issuer, "superuser", bcrypt.MinCost)

	_, err := svc.Register(ctx, registration("carol"))
	is.True(errors.Is(err, ErrRoleNotConfigured))

	is.True(errors.Is(svc.EnsureDefaultRole(ctx), ErrRoleNotConfigured))
}

func TestLoginReturnsTokenWithAccountRole(t *testing.T) {
	is, ctx, svc, issuer, clock, _ := testSetup(t)

	_, err := svc.Register(ctx, registration("alice"))
	is.NoErr(err)

	token, err := svc.Login(ctx, "alice", "s3cret")
	is.NoErr(err)

	claims, err := issuer.Verify(token)
	is.NoErr(err)
	is.Equal("operator", claims.Role)

	expected := clock.Now().Add(24 * time.Hour)
	is.True(claims.ExpiresAt.Sub(expected) < 2*time.Second)
	is.True(expected.Sub(claims.ExpiresAt) < 2*time.Second)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	is, ctx, svc, _, _, _ := testSetup(t)

	_, err := svc.Register(ctx, registration("alice"))
	is.NoErr(err)

	_, wrongPassword := svc.Login(ctx, "alice", "wrong")
	_, unknownUser := svc.Login(ctx, "mallory", "s3cret")

	is.True(errors.Is(wrongPassword, ErrInvalidCredentials))
	is.True(errors.Is(unknownUser, ErrInvalidCredentials))
	is.Equal(wrongPassword.Error(), unknownUser.Error())
}

func TestTokensSignedWithPreviousSecretAreAccepted(t *testing.T) {
	is := is.New(t)

	clock := clockwork.NewFakeClockAt(time.Now())

	old, err := NewTokenIssuer("old-secret", "", clock)
	is.NoErr(err)
	token, err := old.Issue("alice", "operator")
	is.NoErr(err)

	rotated, err := NewTokenIssuer("new-secret", "old-secret", clock)
	is.NoErr(err)
	claims, err := rotated.Verify(token)
	is.NoErr(err)
	is.Equal("alice", claims.Subject)

	other, _ := NewTokenIssuer("new-secret", "", clock)
	_, err = other.Verify(token)
	is.True(errors.Is(err, ErrInvalidToken))
}

func TestTokenExpiryFollowsIssuerClock(t *testing.T) {
	is := is.New(t)

	clock := clockwork.NewFakeClockAt(time.Date(2001, 1, 1, 12, 0, 0, 0, time.UTC))

	issuer, err := NewTokenIssuer("test-secret", "", clock)
	is.NoErr(err)

	token, err := issuer.Issue("alice", "operator")
	is.NoErr(err)

	claims, err := issuer.Verify(token)
	is.NoErr(err)
	is.True(claims.ExpiresAt.Equal(clock.Now().Add(TokenLifetime)))

	clock.Advance(TokenLifetime - time.Minute)
	_, err = issuer.Verify(token)
	is.NoErr(err)

	clock.Advance(2 * time.Minute)
	_, err = issuer.Verify(token)
	is.True(errors.Is(err, ErrInvalidToken))
}

func TestTokenIssuerRequiresSecret(t *testing.T) {
	is := is.New(t)

	_, err := NewTokenIssuer("", "", nil)
	is.True(err != nil)
}

type testStore struct {
	database.Datastore
	gdb *gorm.DB
}

func (s *testStore) count(t *testing.T, table string) int64 {
	var n int64
	if err := s.gdb.Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %s", err.Error())
	}
	return n
}

type staleUsernameCheck struct {
	database.AccountRepository
}

func (s *staleUsernameCheck) UsernameExists(ctx context.Context, username string) (bool, error) {
	return false, nil
}

func testSetup(t *testing.T) (*is.I, context.Context, AuthService, *TokenIssuer, clockwork.FakeClock, *testStore) {
	is := is.New(t)
	ctx := context.Background()

	var gdb *gorm.DB
	connect := database.NewSQLiteConnector(zerolog.Logger{})

	store, err := database.New(func() (*gorm.DB, zerolog.Logger, error) {
		d, log, err := connect()
		gdb = d
		return d, log, err
	})
	is.NoErr(err)
	t.Cleanup(func() { store.Close() })

	db := &testStore{Datastore: store, gdb: gdb}

	is.NoErr(db.Seed(ctx, database.Catalog{Roles: []string{"operator", "administrator"}}))

	clock := clockwork.NewFakeClockAt(time.Now())

	issuer, err := NewTokenIssuer("test-secret", "", clock)
	is.NoErr(err)

	svc := NewAuthService(db, issuer, "operator", bcrypt.MinCost)

	return is, ctx, svc, issuer, clock, db
}

func registration(username string) types.RegisterRequest {
	return types.RegisterRequest{
		Username: username,
		Password: "s3cret",
		FullName: strptr("Test Person"),
		Email:    strptr(username + "@example.com"),
	}
}

func strptr(s string) *string {
	return &s
}
