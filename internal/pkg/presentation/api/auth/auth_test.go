package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tokens "github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/auth"
	"github.com/jonboulle/clockwork"
	"github.com/matryer/is"
)

func TestGateRejectsMissingToken(t *testing.T) {
	is, gate, _ := testSetup(t)

	res := serve(gate, "")
	is.Equal(http.StatusUnauthorized, res.Code)
	is.True(strings.Contains(res.Body.String(), "invalid token"))
}

func TestGateRejectsTokenWithBadSignature(t *testing.T) {
	is, gate, _ := testSetup(t)

	other, _ := tokens.NewTokenIssuer("some-other-secret", "", nil)
	token, _ := other.Issue("alice", "operator")

	res := serve(gate, token)
	is.Equal(http.StatusUnauthorized, res.Code)
}

func TestGateAllowsOperatorRole(t *testing.T) {
	is, gate, issuer := testSetup(t)

	token, err := issuer.Issue("alice", "operator")
	is.NoErr(err)

	res := serve(gate, token)
	is.Equal(http.StatusOK, res.Code)
	is.Equal("alice", res.Body.String())
}

func TestGateForbidsUnknownRole(t *testing.T) {
	is, gate, issuer := testSetup(t)

	token, _ := issuer.Issue("eve", "guest")

	res := serve(gate, token)
	is.Equal(http.StatusForbidden, res.Code)
}

func TestGateWithCustomPolicy(t *testing.T) {
	is := is.New(t)

	issuer, _ := tokens.NewTokenIssuer("secret", "", clockwork.NewFakeClockAt(time.Now()))

	gate, err := NewOperatorGate(context.Background(), issuer, strings.NewReader(adminOnlyPolicy))
	is.NoErr(err)

	operator, _ := issuer.Issue("alice", "operator")
	admin, _ := issuer.Issue("root", "administrator")

	is.Equal(http.StatusForbidden, serve(gate, operator).Code)
	is.Equal(http.StatusOK, serve(gate, admin).Code)
}

func TestBadPolicyIsRejected(t *testing.T) {
	is := is.New(t)

	issuer, _ := tokens.NewTokenIssuer("secret", "", nil)

	_, err := NewOperatorGate(context.Background(), issuer, strings.NewReader("package broken\nallow {"))
	is.True(err != nil)
}

func testSetup(t *testing.T) (*is.I, func(http.Handler) http.Handler, *tokens.TokenIssuer) {
	is := is.New(t)

	issuer, err := tokens.NewTokenIssuer("secret", "", clockwork.NewFakeClockAt(time.Now()))
	is.NoErr(err)

	gate, err := NewOperatorGate(context.Background(), issuer, nil)
	is.NoErr(err)

	return is, gate, issuer
}

func serve(gate func(http.Handler) http.Handler, token string) *httptest.ResponseRecorder {
	handler := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(claims.Subject))
	}))

	req := httptest.NewRequest(http.MethodGet, "/operator/telemetry", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	return res
}

const adminOnlyPolicy string = `package telemetry.authz

default allow = false

allow {
	input.role == "administrator"
}
`
