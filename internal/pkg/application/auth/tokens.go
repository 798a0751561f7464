package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/jonboulle/clockwork"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const TokenLifetime = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// Claims are the verified contents of an identity token.
type Claims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer signs HS256 identity tokens. Tokens signed with the previous secret are
// still accepted by Verify so that the signing secret can be rotated. Both issuing and
// expiry checks use the same clock.
type TokenIssuer struct {
	signer     *jwtauth.JWTAuth
	verifyKeys [][]byte
	clock      clockwork.Clock
}

func NewTokenIssuer(secret, previousSecret string, clock clockwork.Clock) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("a token signing secret is required")
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ti := &TokenIssuer{
		signer:     jwtauth.New(jwa.HS256.String(), []byte(secret), nil),
		verifyKeys: [][]byte{[]byte(secret)},
		clock:      clock,
	}

	if previousSecret != "" && previousSecret != secret {
		ti.verifyKeys = append(ti.verifyKeys, []byte(previousSecret))
	}

	return ti, nil
}

func (ti *TokenIssuer) Issue(username, role string) (string, error) {
	now := ti.clock.Now().UTC()

	claims := map[string]any{
		"sub":  username,
		"role": role,
	}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, now.Add(TokenLifetime))

	_, tokenString, err := ti.signer.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// Verify checks the signature and expiry of tokenString and returns its claims.
func (ti *TokenIssuer) Verify(tokenString string) (Claims, error) {
	token, err := ti.parse(tokenString)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	err = jwt.Validate(token, jwt.WithClock(jwt.ClockFunc(ti.clock.Now)))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims := Claims{
		Subject:   token.Subject(),
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
	}

	if role, ok := token.Get("role"); ok {
		claims.Role, _ = role.(string)
	}

	return claims, nil
}

func (ti *TokenIssuer) parse(tokenString string) (jwt.Token, error) {
	var err error

	for _, key := range ti.verifyKeys {
		var token jwt.Token
		token, err = jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, key), jwt.WithValidate(false))
		if err == nil {
			return token, nil
		}
	}

	return nil, err
}
