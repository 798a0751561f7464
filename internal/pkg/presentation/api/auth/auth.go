package auth

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	tokens "github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/auth"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/go-chi/jwtauth/v5"
	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel"
)

//go:embed authz.rego
var defaultPolicy string

type claimsContextKey struct {
	name string
}

var claimsCtxKey = &claimsContextKey{"claims"}

var tracer = otel.Tracer("iot-telemetry-mgmt/authz")

type TokenVerifier interface {
	Verify(tokenString string) (tokens.Claims, error)
}

// NewOperatorGate returns a middleware that requires a valid bearer token whose role is
// allowed by the policy module. The built in policy is used if policies is nil.
func NewOperatorGate(ctx context.Context, verifier TokenVerifier, policies io.Reader) (func(http.Handler) http.Handler, error) {
	module := defaultPolicy

	if policies != nil {
		b, err := io.ReadAll(policies)
		if err != nil {
			return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
		}
		module = string(b)
	}

	query, err := rego.New(
		rego.Query("x = data.telemetry.authz.allow"),
		rego.Module("telemetry.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error

			ctx, span := tracer.Start(r.Context(), "check-auth")
			defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

			logger := logging.GetFromContext(ctx)

			tokenString := jwtauth.TokenFromHeader(r)
			if tokenString == "" {
				err = errors.New("authorization header missing")
				logger.Info().Msg(err.Error())
				writeMessage(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				logger.Info().Err(err).Msg("token rejected")
				writeMessage(w, http.StatusUnauthorized, "invalid token")
				return
			}

			input := map[string]any{
				"subject": claims.Subject,
				"role":    claims.Role,
				"method":  r.Method,
				"path":    r.URL.Path,
			}

			results, err := query.Eval(ctx, rego.EvalInput(input))
			if err != nil {
				logger.Error().Err(err).Msg("opa eval failed")
				writeMessage(w, http.StatusInternalServerError, "authorization failed")
				return
			}

			if len(results) == 0 {
				err = errors.New("opa query could not be satisfied")
				logger.Error().Err(err).Msg("auth failed")
				writeMessage(w, http.StatusInternalServerError, "authorization failed")
				return
			}

			allowed, ok := results[0].Bindings["x"].(bool)
			if !ok || !allowed {
				err = errors.New("authorization failed")
				logger.Warn().Str("subject", claims.Subject).Str("role", claims.Role).Msg(err.Error())
				writeMessage(w, http.StatusForbidden, "forbidden")
				return
			}

			r = r.WithContext(WithClaims(r.Context(), claims))

			next.ServeHTTP(w, r)
		})
	}, nil
}

func WithClaims(ctx context.Context, claims tokens.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext returns the claims of the verified token of the request, if any.
func ClaimsFromContext(ctx context.Context) (tokens.Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(tokens.Claims)
	return claims, ok
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	b, _ := json.Marshal(types.ErrorResponse{Message: message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
