package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrSourceUnavailable = errors.New("telemetry source unavailable")
var ErrMalformedPayload = errors.New("malformed telemetry payload")

type TelemetrySourceClient interface {
	// FetchEvents retrieves the events buffered by the source. The source drains its
	// buffer on every successful fetch.
	FetchEvents(ctx context.Context) ([]types.TelemetryEvent, error)
}

type sourceClient struct {
	url        string
	httpClient http.Client
}

var tracer = otel.Tracer("telemetry-source-client")

type Option func(*sourceClient)

// WithClientCredentials makes the client fetch an access token from tokenURL and send it
// as a bearer token with every request.
func WithClientCredentials(tokenURL, clientID, clientSecret string) Option {
	return func(c *sourceClient) {
		oauthConfig := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}

		base := c.httpClient
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &base)

		authenticated := oauthConfig.Client(ctx)
		authenticated.Timeout = base.Timeout

		c.httpClient = *authenticated
	}
}

// NewTelemetrySourceClient creates a client for the source at sourceURL. Every request
// is bounded by timeout.
func NewTelemetrySourceClient(sourceURL string, timeout time.Duration, options ...Option) TelemetrySourceClient {
	c := &sourceClient{
		url: strings.TrimSuffix(sourceURL, "/"),
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

func (c *sourceClient) FetchEvents(ctx context.Context) ([]types.TelemetryEvent, error) {
	var err error
	ctx, span := tracer.Start(ctx, "fetch-telemetry-events")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	url := c.url + "/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err = fmt.Errorf("failed to create http request: %w", err)
		return nil, err
	}
	req.Header.Add("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrSourceUnavailable, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: request failed with status code %d", ErrSourceUnavailable, resp.StatusCode)
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("%w: failed to read response body: %s", ErrSourceUnavailable, err.Error())
		return nil, err
	}

	events := []types.TelemetryEvent{}

	err = json.Unmarshal(respBody, &events)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrMalformedPayload, err.Error())
		return nil, err
	}

	log.Debug().Msgf("fetched %d events from %s", len(events), url)

	return events, nil
}
