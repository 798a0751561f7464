package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestFetchEvents(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal("/events", r.URL.Path)
		is.Equal(http.MethodGet, r.Method)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(eventsJson))
	}))
	defer server.Close()

	c := NewTelemetrySourceClient(server.URL+"/", time.Second)

	events, err := c.FetchEvents(context.Background())
	is.NoErr(err)
	is.Equal(2, len(events))
	is.Equal("Router-01", events[0].DeviceName)
	is.Equal(3, events[0].MetricTypeID)
	is.Equal("Москва, ЦОД-1", *events[0].Location)
	is.True(events[1].Location == nil)
}

func TestFetchEventsFromEmptyBuffer(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	events, err := NewTelemetrySourceClient(server.URL, time.Second).FetchEvents(context.Background())
	is.NoErr(err)
	is.Equal(0, len(events))
}

func TestFetchEventsWithMalformedPayload(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"device_name":"not an array"}`))
	}))
	defer server.Close()

	_, err := NewTelemetrySourceClient(server.URL, time.Second).FetchEvents(context.Background())
	is.True(errors.Is(err, ErrMalformedPayload))
}

func TestFetchEventsWhenSourceIsDown(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewTelemetrySourceClient(url, time.Second).FetchEvents(context.Background())
	is.True(errors.Is(err, ErrSourceUnavailable))
}

func TestFetchEventsWithErrorStatus(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewTelemetrySourceClient(server.URL, time.Second).FetchEvents(context.Background())
	is.True(errors.Is(err, ErrSourceUnavailable))
}

func TestFetchEventsTimesOut(t *testing.T) {
	is := is.New(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewTelemetrySourceClient(server.URL, 50*time.Millisecond).FetchEvents(context.Background())
	is.True(errors.Is(err, ErrSourceUnavailable))
}

func TestFetchEventsWithClientCredentials(t *testing.T) {
	is := is.New(t)

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"s3cr3t","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal("Bearer s3cr3t", r.Header.Get("Authorization"))
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	c := NewTelemetrySourceClient(server.URL, time.Second, WithClientCredentials(tokenServer.URL, "poller", "password"))

	events, err := c.FetchEvents(context.Background())
	is.NoErr(err)
	is.Equal(0, len(events))
}

const eventsJson string = `[
	{"device_name":"Router-01","ip_address":"192.168.1.1","location":"Москва, ЦОД-1","metric_type_id":3,"metric_value":42.5,"action_description":"High latency detected"},
	{"device_name":"Switch-02","ip_address":"10.0.0.1","metric_type_id":1,"metric_value":91.0}
]`
