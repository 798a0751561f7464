package application

import (
	"fmt"
	"io"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v2"
)

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type MetricTypeConfig struct {
	ID          int     `yaml:"id"`
	Name        string  `yaml:"name"`
	Description *string `yaml:"description"`
	Warning     *string `yaml:"warning"`
	Critical    *string `yaml:"critical"`
}

type Config struct {
	Roles         []string           `yaml:"roles"`
	MetricTypes   []MetricTypeConfig `yaml:"metricTypes"`
	Notifications []Notification     `yaml:"notifications"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig is used when no configuration file is supplied.
func DefaultConfig() *Config {
	desc := func(s string) *string { return &s }

	return &Config{
		Roles: []string{"operator", "administrator"},
		MetricTypes: []MetricTypeConfig{
			{ID: 1, Name: "cpu_usage", Description: desc("CPU utilisation in percent"), Warning: desc("75.00"), Critical: desc("90.00")},
			{ID: 2, Name: "memory_usage", Description: desc("Memory utilisation in percent"), Warning: desc("80.00"), Critical: desc("95.00")},
			{ID: 3, Name: "latency_ms", Description: desc("Round trip latency in milliseconds"), Warning: desc("50.00"), Critical: desc("80.00")},
			{ID: 4, Name: "packet_loss", Description: desc("Packet loss in percent"), Warning: desc("5.00"), Critical: desc("10.00")},
			{ID: 5, Name: "bandwidth_usage", Description: desc("Link utilisation in percent"), Warning: desc("85.00"), Critical: desc("95.00")},
		},
	}
}

// Catalog converts the configured roles and metric types to seed data for the datastore.
func (c *Config) Catalog() (database.Catalog, error) {
	catalog := database.Catalog{
		Roles: c.Roles,
	}

	for _, mt := range c.MetricTypes {
		if mt.ID <= 0 || mt.Name == "" {
			return database.Catalog{}, fmt.Errorf("metric type must have a positive id and a name (id: %d)", mt.ID)
		}

		warning, err := parseLevel(mt.Warning)
		if err != nil {
			return database.Catalog{}, fmt.Errorf("bad warning level for metric type %s: %w", mt.Name, err)
		}

		critical, err := parseLevel(mt.Critical)
		if err != nil {
			return database.Catalog{}, fmt.Errorf("bad critical level for metric type %s: %w", mt.Name, err)
		}

		catalog.MetricTypes = append(catalog.MetricTypes, database.MetricTypeEntry{
			ID:            mt.ID,
			Name:          mt.Name,
			Description:   mt.Description,
			WarningLevel:  warning,
			CriticalLevel: critical,
		})
	}

	return catalog, nil
}

func (c *Config) Subscribers(eventType string) []string {
	endpoints := []string{}
	for _, n := range c.Notifications {
		if n.Type != eventType {
			continue
		}
		for _, s := range n.Subscribers {
			endpoints = append(endpoints, s.Endpoint)
		}
	}
	return endpoints
}

func parseLevel(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}

	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}

	d = d.Round(2)
	return &d, nil
}
