package config

import (
	"cmp"
	"fmt"
	"net/url"
	"os"
	"time"
)

const AdvisorAPIKeyEnv = "AI_GATEWAY_API_KEY"

type AdvisorProvider string

const (
	GatewayProvider AdvisorProvider = "gateway"
	OpenAIProvider  AdvisorProvider = "openai"
)

type AdvisorConfig struct {
	Provider          AdvisorProvider `yaml:"provider"`
	BaseURL           string          `yaml:"base_url"`
	Model             string          `yaml:"model"`
	RequestsPerMinute int             `yaml:"requests_per_minute"`
	Timeout           time.Duration   `yaml:"timeout"`
	Temperature       float32         `yaml:"temperature"`

	APIKey string `yaml:"-"`
}

const (
	_providerDefault          = GatewayProvider
	_baseURLDefault           = "https://ai.gateway.lovable.dev/v1"
	_modelDefault             = "google/gemini-2.5-flash"
	_requestsPerMinuteDefault = 60
	_advisorTimeoutDefault    = 60 * time.Second
	_temperatureDefault       = 0.7
)

func (c *AdvisorConfig) Setup() error {
	c.Provider = cmp.Or(c.Provider, _providerDefault)
	if c.Provider != GatewayProvider && c.Provider != OpenAIProvider {
		return fmt.Errorf("unknown advisor provider %q", c.Provider)
	}
	c.BaseURL = cmp.Or(c.BaseURL, _baseURLDefault)
	if _, err := url.Parse(c.BaseURL); err != nil {
		return err
	}
	c.Model = cmp.Or(c.Model, _modelDefault)
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = _requestsPerMinuteDefault
	}
	if c.Timeout <= 0 {
		c.Timeout = _advisorTimeoutDefault
	}
	if c.Temperature <= 0 {
		c.Temperature = _temperatureDefault
	}
	return nil
}

// LoadAdvisorCredential reads the upstream key from the environment. A missing key is not an
// error here: every advisor request fails with a configuration error instead.
func LoadAdvisorCredential(c *AdvisorConfig) {
	c.APIKey = os.Getenv(AdvisorAPIKeyEnv)
}
