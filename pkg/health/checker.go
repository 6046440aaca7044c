// Package health probes a running port server through its admin API
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nebari-dev/portserver/pkg/api"
	"github.com/nebari-dev/portserver/pkg/logger"
)

// CheckConfig holds configuration for health checking
type CheckConfig struct {
	BaseURL          string        // admin API root, e.g. http://127.0.0.1:9100
	Timeout          time.Duration // overall budget for WaitUntilReady
	Interval         time.Duration // interval between checks
	SuccessThreshold int           // consecutive successes required
	HTTPTimeout      time.Duration // timeout for each request
}

// DefaultCheckConfig returns defaults for an admin API at adminAddress,
// given either as host:port or as a URL
func DefaultCheckConfig(adminAddress string) CheckConfig {
	base := adminAddress
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return CheckConfig{
		BaseURL:          strings.TrimSuffix(base, "/"),
		Timeout:          30 * time.Second,
		Interval:         250 * time.Millisecond,
		SuccessThreshold: 1,
		HTTPTimeout:      2 * time.Second,
	}
}

// Checker polls the admin API
type Checker struct {
	config CheckConfig
	logger *logger.Logger
	client *http.Client
}

// NewChecker creates a new health checker
func NewChecker(cfg CheckConfig, log *logger.Logger) *Checker {
	if cfg.Interval == 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 2 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}

	return &Checker{
		config: cfg,
		logger: log.WithComponent("health-checker"),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (c *Checker) healthURL() string { return c.config.BaseURL + "/healthz" }

// WaitUntilReady polls /healthz until it succeeds SuccessThreshold times in
// a row or the timeout expires
func (c *Checker) WaitUntilReady(ctx context.Context) error {
	url := c.healthURL()
	c.logger.Debug("waiting for port server", "url", url, "timeout", c.config.Timeout)

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	maxAttempts := int(c.config.Timeout / c.config.Interval)
	attempt, consecutive := 0, 0
	for {
		attempt++
		start := time.Now()
		err := c.check(timeoutCtx)
		latency := time.Since(start)

		if err == nil {
			consecutive++
			c.logger.HealthCheck(attempt, maxAttempts, url, true, latency, nil)
			if consecutive >= c.config.SuccessThreshold {
				return nil
			}
		} else {
			consecutive = 0
			c.logger.Debug("health check failed", "attempt", attempt, "url", url, "error", err)
		}

		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("port server not ready after %d attempts: %w", attempt, timeoutCtx.Err())
		case <-ticker.C:
		}
	}
}

// CheckOnce performs a single health check
func (c *Checker) CheckOnce(ctx context.Context) error {
	start := time.Now()
	err := c.check(ctx)
	c.logger.HealthCheck(1, 1, c.healthURL(), err == nil, time.Since(start), err)
	return err
}

// FetchStats reads the current counters from /api/stats
func (c *Checker) FetchStats(ctx context.Context) (*api.StatsResponse, error) {
	resp, err := c.get(ctx, c.config.BaseURL+"/api/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats api.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return &stats, nil
}

func (c *Checker) check(ctx context.Context) error {
	resp, err := c.get(ctx, c.healthURL())
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// get issues a GET and fails on any non-2xx status
func (c *Checker) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "portserver-health-check/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
	}
	return resp, nil
}
