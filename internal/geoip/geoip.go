// Package geoip resolves coarse visitor locations from IP addresses via an
// external HTTP lookup. Lookups are best-effort: any failure, timeout or
// private address yields the Unknown sentinel instead of an error, so a slow
// provider can never fail an ingest request.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Unknown is the sentinel location value.
const Unknown = "Unknown"

// Location is the coarse geo result for one IP.
type Location struct {
	City    string
	Country string
}

// Resolver looks up visitor locations.
type Resolver interface {
	Lookup(ctx context.Context, ip string) Location
}

// Client queries an ipapi.co-compatible endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient constructs a Client with the given base URL and per-lookup timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Lookup resolves city and country for an IP. Private, loopback and empty
// addresses are not sent to the provider.
func (c *Client) Lookup(ctx context.Context, ip string) Location {
	unknown := Location{City: Unknown, Country: Unknown}
	if !publicIP(ip) {
		return unknown
	}

	url := fmt.Sprintf("%s/%s/json/", c.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return unknown
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("geo lookup failed", "error", err)
		return unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("geo lookup returned non-200", "status", resp.StatusCode)
		return unknown
	}

	var payload struct {
		City        string `json:"city"`
		CountryName string `json:"country_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("geo lookup decode failed", "error", err)
		return unknown
	}

	loc := Location{City: payload.City, Country: payload.CountryName}
	if loc.City == "" {
		loc.City = Unknown
	}
	if loc.Country == "" {
		loc.Country = Unknown
	}
	return loc
}

func publicIP(ip string) bool {
	trimmed := strings.TrimSpace(ip)
	if trimmed == "" || trimmed == "unknown" {
		return false
	}
	parsed := net.ParseIP(trimmed)
	if parsed == nil {
		return false
	}
	return !parsed.IsLoopback() && !parsed.IsPrivate() && !parsed.IsUnspecified() && !parsed.IsLinkLocalUnicast()
}
