package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chathub_backend/platform/apperr"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// IPInfoClient resolves IP addresses via an ipinfo.io-compatible API.
// The token and base URL are injected configuration, never source constants.
type IPInfoClient struct {
	client  *http.Client
	baseURL string
	token   string
	log     *logger.Logger
}

// NewIPInfoClient creates a resolver from geo configuration.
func NewIPInfoClient(cfg config.GeoConfig, log *logger.Logger) *IPInfoClient {
	return &IPInfoClient{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(cfg.GetIPInfoBaseURL(), "/"),
		token:   cfg.GetIPInfoToken(),
		log:     log.WithComponent("ipinfo"),
	}
}

type ipInfoResponse struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

// Resolve looks up the approximate coordinate for an IP address.
// A lookup that succeeds but carries no location reports ok=false.
func (c *IPInfoClient) Resolve(ctx context.Context, ip string) (Point, bool, error) {
	reqURL := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(ip))
	if c.token != "" {
		params := url.Values{}
		params.Add("token", c.token)
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Point{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("ipinfo request failed", "error", err)
		return Point{}, false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("ipinfo upstream error", "status", resp.StatusCode)
		return Point{}, false, apperr.Unavailable(fmt.Sprintf("upstream api error: %d", resp.StatusCode)).WithOp("ipinfo")
	}

	var raw ipInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Point{}, false, err
	}

	point, ok := parseLoc(raw.Loc)
	return point, ok, nil
}

// parseLoc parses an ipinfo "lat,lon" location string.
func parseLoc(loc string) (Point, bool) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return Point{}, false
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, false
	}

	p := Point{Latitude: lat, Longitude: lon}
	if p.Validate() != nil {
		return Point{}, false
	}
	return p, true
}
