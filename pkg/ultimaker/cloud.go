package ultimaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/common"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
)

const (
	cloudAPIURL   = "https://api.ultimaker.com/connect/v1"
	cloudTokenURL = "https://account.ultimaker.com/token"
)

// CloudClient polls a printer cluster through the Ultimaker Digital Factory
// Connect API. It implements Source: the first printer of the cluster is
// mapped into the same snapshot shape the local API produces, so everything
// downstream is API-agnostic.
type CloudClient struct {
	cfg      config.CloudConfig
	baseURL  string
	tokenURL string
	client   *http.Client
	logger   *logrus.Logger
}

func NewCloudClient(cfg config.CloudConfig, timeout time.Duration, logger *logrus.Logger) *CloudClient {
	c := &CloudClient{
		cfg:      cfg,
		baseURL:  cloudAPIURL,
		tokenURL: cloudTokenURL,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
	c.installTransport()
	return c
}

func (c *CloudClient) installTransport() {
	if source := tokenSource(c.cfg, c.tokenURL); source != nil {
		// The oauth2 transport refreshes expired tokens on its own; a
		// rejected refresh fails the cycle immediately.
		c.client.Transport = &oauth2.Transport{Source: source}
	} else {
		c.client.Transport = nil
	}
}

// SetBaseURL points the client at a different API root, for tests.
func (c *CloudClient) SetBaseURL(url string) {
	c.baseURL = strings.TrimSuffix(url, "/")
}

// SetTokenURL points the token refresh flow at a different endpoint, for
// tests.
func (c *CloudClient) SetTokenURL(url string) {
	c.tokenURL = strings.TrimSuffix(url, "/")
	c.installTransport()
}

func tokenSource(cfg config.CloudConfig, tokenURL string) oauth2.TokenSource {
	switch {
	case cfg.RefreshToken != "":
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		}
		token := &oauth2.Token{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
		}
		return conf.TokenSource(context.Background(), token)
	case cfg.AccessToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	default:
		return nil
	}
}

// FetchState implements Source.
func (c *CloudClient) FetchState(ctx context.Context) (Snapshot, error) {
	if c.cfg.ClusterID == "" {
		return nil, fmt.Errorf("missing cluster_id: %w", ErrNotConfigured)
	}
	if c.cfg.AccessToken == "" && c.cfg.RefreshToken == "" {
		return nil, fmt.Errorf("missing cloud credentials: %w", ErrNotConfigured)
	}

	clusterStatus, err := c.apiRequest(ctx, fmt.Sprintf("/clusters/%s/status", c.cfg.ClusterID))
	if err != nil {
		return nil, err
	}
	if len(clusterStatus) == 0 {
		return nil, fmt.Errorf("cluster %s: %w", c.cfg.ClusterID, ErrEmptyPayload)
	}

	clusterDetails, err := c.apiRequest(ctx, fmt.Sprintf("/clusters/%s", c.cfg.ClusterID))
	if err != nil {
		c.logger.WithError(err).Debug("Cluster details unavailable")
		clusterDetails = map[string]any{}
	}

	return c.buildSnapshot(clusterStatus, clusterDetails), nil
}

// buildSnapshot flattens the cluster payloads into the local-API shape.
func (c *CloudClient) buildSnapshot(clusterStatus, clusterDetails map[string]any) Snapshot {
	snap := Snapshot{
		KeyStatus: "connected",
	}

	if status, ok := clusterStatus["status"].(string); ok {
		snap["cluster_status"] = status
	} else {
		snap["cluster_status"] = StatusUnknown
	}
	if name, ok := clusterDetails["name"].(string); ok {
		snap["cluster_name"] = name
	}

	printers, _ := clusterStatus["printers"].([]any)
	snap["printer_count"] = len(printers)
	if len(printers) == 0 {
		return snap
	}

	// The bridge models one printer per poller; take the cluster's first.
	printer, _ := printers[0].(map[string]any)
	for _, key := range []string{KeyStatus, KeyState, KeyProgress, "bed", "heads"} {
		if value, ok := printer[key]; ok {
			snap[key] = value
		}
	}
	return snap
}

// Clusters lists the clusters visible to the configured account.
func (c *CloudClient) Clusters(ctx context.Context) ([]map[string]any, error) {
	response, err := c.apiRequest(ctx, "/clusters")
	if err != nil {
		return nil, err
	}
	return objectList(response["data"]), nil
}

// UserInfo returns the Digital Factory account behind the configured token.
func (c *CloudClient) UserInfo(ctx context.Context) (map[string]any, error) {
	return c.apiRequest(ctx, "/users/current")
}

// Workspaces lists the organizations the account belongs to.
func (c *CloudClient) Workspaces(ctx context.Context) ([]map[string]any, error) {
	userInfo, err := c.UserInfo(ctx)
	if err != nil {
		return nil, err
	}
	return objectList(userInfo["organization_memberships"]), nil
}

func objectList(value any) []map[string]any {
	items, _ := value.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func (c *CloudClient) apiRequest(ctx context.Context, path string) (map[string]any, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrKindConnection, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", common.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// A rejected token refresh means the credentials are dead, not
		// that the network blipped; it must never fall back to cached data.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("token refresh rejected: %v: %w", retrieveErr, ErrAuthRejected)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &FetchError{Kind: ErrKindTimeout, URL: url, Err: err}
		}
		return nil, &FetchError{Kind: classify(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("cloud API denied request (%d): %s: %w",
			resp.StatusCode, strings.TrimSpace(string(diag)), ErrAuthRejected)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.WithFields(logrus.Fields{
			"url":    url,
			"status": resp.StatusCode,
			"body":   strings.TrimSpace(string(diag)),
		}).Debug("Error response from cloud API")
		return map[string]any{}, nil
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		c.logger.WithField("url", url).WithError(err).Warn("Invalid JSON response from cloud API")
		return map[string]any{}, nil
	}
	return data, nil
}
