package ultimaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/common"
)

// ErrKind classifies a fetch failure. Connection and timeout failures
// propagate to the poller so it can decide whether to serve cached data;
// malformed bodies are absorbed at the fetch layer.
type ErrKind int

const (
	ErrKindConnection ErrKind = iota + 1
	ErrKindTimeout
	ErrKindBadBody
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConnection:
		return "connection"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindBadBody:
		return "bad body"
	default:
		return "unknown"
	}
}

// FetchError wraps a transport failure with its classification.
type FetchError struct {
	Kind ErrKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or 0 if err is not a FetchError.
func KindOf(err error) ErrKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

const maxErrorBody = 4096

// Fetcher issues bounded GET requests against a printer's local REST API
// (http://{host}/api/v1).
type Fetcher struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

func NewFetcher(host string, timeout time.Duration, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		baseURL: fmt.Sprintf("http://%s/api/v1", host),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// FetchJSON GETs path and decodes the body as a JSON object.
//
// HTTP >= 400 and malformed bodies yield an empty map and a nil error: the
// printer answers some endpoints with errors while idle (no /print_job
// during standby) and that must not fail the poll cycle. Connection and
// timeout failures are returned as a classified FetchError.
func (f *Fetcher) FetchJSON(ctx context.Context, path string) (map[string]any, error) {
	body, err := f.get(ctx, path, "application/json")
	if err != nil {
		return nil, err
	}
	if body == nil {
		return map[string]any{}, nil
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		f.logger.WithField("url", f.baseURL+path).WithError(err).Warn("Invalid JSON response from printer")
		return map[string]any{}, nil
	}
	return data, nil
}

// FetchText GETs path and returns the body as a string, with surrounding
// whitespace and JSON-style quotes stripped. Used for the firmware-version
// endpoint and the UMMF material documents.
func (f *Fetcher) FetchText(ctx context.Context, path string) (string, error) {
	body, err := f.get(ctx, path, "")
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

// get performs the request. A nil body with nil error means the printer
// answered with an error status; the caller treats it as an empty result.
func (f *Fetcher) get(ctx context.Context, path, accept string) ([]byte, error) {
	url := f.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrKindConnection, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", common.UserAgent())
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	f.logger.WithField("url", url).Debug("Fetching printer endpoint")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classify(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		f.logger.WithFields(logrus.Fields{
			"url":    url,
			"status": resp.StatusCode,
			"body":   strings.TrimSpace(string(diag)),
		}).Debug("Error response from printer")
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: classify(err), URL: url, Err: err}
	}
	return body, nil
}

func classify(err error) ErrKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}
	return ErrKindConnection
}
