package ultimaker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fetcherFor(server *httptest.Server, timeout time.Duration) *Fetcher {
	host := strings.TrimPrefix(server.URL, "http://")
	return NewFetcher(host, timeout, testLogger())
}

func TestFetchJSON_OK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/printer", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "printing", "bed": {"type": "glass"}}`))
	}))
	defer server.Close()

	data, err := fetcherFor(server, 2*time.Second).FetchJSON(context.Background(), "/printer")
	require.NoError(t, err)
	assert.Equal(t, "printing", data["status"])
}

func TestFetchJSON_ErrorStatusAbsorbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no job", http.StatusNotFound)
	}))
	defer server.Close()

	data, err := fetcherFor(server, 2*time.Second).FetchJSON(context.Background(), "/print_job")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFetchJSON_MalformedBodyAbsorbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "prin`))
	}))
	defer server.Close()

	data, err := fetcherFor(server, 2*time.Second).FetchJSON(context.Background(), "/printer")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFetchJSON_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := fetcherFor(server, 2*time.Second).FetchJSON(context.Background(), "/printer")
	require.Error(t, err)
	assert.Equal(t, ErrKindConnection, KindOf(err))
}

func TestFetchJSON_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	_, err := fetcherFor(server, 50*time.Millisecond).FetchJSON(context.Background(), "/printer")
	require.Error(t, err)
	assert.Equal(t, ErrKindTimeout, KindOf(err))
}

func TestFetchText_TrimsQuotesAndWhitespace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("\"5.3.0.20230217\"\n"))
	}))
	defer server.Close()

	text, err := fetcherFor(server, 2*time.Second).FetchText(context.Background(), "/system/firmware/latest")
	require.NoError(t, err)
	assert.Equal(t, "5.3.0.20230217", text)
}

func TestKindOf_NonFetchError(t *testing.T) {
	assert.Equal(t, ErrKind(0), KindOf(context.Canceled))
}
