package platform_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzuhan/linevault/internal/config"
	"github.com/tzuhan/linevault/internal/platform"
)

// newBotServer serves the bot API endpoints the client calls, recording the
// Authorization header it saw.
func newBotServer(t *testing.T, content []byte) (*httptest.Server, *string) {
	t.Helper()

	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		switch {
		case strings.HasPrefix(r.URL.Path, "/v2/bot/profile/"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"userId":"U001","displayName":"陳大文","pictureUrl":"https://example.com/p.jpg","statusMessage":"hi","language":"zh-TW"}`)
		case strings.HasSuffix(r.URL.Path, "/summary"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"groupId":"G001","groupName":"家族群組","pictureUrl":"https://example.com/g.jpg"}`)
		case strings.HasSuffix(r.URL.Path, "/content"):
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(content)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &authHeader
}

func newTestClient(t *testing.T, baseURL string, maxContentBytes int64) platform.Client {
	t.Helper()

	client, err := platform.NewClient(config.PlatformConfig{
		ChannelSecret:  "secret",
		ChannelToken:   "test-token",
		APIBaseURL:     baseURL,
		ContentBaseURL: baseURL,
		LookupTimeout:  time.Second,
		ContentTimeout: time.Second,
	}, maxContentBytes, nil)
	require.NoError(t, err)
	return client
}

func TestClientGetProfile(t *testing.T) {
	t.Parallel()

	srv, auth := newBotServer(t, nil)
	client := newTestClient(t, srv.URL, 1<<20)

	profile, err := client.GetProfile(context.Background(), "U001")
	require.NoError(t, err)

	assert.Equal(t, "U001", profile.UserID)
	assert.Equal(t, "陳大文", profile.DisplayName)
	assert.Equal(t, "https://example.com/p.jpg", profile.PictureURL)
	assert.Equal(t, "hi", profile.StatusMessage)
	assert.Equal(t, "Bearer test-token", *auth)

	_, err = client.GetProfile(context.Background(), "")
	assert.Error(t, err)
}

func TestClientGetGroupSummary(t *testing.T) {
	t.Parallel()

	srv, _ := newBotServer(t, nil)
	client := newTestClient(t, srv.URL, 1<<20)

	summary, err := client.GetGroupSummary(context.Background(), "G001")
	require.NoError(t, err)

	assert.Equal(t, "G001", summary.GroupID)
	assert.Equal(t, "家族群組", summary.GroupName)

	_, err = client.GetGroupSummary(context.Background(), "")
	assert.Error(t, err)
}

func TestClientGetMessageContent(t *testing.T) {
	t.Parallel()

	payload := []byte("binary payload")
	srv, _ := newBotServer(t, payload)
	client := newTestClient(t, srv.URL, 64)

	data, err := client.GetMessageContent(context.Background(), "M001")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestClientGetMessageContentEnforcesCeiling(t *testing.T) {
	t.Parallel()

	// Payload larger than the ceiling must be cut off, not buffered whole.
	srv, _ := newBotServer(t, []byte(strings.Repeat("x", 100)))
	client := newTestClient(t, srv.URL, 64)

	_, err := client.GetMessageContent(context.Background(), "M001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestClientHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	srv, _ := newBotServer(t, nil)
	client := newTestClient(t, srv.URL, 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetProfile(ctx, "U001")
	assert.ErrorIs(t, err, context.Canceled)
}
