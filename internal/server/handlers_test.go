package server_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzuhan/linevault/internal/blob"
	"github.com/tzuhan/linevault/internal/config"
	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/export"
	"github.com/tzuhan/linevault/internal/limits"
	"github.com/tzuhan/linevault/internal/platform"
	"github.com/tzuhan/linevault/internal/recorder"
	"github.com/tzuhan/linevault/internal/server"
	"github.com/tzuhan/linevault/internal/users"
)

const testChannelSecret = "test-channel-secret"

// fakeClient avoids real platform API calls in handler tests.
type fakeClient struct {
	profile *platform.Profile
	content []byte
}

func (f *fakeClient) GetProfile(_ context.Context, _ string) (*platform.Profile, error) {
	if f.profile == nil {
		return nil, errors.New("no profile")
	}
	return f.profile, nil
}

func (f *fakeClient) GetGroupSummary(_ context.Context, _ string) (*platform.GroupSummary, error) {
	return nil, errors.New("no group")
}

func (f *fakeClient) GetMessageContent(_ context.Context, _ string) ([]byte, error) {
	return f.content, nil
}

type testEnv struct {
	router http.Handler
	store  database.Store
}

// newTestEnv wires the full stack on a temp database and blob directory,
// replacing only the platform client.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	blobs, err := blob.NewStore(config.BlobConfig{
		Dir:         t.TempDir(),
		BaseURL:     "http://localhost:3000",
		SigningKey:  "0123456789abcdef0123456789abcdef",
		URLTTL:      time.Hour,
		MaxFileSize: 1 << 20,
	}, nil)
	require.NoError(t, err)

	client := &fakeClient{
		profile: &platform.Profile{UserID: "U001", DisplayName: "陳大文"},
		content: []byte("payload"),
	}

	registry := users.NewRegistry(store, nil)
	rec := recorder.New(limits.NewLimiter(store, nil), registry, blobs, client, store, nil)

	exporter, err := export.NewExporter(config.ExportConfig{
		TempDir: t.TempDir(),
		MaxAge:  time.Hour,
	}, store, blobs, nil)
	require.NoError(t, err)

	handlers := server.NewHandlers(testChannelSecret, 1<<20, rec, store, registry, blobs, exporter, nil)
	srv := server.New(config.ServerConfig{
		Addr:            ":0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		IdleTimeout:     5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxBodyBytes:    1 << 20,
	}, handlers, nil)

	return &testEnv{router: srv.Router(), store: store}
}

// webhookBody renders events as the platform's delivery JSON.
func webhookBody(t *testing.T, events ...platform.Event) []byte {
	t.Helper()

	wire := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		srcType := ev.Source.Type
		if srcType == "" {
			srcType = "user"
		}
		src := map[string]any{"type": srcType, "userId": ev.Source.UserID}
		if ev.Source.GroupID != "" {
			src["groupId"] = ev.Source.GroupID
		}

		e := map[string]any{
			"type":            ev.Type,
			"mode":            "active",
			"timestamp":       ev.Timestamp,
			"webhookEventId":  "WH" + strconv.Itoa(len(wire)),
			"deliveryContext": map[string]any{"isRedelivery": false},
			"source":          src,
		}
		if ev.Message != nil {
			m := map[string]any{"type": ev.Message.Type, "id": ev.Message.ID}
			if ev.Message.Text != "" {
				m["text"] = ev.Message.Text
			}
			if ev.Message.FileName != "" {
				m["fileName"] = ev.Message.FileName
				m["fileSize"] = ev.Message.FileSize
			}
			e["message"] = m
		}
		wire = append(wire, e)
	}

	body, err := json.Marshal(map[string]any{"destination": "U0000", "events": wire})
	require.NoError(t, err)
	return body
}

// signBody computes the delivery signature header value for a body.
func signBody(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postWebhook(env *testEnv, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Line-Signature", signature)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func textEvent(messageID, userID, text string) platform.Event {
	return platform.Event{
		Type:      platform.EventTypeMessage,
		Timestamp: 1700000000000,
		Source:    platform.Source{Type: "user", UserID: userID},
		Message:   &platform.EventMessage{ID: messageID, Type: database.MessageTypeText, Text: text},
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t, textEvent("M001", "U001", "hi"))

	rr := postWebhook(env, body, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postWebhook(env, body, signBody("wrong-secret", body))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Nothing may be ingested from an unverified delivery.
	stats, err := env.store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := []byte("{not json")

	rr := postWebhook(env, body, signBody(testChannelSecret, body))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookIngestsTextMessage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t, textEvent("M001", "U001", "哈囉"))

	rr := postWebhook(env, body, signBody(testChannelSecret, body))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status    string             `json:"status"`
		Processed int                `json:"processed"`
		Results   []recorder.Outcome `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Processed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, recorder.StatusSuccess, resp.Results[0].Status)

	msg, err := env.store.GetMessageByExternalID(context.Background(), "M001")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "哈囉", msg.TextContent.String)
}

func TestWebhookAlwaysAcksJudgedEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t,
		platform.Event{Type: platform.EventTypeFollow, Source: platform.Source{UserID: "U001"}},
		textEvent("M001", "U001", "哈囉"),
	)

	rr := postWebhook(env, body, signBody(testChannelSecret, body))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Results []recorder.Outcome `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, recorder.StatusIgnored, resp.Results[0].Status)
	assert.Equal(t, recorder.StatusSuccess, resp.Results[1].Status)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok"`)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t, textEvent("M001", "U001", "哈囉"))
	require.Equal(t, http.StatusOK, postWebhook(env, body, signBody(testChannelSecret, body)).Code)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		TotalUsers    int64 `json:"total_users"`
		TotalMessages int64 `json:"total_messages"`
		Limits        []struct {
			LimitType    string `json:"limit_type"`
			CurrentCount int64  `json:"current_count"`
		} `json:"limits"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.TotalUsers)
	assert.Equal(t, int64(1), resp.TotalMessages)
	assert.Len(t, resp.Limits, 2)
}

func TestListUsersAndMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t,
		textEvent("M001", "U001", "第一則"),
		textEvent("M002", "U001", "第二則"),
	)
	require.Equal(t, http.StatusOK, postWebhook(env, body, signBody(testChannelSecret, body)).Code)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var usersResp struct {
		Count int `json:"count"`
		Users []struct {
			LineUserID  string `json:"line_user_id"`
			DisplayName string `json:"display_name"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &usersResp))
	require.Equal(t, 1, usersResp.Count)
	assert.Equal(t, "U001", usersResp.Users[0].LineUserID)
	assert.Equal(t, "陳大文", usersResp.Users[0].DisplayName)

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/messages?limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var messagesResp struct {
		Count    int `json:"count"`
		Messages []struct {
			LineMessageID string `json:"line_message_id"`
			TextContent   string `json:"text_content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &messagesResp))
	require.Equal(t, 1, messagesResp.Count)

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/messages/user/U001", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &messagesResp))
	assert.Equal(t, 2, messagesResp.Count)
}

func TestCustomerNameWorkflow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t, textEvent("M001", "U001", "我是小明"))
	require.Equal(t, http.StatusOK, postWebhook(env, body, signBody(testChannelSecret, body)).Code)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/customers/needing-names", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var pending struct {
		Count     int `json:"count"`
		Customers []struct {
			User struct {
				ID               int64  `json:"id"`
				GroupDisplayName string `json:"group_display_name"`
			} `json:"user"`
			RecentMessages []string `json:"recent_messages"`
		} `json:"customers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pending))
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, "小明", pending.Customers[0].User.GroupDisplayName, "self introduction fills group name")
	assert.Contains(t, pending.Customers[0].RecentMessages, "我是小明")

	update, err := json.Marshal(map[string]any{
		"updates": []map[string]any{
			{"user_id": pending.Customers[0].User.ID, "customer_name": "王小明"},
		},
	})
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/customers/batch-update", bytes.NewReader(update)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"succeeded":1`)

	// A confirmed customer leaves the pending list.
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/customers/needing-names", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pending))
	assert.Zero(t, pending.Count)
}

func TestSetGroupNameEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t, textEvent("M001", "U001", "嗨"))
	require.Equal(t, http.StatusOK, postWebhook(env, body, signBody(testChannelSecret, body)).Code)

	user, err := env.store.GetUserByExternalID(context.Background(), "U001")
	require.NoError(t, err)
	require.NotNil(t, user)

	payload := []byte(`{"name":"新名字"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/users/"+strconv.FormatInt(user.ID, 10)+"/group-name", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := env.store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "新名字", got.GroupDisplayName.String)

	req = httptest.NewRequest(http.MethodPut, "/api/users/abc/group-name", bytes.NewReader(payload))
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFileContentRejectsBadToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/files/content?token=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/files/content", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := webhookBody(t, textEvent("M001", "U001", "哈囉"))
	require.Equal(t, http.StatusOK, postWebhook(env, body, signBody(testChannelSecret, body)).Code)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/export/users", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rr.Body.String(), "U001")

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/export/bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
