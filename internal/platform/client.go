package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/tzuhan/linevault/internal/config"
)

// Client defines the bot API operations used by the ingestion pipeline.
// Profile and group lookups are best-effort for callers; content retrieval
// is not, since a message record cannot be built without its payload.
type Client interface {
	// GetProfile fetches a sender's display identity.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// GetGroupSummary fetches a group's display identity.
	GetGroupSummary(ctx context.Context, groupID string) (*GroupSummary, error)

	// GetMessageContent downloads the binary payload of a message.
	GetMessageContent(ctx context.Context, messageID string) ([]byte, error)
}

type sdkClient struct {
	api             *messaging_api.MessagingApiAPI
	blob            *messaging_api.MessagingApiBlobAPI
	maxContentBytes int64
	logger          *slog.Logger
}

// NewClient creates a bot API client from the platform configuration,
// backed by the official SDK. Lookup and content calls use independent
// bounded timeouts; downloaded payloads are capped at maxContentBytes.
func NewClient(cfg config.PlatformConfig, maxContentBytes int64, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	api, err := messaging_api.NewMessagingApiAPI(
		cfg.ChannelToken,
		messaging_api.WithEndpoint(cfg.APIBaseURL),
		messaging_api.WithHTTPClient(&http.Client{Timeout: cfg.LookupTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging api client: %w", err)
	}

	blob, err := messaging_api.NewMessagingApiBlobAPI(
		cfg.ChannelToken,
		messaging_api.WithBlobEndpoint(cfg.ContentBaseURL),
		messaging_api.WithBlobHTTPClient(&http.Client{Timeout: cfg.ContentTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob api client: %w", err)
	}

	return &sdkClient{
		api:             api,
		blob:            blob,
		maxContentBytes: maxContentBytes,
		logger:          logger.With("component", "platform_client"),
	}, nil
}

func (c *sdkClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.api.GetProfile(userID)
	if err != nil {
		// 404 usually means the user blocked the bot or left the group.
		return nil, fmt.Errorf("failed to get profile for %s: %w", userID, err)
	}

	return &Profile{
		UserID:        userID,
		DisplayName:   resp.DisplayName,
		PictureURL:    resp.PictureUrl,
		StatusMessage: resp.StatusMessage,
		Language:      resp.Language,
	}, nil
}

func (c *sdkClient) GetGroupSummary(ctx context.Context, groupID string) (*GroupSummary, error) {
	if groupID == "" {
		return nil, fmt.Errorf("group id cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.api.GetGroupSummary(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group summary for %s: %w", groupID, err)
	}

	return &GroupSummary{
		GroupID:    groupID,
		GroupName:  resp.GroupName,
		PictureURL: resp.PictureUrl,
	}, nil
}

func (c *sdkClient) GetMessageContent(ctx context.Context, messageID string) ([]byte, error) {
	if messageID == "" {
		return nil, fmt.Errorf("message id cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.blob.GetMessageContent(messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content for message %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content fetch for message %s returned status %d", messageID, resp.StatusCode)
	}

	// Read at most one byte past the ceiling so an oversized payload is cut
	// off instead of fully buffered before rejection.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxContentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read content for message %s: %w", messageID, err)
	}
	if int64(len(data)) > c.maxContentBytes {
		return nil, fmt.Errorf("content for message %s exceeds %d bytes", messageID, c.maxContentBytes)
	}

	c.logger.DebugContext(ctx, "Message content downloaded",
		"message_id", messageID, "bytes", len(data), "duration", time.Since(start))
	return data, nil
}
