package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClientConfig configures the REST platform client.
type HTTPClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// HTTPClient talks to the platform REST API. It implements Client.
type HTTPClient struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPClient validates the configuration and returns a REST-backed Client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{base: base, token: strings.TrimSpace(cfg.Token), client: client}, nil
}

func (c *HTTPClient) CreateChannel(ctx context.Context, communityID, categoryID string, params ChannelParams) (Channel, error) {
	payload := struct {
		ChannelParams
		ParentID string `json:"parentId"`
		Voice    bool   `json:"voice"`
	}{ChannelParams: params, ParentID: categoryID, Voice: true}
	var channel Channel
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/communities/%s/channels", url.PathEscape(communityID)), payload, &channel)
	if err != nil {
		return Channel{}, fmt.Errorf("create channel: %w", err)
	}
	return channel, nil
}

func (c *HTTPClient) EditChannel(ctx context.Context, channelID string, params ChannelParams) (Channel, error) {
	var channel Channel
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/channels/%s", url.PathEscape(channelID)), params, &channel)
	if err != nil {
		return Channel{}, fmt.Errorf("edit channel %s: %w", channelID, err)
	}
	return channel, nil
}

func (c *HTTPClient) DeleteChannel(ctx context.Context, channelID string) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/channels/%s", url.PathEscape(channelID)), nil, nil); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}

func (c *HTTPClient) CategoryChannels(ctx context.Context, communityID, categoryID string) ([]Channel, error) {
	var channels []Channel
	path := fmt.Sprintf("/v1/communities/%s/categories/%s/channels", url.PathEscape(communityID), url.PathEscape(categoryID))
	if err := c.do(ctx, http.MethodGet, path, nil, &channels); err != nil {
		return nil, fmt.Errorf("list category channels: %w", err)
	}
	return channels, nil
}

func (c *HTTPClient) ChannelOverwrites(ctx context.Context, channelID string) ([]Overwrite, error) {
	var overwrites []Overwrite
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/channels/%s/overwrites", url.PathEscape(channelID)), nil, &overwrites); err != nil {
		return nil, fmt.Errorf("list overwrites: %w", err)
	}
	return overwrites, nil
}

func (c *HTTPClient) SetOverwrites(ctx context.Context, channelID string, overwrites []Overwrite) error {
	if overwrites == nil {
		overwrites = []Overwrite{}
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/channels/%s/overwrites", url.PathEscape(channelID)), overwrites, nil); err != nil {
		return fmt.Errorf("set overwrites: %w", err)
	}
	return nil
}

func (c *HTTPClient) EditOverwrite(ctx context.Context, channelID, userID string, deny, clear Permissions) error {
	payload := struct {
		Deny  Permissions `json:"deny"`
		Clear Permissions `json:"clear"`
	}{Deny: deny, Clear: clear}
	path := fmt.Sprintf("/v1/channels/%s/overwrites/%s", url.PathEscape(channelID), url.PathEscape(userID))
	if err := c.do(ctx, http.MethodPatch, path, payload, nil); err != nil {
		return fmt.Errorf("edit overwrite: %w", err)
	}
	return nil
}

func (c *HTTPClient) VoiceMembers(ctx context.Context, channelID string) ([]Member, error) {
	var members []Member
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/channels/%s/voice-members", url.PathEscape(channelID)), nil, &members); err != nil {
		return nil, fmt.Errorf("list voice members: %w", err)
	}
	return members, nil
}

func (c *HTTPClient) Member(ctx context.Context, communityID, userID string) (Member, error) {
	var member Member
	path := fmt.Sprintf("/v1/communities/%s/members/%s", url.PathEscape(communityID), url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &member); err != nil {
		return Member{}, err
	}
	return member, nil
}

func (c *HTTPClient) FilterMembers(ctx context.Context, communityID string, ids []string) ([]string, error) {
	payload := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	var result struct {
		IDs []string `json:"ids"`
	}
	path := fmt.Sprintf("/v1/communities/%s/members/filter", url.PathEscape(communityID))
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, fmt.Errorf("filter members: %w", err)
	}
	return result.IDs, nil
}

func (c *HTTPClient) ChannelUpdateAudit(ctx context.Context, communityID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []AuditEntry
	path := fmt.Sprintf("/v1/communities/%s/audit?type=channel_update&limit=%s", url.PathEscape(communityID), strconv.Itoa(limit))
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	return entries, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, channelID, content string) error {
	payload := struct {
		Content string `json:"content"`
	}{Content: content}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/channels/%s/messages", url.PathEscape(channelID)), payload, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *HTTPClient) HasMessages(ctx context.Context, channelID string) (bool, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/channels/%s/messages/count", url.PathEscape(channelID)), nil, &result); err != nil {
		return false, fmt.Errorf("message count: %w", err)
	}
	return result.Count > 0, nil
}

func (c *HTTPClient) DisconnectMember(ctx context.Context, communityID, userID string) error {
	payload := struct {
		ChannelID *string `json:"channelId"`
	}{ChannelID: nil}
	path := fmt.Sprintf("/v1/communities/%s/members/%s/voice", url.PathEscape(communityID), url.PathEscape(userID))
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("disconnect member: %w", err)
	}
	return nil
}

func (c *HTTPClient) MoveMember(ctx context.Context, communityID, userID, channelID string) error {
	payload := struct {
		ChannelID *string `json:"channelId"`
	}{ChannelID: &channelID}
	path := fmt.Sprintf("/v1/communities/%s/members/%s/voice", url.PathEscape(communityID), url.PathEscape(userID))
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("move member: %w", err)
	}
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
