package v2ray

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// Client talks to a V2Ray panel API. Users are keyed by UUID, generated
// client-side so the id is known even if the response is lost.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	url := fmt.Sprintf("%s%s", c.BaseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, vpn.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	return respBody, nil
}

func (c *Client) CreateUser(ctx context.Context, label string) (*vpn.User, error) {
	reqBody := createUserRequest{
		UUID:  uuid.New().String(),
		Email: label,
	}

	resp, err := c.doRequest(ctx, "POST", "/api/users", reqBody)
	if err != nil {
		return nil, err
	}

	var user userResponse
	if err := json.Unmarshal(resp, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if user.UUID == "" {
		user.UUID = reqBody.UUID
	}

	return &vpn.User{
		NativeID:  user.UUID,
		Name:      label,
		ConfigURL: user.Link,
	}, nil
}

func (c *Client) DeleteUser(ctx context.Context, nativeID string) error {
	_, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/api/users/%s", nativeID), nil)
	return err
}

func (c *Client) GetUserConfig(ctx context.Context, nativeID string) (string, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/users/%s", nativeID), nil)
	if err != nil {
		return "", err
	}

	var user userResponse
	if err := json.Unmarshal(resp, &user); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return user.Link, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]vpn.User, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/users", nil)
	if err != nil {
		return nil, err
	}

	var list userListResponse
	if err := json.Unmarshal(resp, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	users := make([]vpn.User, 0, len(list.Users))
	for _, u := range list.Users {
		users = append(users, vpn.User{
			NativeID:  u.UUID,
			Name:      u.Email,
			ConfigURL: u.Link,
		})
	}
	return users, nil
}

// Traffic returns the absolute cumulative byte counter for a user.
func (c *Client) Traffic(ctx context.Context, nativeID string) (int64, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/users/%s/traffic", nativeID), nil)
	if err != nil {
		return 0, err
	}

	var traffic trafficResponse
	if err := json.Unmarshal(resp, &traffic); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return traffic.TotalBytes, nil
}

func (c *Client) Close() error {
	c.HTTPClient.CloseIdleConnections()
	return nil
}
