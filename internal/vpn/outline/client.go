package outline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// Client talks to an Outline server management API. The management endpoint
// serves a self-signed certificate, so the connection is verified by pinning
// the certificate's SHA-256 fingerprint instead of the system trust store.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL, certSHA256 string) (*Client, error) {
	fingerprint, err := hex.DecodeString(strings.ToLower(certSHA256))
	if err != nil || len(fingerprint) != sha256.Size {
		return nil, fmt.Errorf("invalid certificate fingerprint %q", certSHA256)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				for _, raw := range rawCerts {
					sum := sha256.Sum256(raw)
					if bytes.Equal(sum[:], fingerprint) {
						return nil
					}
				}
				return fmt.Errorf("certificate fingerprint mismatch")
			},
		},
	}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
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
	resp, err := c.doRequest(ctx, "POST", "/access-keys", nil)
	if err != nil {
		return nil, err
	}

	var key accessKey
	if err := json.Unmarshal(resp, &key); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	// Name is set in a second call; the create endpoint does not accept one.
	if _, err := c.doRequest(ctx, "PUT", fmt.Sprintf("/access-keys/%s/name", key.ID), renameRequest{Name: label}); err != nil {
		return nil, fmt.Errorf("failed to name access key %s: %w", key.ID, err)
	}

	return &vpn.User{
		NativeID:  key.ID,
		Name:      label,
		ConfigURL: key.AccessURL,
	}, nil
}

func (c *Client) DeleteUser(ctx context.Context, nativeID string) error {
	_, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/access-keys/%s", nativeID), nil)
	return err
}

func (c *Client) GetUserConfig(ctx context.Context, nativeID string) (string, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/access-keys/%s", nativeID), nil)
	if err != nil {
		return "", err
	}

	var key accessKey
	if err := json.Unmarshal(resp, &key); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return key.AccessURL, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]vpn.User, error) {
	resp, err := c.doRequest(ctx, "GET", "/access-keys", nil)
	if err != nil {
		return nil, err
	}

	var list accessKeyList
	if err := json.Unmarshal(resp, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	users := make([]vpn.User, 0, len(list.AccessKeys))
	for _, key := range list.AccessKeys {
		users = append(users, vpn.User{
			NativeID:  key.ID,
			Name:      key.Name,
			ConfigURL: key.AccessURL,
		})
	}
	return users, nil
}

// Traffic is not metered for Outline servers.
func (c *Client) Traffic(ctx context.Context, nativeID string) (int64, error) {
	return 0, vpn.ErrUnsupported
}

func (c *Client) Close() error {
	c.HTTPClient.CloseIdleConnections()
	return nil
}
