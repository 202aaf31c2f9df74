package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// Client calls the DingTalk open API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates an API client for baseURL, or the public endpoint when baseURL is empty
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = constants.DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

type accessTokenRequest struct {
	AppKey    string `json:"appKey"`
	AppSecret string `json:"appSecret"`
}

// AccessTokenResponse is the token exchange response body
type AccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireIn    int64  `json:"expireIn"` // Seconds
}

// ExchangeToken performs the client-credential exchange
func (c *Client) ExchangeToken(ctx context.Context, appKey, appSecret string) (*AccessTokenResponse, error) {
	var out AccessTokenResponse
	err := c.postJSON(ctx, constants.AccessTokenPath, nil, accessTokenRequest{
		AppKey:    appKey,
		AppSecret: appSecret,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("response contained no access token")
	}
	return &out, nil
}

type downloadRequest struct {
	DownloadCode string `json:"downloadCode"`
	RobotCode    string `json:"robotCode"`
}

type downloadResponse struct {
	DownloadURL string `json:"downloadUrl"`
	Data        *struct {
		DownloadURL string `json:"downloadUrl"`
	} `json:"data,omitempty"`
}

// DownloadURL exchanges a message file download code for a time-limited URL
func (c *Client) DownloadURL(ctx context.Context, accessToken, downloadCode, robotCode string) (string, error) {
	var out downloadResponse
	headers := map[string]string{constants.AccessTokenHeader: accessToken}
	err := c.postJSON(ctx, constants.MessageFileDownloadPath, headers, downloadRequest{
		DownloadCode: downloadCode,
		RobotCode:    robotCode,
	}, &out)
	if err != nil {
		return "", err
	}

	url := out.DownloadURL
	if url == "" && out.Data != nil {
		url = out.Data.DownloadURL
	}
	if url == "" {
		return "", fmt.Errorf("response contained no download url")
	}
	return url, nil
}

func (c *Client) postJSON(ctx context.Context, path string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request %s returned status %d: %s", path, resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
