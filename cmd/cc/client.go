package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// clientConfig is the on-disk config at ~/.contextcache/config.json,
// written by `cc login` with mode 0600. Env and flags override it.
type clientConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	OrgID   string `json:"org_id,omitempty"`
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".contextcache", "config.json")
}

// loadClientConfig merges the config file under flags and env.
func loadClientConfig() {
	path := configPath()
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var cfg clientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return
	}
	if cfg.BaseURL != "" && !viper.IsSet("base_url") {
		viper.SetDefault("base_url", cfg.BaseURL)
	}
	if cfg.APIKey != "" && viper.GetString("api_key") == "" {
		viper.SetDefault("api_key", cfg.APIKey)
	}
	if cfg.OrgID != "" && viper.GetString("org_id") == "" {
		viper.SetDefault("org_id", cfg.OrgID)
	}
}

func saveClientConfig(cfg clientConfig) error {
	path := configPath()
	if path == "" {
		return fmt.Errorf("cannot resolve home directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	// The file holds the API key; keep it owner-only.
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// client is a thin JSON REST client.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient() *client {
	return &client{
		baseURL: strings.TrimRight(viper.GetString("base_url"), "/"),
		apiKey:  viper.GetString("api_key"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func requireOrg() (string, error) {
	org := viper.GetString("org_id")
	if org == "" {
		return "", exitErrf(exitValidation, "org id required: pass --org, set CC_ORG_ID, or run cc login")
	}
	return org, nil
}

// apiError mirrors the server's error envelope.
type apiError struct {
	Code          string `json:"error"`
	Message       string `json:"message"`
	Resource      string `json:"resource,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// do issues one request and decodes the response into out (unless nil).
// Error statuses map onto the CLI exit codes.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return exitErrf(exitGeneric, "cannot reach %s: %v", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("malformed response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response, data []byte) error {
	var ae apiError
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &ae); err == nil && ae.Code != "" {
		msg = ae.Message
		if msg == "" {
			msg = strings.ReplaceAll(ae.Code, "_", " ")
		}
		if ae.Resource != "" {
			msg += " (" + ae.Resource + ")"
		}
		if ae.CorrelationID != "" {
			msg += " (correlation id " + ae.CorrelationID + ")"
		}
	}

	code := exitGeneric
	switch resp.StatusCode {
	case http.StatusBadRequest:
		code = exitValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		code = exitAuth
	case http.StatusNotFound:
		code = exitNotFound
	case http.StatusTooManyRequests:
		code = exitQuota
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg += " (retry after " + ra + "s)"
		}
	}
	return exitErrf(code, "%s", msg)
}

// printJSON renders any response value as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// jsonMode reports whether --json raw output was requested.
func jsonMode() bool { return viper.GetBool("json") }
