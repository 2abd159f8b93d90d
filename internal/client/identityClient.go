package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/config"
)

// IdentityClient exchanges identity-provider refresh tokens for id tokens.
type IdentityClient interface {
	RefreshIDToken(ctx context.Context, refreshToken string) (string, error)
}

type identityClientImpl struct {
	httpClient *http.Client
	tokenURL   string
	apiKey     string
}

func NewIdentityClient(firebaseCfg *config.Firebase) IdentityClient {
	return &identityClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokenURL: firebaseCfg.TokenURL,
		apiKey:   firebaseCfg.APIKey,
	}
}

func (c *identityClientImpl) RefreshIDToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := c.tokenURL + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read identity response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var res struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &res); err != nil || res.Error.Message == "" {
			return "", fmt.Errorf("identity token refresh failed: status=%d", resp.StatusCode)
		}
		return "", fmt.Errorf("identity token refresh failed: status=%d message=%s", resp.StatusCode, res.Error.Message)
	}

	var res struct {
		IDToken string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode identity response: %w", err)
	}
	if res.IDToken == "" {
		return "", fmt.Errorf("identity response has no id_token")
	}

	return res.IDToken, nil
}
