package fireproof

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2/github"
)

const (
	githubUserAPI   = "https://api.github.com/user"
	githubEmailsAPI = "https://api.github.com/user/emails"

	googleIssuer = "https://accounts.google.com"
)

// NewGitHubGuard constructs an [OAuth2Guard] preconfigured for GitHub:
// endpoints, provider label, and a user-info extractor that resolves the
// token against the GitHub user API. Everything else follows cfg.
func NewGitHubGuard(cfg OAuth2Config) (*OAuth2Guard, error) {
	cfg.Grant = GrantAuthorizationCode
	cfg.AuthURL = github.Endpoint.AuthURL
	cfg.TokenURL = github.Endpoint.TokenURL
	if cfg.Provider == "" {
		cfg.Provider = "github"
	}
	if cfg.ExtractUserInfo == nil {
		cfg.ExtractUserInfo = GitHubUserInfo
	}
	return NewOAuth2Guard(cfg)
}

// NewGoogleGuard constructs an [OIDCGuard] against Google's issuer. The
// identity record comes from ID token claims plus the userinfo endpoint.
func NewGoogleGuard(cfg OIDCConfig) (*OIDCGuard, error) {
	cfg.ServiceURL = googleIssuer
	if cfg.Provider == "" {
		cfg.Provider = "google"
	}
	return NewOIDCGuard(cfg)
}

// GitHubUserInfo resolves an access token into a [UserInfo] via the GitHub
// user API. A profile without a public email triggers one follow-up call to
// the emails endpoint, best-effort.
func GitHubUserInfo(ctx context.Context, token *TokenBundle, client *http.Client) (*UserInfo, error) {
	raw, err := githubGet(ctx, client, githubUserAPI, token.AccessToken)
	if err != nil {
		return nil, err
	}

	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("%w: invalid user document: %v", ErrProviderUnavailable, err)
	}

	info := &UserInfo{
		Provider: "github",
		ID:       strconv.FormatInt(profile.ID, 10),
		Name: Name{
			Display: profile.Name,
			User:    profile.Login,
		},
		Raw: raw,
	}
	if profile.AvatarURL != "" {
		info.Photos = []string{profile.AvatarURL}
	}
	if profile.Email != "" {
		info.Emails = []string{profile.Email}
	} else if email := githubPrimaryEmail(ctx, client, token.AccessToken); email != "" {
		info.Emails = []string{email}
	}

	return info, nil
}

// githubPrimaryEmail fetches the primary verified email. Failure is not a
// login failure: the profile simply stays without an email.
func githubPrimaryEmail(ctx context.Context, client *http.Client, accessToken string) string {
	raw, err := githubGet(ctx, client, githubEmailsAPI, accessToken)
	if err != nil {
		return ""
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(raw, &emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

func githubGet(ctx context.Context, client *http.Client, url, accessToken string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", ErrProviderUnavailable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return body, nil
}
