package gateway

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/meschain/marketsync/internal/domain/model"
)

// AuthProvider attaches marketplace credentials to an outbound request.
type AuthProvider interface {
	Apply(ctx context.Context, req *http.Request) error
}

// Credentials holds the configured secrets for one marketplace. APIKey
// and APISecret drive header auth; ClientID, ClientSecret and TokenURL
// drive the OAuth2 client-credentials flow. The two styles are mutually
// exclusive per marketplace.
type Credentials struct {
	APIKey       string
	APISecret    string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// OAuth reports whether the credentials describe a client-credentials
// grant rather than static keys.
func (c Credentials) OAuth() bool {
	return c.ClientID != "" && c.TokenURL != ""
}

// apiKeyAuth sends static keys in headers, the style Trendyol, N11,
// Hepsiburada and Pazarama use.
type apiKeyAuth struct {
	key    string
	secret string
}

func (a *apiKeyAuth) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("X-Api-Key", a.key)
	if a.secret != "" {
		req.Header.Set("X-Api-Secret", a.secret)
	}
	return nil
}

// oauthAuth fetches and caches bearer tokens via the client-credentials
// grant. The token source refreshes transparently before expiry.
type oauthAuth struct {
	source func(ctx context.Context) (string, error)
}

func newOAuthAuth(creds Credentials) *oauthAuth {
	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       creds.Scopes,
	}
	return &oauthAuth{
		source: func(ctx context.Context) (string, error) {
			token, err := cfg.TokenSource(ctx).Token()
			if err != nil {
				return "", err
			}
			return token.AccessToken, nil
		},
	}
}

func (a *oauthAuth) Apply(ctx context.Context, req *http.Request) error {
	token, err := a.source(ctx)
	if err != nil {
		return fmt.Errorf("token acquisition: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// NewAuthProvider builds the provider matching the credential style.
// Missing credentials yield an error rather than unauthenticated calls.
func NewAuthProvider(marketplace model.Marketplace, creds Credentials) (AuthProvider, error) {
	switch {
	case creds.OAuth():
		return newOAuthAuth(creds), nil
	case creds.APIKey != "":
		return &apiKeyAuth{key: creds.APIKey, secret: creds.APISecret}, nil
	default:
		return nil, fmt.Errorf("no credentials configured for marketplace %q", marketplace)
	}
}
