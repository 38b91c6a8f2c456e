package account

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// The public installed-app OAuth client the upstream CLI family ships
// with. Installed-app secrets are not confidential by design; the refresh
// token is the actual credential.
const (
	oauthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"
	oauthTokenURL     = "https://oauth2.googleapis.com/token"
)

// OAuthRefresher performs the refresh-token exchange against Google's
// token endpoint. It implements TokenRefresher; the interactive
// device-code flow that minted the refresh token lives outside the
// gateway.
type OAuthRefresher struct {
	conf *oauth2.Config
	http *http.Client
}

// NewOAuthRefresher builds a refresher with its own short-timeout HTTP
// client; a hung token exchange must not stall a request longer than a
// failed one would.
func NewOAuthRefresher() *OAuthRefresher {
	return &OAuthRefresher{
		conf: &oauth2.Config{
			ClientID:     oauthClientID,
			ClientSecret: oauthClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: oauthTokenURL},
		},
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Refresh exchanges refreshToken for a fresh access token.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.http)
	src := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}
