// Package auth exchanges long-lived refresh tokens for short-lived access
// tokens used to authenticate mailbox sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mailsync/internal/source"
)

// GoogleTokenURL is the default token endpoint.
const GoogleTokenURL = "https://oauth2.googleapis.com/token"

// Token is the result of one refresh exchange. It is valid for the current
// session only and is never cached across cycles.
type Token struct {
	AccessToken string
	Expiry      time.Time

	// RotatedRefreshToken is set when the provider issued a new refresh
	// token that must replace the stored one.
	RotatedRefreshToken string
}

// TokenProvider performs the refresh_token grant against an OAuth2 token
// endpoint.
type TokenProvider struct {
	cfg    *oauth2.Config
	client *http.Client
}

// NewTokenProvider creates a provider for the given client credentials. An
// empty tokenURL selects Google's endpoint. A nil client uses
// http.DefaultClient.
func NewTokenProvider(
	clientID, clientSecret, tokenURL string,
	client *http.Client,
) *TokenProvider {
	if tokenURL == "" {
		tokenURL = GoogleTokenURL
	}
	return &TokenProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

// AccessToken exchanges refreshToken for an access token. Any failure is
// reported as a credential error so that only the owning account's cycle
// is aborted.
func (p *TokenProvider) AccessToken(
	ctx context.Context, refreshToken string,
) (*Token, error) {
	if refreshToken == "" {
		return nil, source.CredentialError("", errors.New("empty refresh token"))
	}

	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}

	// An expired seed token forces the token source to hit the endpoint.
	seed := &oauth2.Token{RefreshToken: refreshToken}
	tok, err := p.cfg.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, &source.Error{
			Kind:      source.KindCredential,
			Message:   "refreshing access token",
			Err:       err,
			Permanent: isPermanentRefreshError(err),
		}
	}
	if tok.AccessToken == "" {
		return nil, source.CredentialError("", errors.New("token endpoint returned no access token"))
	}

	out := &Token{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		out.RotatedRefreshToken = tok.RefreshToken
	}
	return out, nil
}

// isPermanentRefreshError reports whether the endpoint rejected the refresh
// token itself rather than failing transiently.
func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// String avoids leaking the token in logs.
func (t *Token) String() string {
	return fmt.Sprintf("access token (expires %s)", t.Expiry.Format(time.RFC3339))
}
