package mailbox

import (
	"encoding/base64"
	"fmt"

	"github.com/emersion/go-sasl"
)

// XOAuth2 is the SASL mechanism name for OAuth 2.0 bearer authentication
// with Gmail-style providers.
const XOAuth2 = "XOAUTH2"

// xoauth2Response builds the raw (unencoded) XOAUTH2 initial response.
func xoauth2Response(email, accessToken string) []byte {
	return []byte("user=" + email + "\x01auth=Bearer " + accessToken + "\x01\x01")
}

// XOAuth2Token returns the base64-encoded XOAUTH2 string as sent on the wire.
func XOAuth2Token(email, accessToken string) string {
	return base64.StdEncoding.EncodeToString(xoauth2Response(email, accessToken))
}

type xoauth2Client struct {
	email       string
	accessToken string
}

// NewXOAuth2Client returns a sasl.Client that authenticates email with the
// given bearer access token.
func NewXOAuth2Client(email, accessToken string) sasl.Client {
	return &xoauth2Client{email: email, accessToken: accessToken}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	return XOAuth2, xoauth2Response(c.email, c.accessToken), nil
}

// Next answers the server's error challenge with an empty response so
// that the server completes the exchange with a tagged NO.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if len(challenge) == 0 {
		return nil, fmt.Errorf("xoauth2: unexpected empty challenge")
	}
	return []byte{}, nil
}
