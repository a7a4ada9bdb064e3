// sign.go implements request signing for the futures REST API.
//
// Signed endpoints take the full encoded query string (including `timestamp`
// in milliseconds and `recvWindow`), compute HMAC-SHA256 over it with the API
// secret, and append the hex digest as `signature`. The API key rides in the
// X-MBX-APIKEY header on both signed and keyed requests.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

const recvWindowMillis = 5000

// Signer signs query strings for the SIGNED endpoint security type.
type Signer struct {
	apiKey string
	secret []byte
	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

// NewSigner creates a signer for the given credentials.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, secret: []byte(apiSecret), now: time.Now}
}

// APIKey returns the key for the X-MBX-APIKEY header.
func (s *Signer) APIKey() string {
	return s.apiKey
}

// SignQuery stamps timestamp + recvWindow onto the given parameters, encodes
// them, and appends the HMAC-SHA256 signature. The returned string is the
// complete query string for the request.
func (s *Signer) SignQuery(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMillis))

	encoded := params.Encode()
	return encoded + "&signature=" + s.sign(encoded)
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
