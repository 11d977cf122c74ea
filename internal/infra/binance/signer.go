package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Signer produces Binance request signatures: an HMAC-SHA256 over the
// canonical query string, hex encoded. The same scheme covers REST query
// strings and ws-api param objects.
type Signer struct {
	apiKey string
	secret string
}

// NewSigner creates a Signer for the given credentials.
func NewSigner(apiKey, secret string) *Signer {
	return &Signer{apiKey: apiKey, secret: secret}
}

// APIKey returns the public key identifier sent with each request.
func (s *Signer) APIKey() string {
	return s.apiKey
}

// Sign computes the hex HMAC-SHA256 of payload with the api secret.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery stamps and signs a REST query: timestamp is appended, the
// values are encoded in sorted key order, and the signature over that
// exact string is attached last. The returned string goes on the wire
// unchanged, otherwise the signature would not match.
func (s *Signer) SignQuery(values url.Values) string {
	values.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	encoded := values.Encode() // sorted by key
	return encoded + "&signature=" + s.Sign(encoded)
}

// SignParams stamps and signs a ws-api params object in place: apiKey and
// timestamp are added, then signature over the canonical k=v join.
func (s *Signer) SignParams(params map[string]any) map[string]any {
	params["apiKey"] = s.apiKey
	params["timestamp"] = time.Now().UnixMilli()
	params["signature"] = s.Sign(canonicalQuery(params))
	return params
}

// canonicalQuery joins params as k=v pairs with &, keys sorted, signature
// excluded. Values use their wire text: numbers unquoted, booleans
// true/false, everything else as-is.
func canonicalQuery(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		fmt.Fprintf(&sb, "%v", params[k])
	}
	return sb.String()
}
