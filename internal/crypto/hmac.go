package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// WOO X authentication header names.
const (
	HeaderAPIKey    = "x-api-key"
	HeaderSignature = "x-api-signature"
	HeaderTimestamp = "x-api-timestamp"
)

// HMACAuth holds the credentials required for signed WOO X v3 requests.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, used raw as the HMAC key
}

// Headers returns the HTTP headers for a signed request. The signature is
// hex(HMAC-SHA256(secret, timestamp+method+path+body)) where timestamp is in
// milliseconds and path includes the query string.
//
// Returned header keys:
//   - x-api-key
//   - x-api-signature
//   - x-api-timestamp
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)

	message := ts + method + path + body
	sig := hmacSHA256Hex([]byte(h.Secret), message)

	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderSignature: sig,
		HeaderTimestamp: ts,
	}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lowercase hex digest.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
