package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeadersAtSignsTimestampMethodPathBody(t *testing.T) {
	auth := &HMACAuth{Key: "api-key", Secret: "secret"}

	h := auth.HeadersAt("POST", "/v3/trade/order", `{"symbol":"PERP_BTC_USDT"}`, 1700000000000)

	require.Equal(t, "api-key", h[HeaderAPIKey])
	require.Equal(t, "1700000000000", h[HeaderTimestamp])
	want := hmacSHA256Hex([]byte("secret"), `1700000000000POST/v3/trade/order{"symbol":"PERP_BTC_USDT"}`)
	require.Equal(t, want, h[HeaderSignature])
	require.Len(t, h[HeaderSignature], 64)

	other := auth.HeadersAt("GET", "/v3/trade/order", `{"symbol":"PERP_BTC_USDT"}`, 1700000000000)
	require.NotEqual(t, h[HeaderSignature], other[HeaderSignature])
}

func TestHMACKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := hmacSHA256Hex([]byte("Jefe"), "what do ya want for nothing?")
	require.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdefgh", Secret: "supersecret"}
	s := auth.String()
	require.NotContains(t, s, "supersecret")
	require.Contains(t, s, "abcd****")
}

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("my-woox-secret", "pw")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "pw")
	require.NoError(t, err)
	require.Equal(t, "my-woox-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	require.Error(t, err)
}

func TestLoadSecretResolutionOrder(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw", EncryptedPath: "/nope"})
	require.NoError(t, err)
	require.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	require.Error(t, err)
}
