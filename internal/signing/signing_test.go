package signing

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPayload = []byte(`{"orderId":"order-1","currencyFrom":"EUR","amountFrom":"150.25"}`)

func generateKeyBody(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der), key
}

func TestHMACSigner_MatchesReference(t *testing.T) {
	s, err := NewHMACSigner("top-secret", EncodingRaw)
	require.NoError(t, err)

	sig, err := s.Sign(testPayload)
	require.NoError(t, err)

	mac := hmac.New(sha512.New, []byte("top-secret"))
	mac.Write(testPayload)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
	assert.Len(t, sig, 128)
}

func TestHMACSigner_Deterministic(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("shared-key-bytes"))

	for _, enc := range []Encoding{EncodingRaw, EncodingBase64} {
		t.Run(string(enc), func(t *testing.T) {
			s, err := NewHMACSigner(secret, enc)
			require.NoError(t, err)

			first, err := s.Sign(testPayload)
			require.NoError(t, err)
			second, err := s.Sign(testPayload)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestHMACSigner_RawAndBase64Differ(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("shared-key-bytes"))

	raw, err := NewHMACSigner(secret, EncodingRaw)
	require.NoError(t, err)
	decoded, err := NewHMACSigner(secret, EncodingBase64)
	require.NoError(t, err)

	rawSig, _ := raw.Sign(testPayload)
	decodedSig, _ := decoded.Sign(testPayload)
	assert.NotEqual(t, rawSig, decodedSig)

	mac := hmac.New(sha512.New, []byte("shared-key-bytes"))
	mac.Write(testPayload)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), decodedSig)
}

func TestNewHMACSigner_InvalidSecret(t *testing.T) {
	_, err := NewHMACSigner("", EncodingRaw)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSecret)

	_, err = NewHMACSigner("not base64 !!", EncodingBase64)
	var se *domainErrors.SigningError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "hmac", se.Algorithm)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSecret)
}

func TestRSASigner_SignAndVerify(t *testing.T) {
	body, key := generateKeyBody(t)

	s, err := NewRSASigner(body)
	require.NoError(t, err)

	sig, err := s.Sign(testPayload)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	digest := sha256.Sum256(testPayload)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], raw))

	again, err := s.Sign(testPayload)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestNewRSASigner_MalformedKey(t *testing.T) {
	_, err := NewRSASigner("bm90IGEga2V5")

	var se *domainErrors.SigningError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "rsa", se.Algorithm)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSecret)
}

func TestBuildPEM_LineCountAndRoundTrip(t *testing.T) {
	body, _ := generateKeyBody(t)

	tests := []struct {
		name string
		body string
	}{
		{"generated key", body},
		{"exact multiple of 64", strings.Repeat("A", 128)},
		{"short", "QUJD"},
		{"one over", strings.Repeat("B", 65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			armored := BuildPEM(tt.body)

			lines := strings.Split(strings.TrimSuffix(armored, "\n"), "\n")
			require.GreaterOrEqual(t, len(lines), 2)
			assert.Equal(t, pemHeader, lines[0])
			assert.Equal(t, pemFooter, lines[len(lines)-1])

			bodyLines := lines[1 : len(lines)-1]
			assert.Len(t, bodyLines, (len(tt.body)+pemLineWidth-1)/pemLineWidth)
			for _, l := range bodyLines {
				assert.LessOrEqual(t, len(l), pemLineWidth)
			}

			assert.Equal(t, tt.body, StripPEM(armored))
		})
	}
}

func TestSign_OneShot(t *testing.T) {
	sig1, err := Sign(testPayload, "k", AlgorithmHMAC)
	require.NoError(t, err)
	sig2, err := Sign(testPayload, "k", AlgorithmHMAC)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)

	_, err = Sign(testPayload, "k", Algorithm("ed25519"))
	assert.ErrorIs(t, err, domainErrors.ErrUnsupportedAlgorithm)
}
