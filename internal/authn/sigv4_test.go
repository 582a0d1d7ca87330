package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// signHeaderRequest signs r exactly the way an S3 client would, reusing
// the engine's own canonicalization so the test is independent of any
// particular AWS SDK being vendored.
func signHeaderRequest(t *testing.T, e *SigV4AuthEngine, r *http.Request, signedAt time.Time) {
	t.Helper()

	amzDate := signedAt.Format("20060102T150405Z")
	dateStamp := signedAt.Format("20060102")
	r.Header.Set("X-Amz-Date", amzDate)
	r.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	if r.Host == "" {
		r.Host = r.URL.Host
	}

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	canonicalReq := buildCanonicalRequest(r, signedHeaders, "UNSIGNED-PAYLOAD", "")
	crHash := sha256.Sum256([]byte(canonicalReq))

	credentialScope := strings.Join([]string{dateStamp, "us-east-1", "s3", "aws4_request"}, "/")
	sts := stringToSign(amzDate, credentialScope, hex.EncodeToString(crHash[:]))
	sig := hmacSHA256(e.signingKey(dateStamp, "us-east-1", "s3"), sts)

	auth := awsV4Prefix +
		"Credential=" + e.AccessKeyID + "/" + credentialScope + ", " +
		"SignedHeaders=" + strings.Join(signedHeaders, ";") + ", " +
		"Signature=" + hex.EncodeToString(sig)
	r.Header.Set("Authorization", auth)
}

func TestSigV4HeaderAuthenticationRoundTrip(t *testing.T) {
	e := NewSigV4AuthEngine("AKIAEXAMPLE", "secret")

	r, err := http.NewRequest(http.MethodGet, "http://example.com/bucket/key", nil)
	require.NoError(t, err)
	signHeaderRequest(t, e, r, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	user, err := e.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "AKIAEXAMPLE", user.AccessKeyID)
}

func TestSigV4HeaderAuthenticationRejectsTamperedRequest(t *testing.T) {
	e := NewSigV4AuthEngine("AKIAEXAMPLE", "secret")

	r, err := http.NewRequest(http.MethodGet, "http://example.com/bucket/key", nil)
	require.NoError(t, err)
	signHeaderRequest(t, e, r, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	r.URL.Path = "/bucket/other-key"

	user, err := e.AuthenticateRequest(r.Context(), r)
	require.Error(t, err)
	require.Nil(t, user)
}

func TestSigV4DeclinesRequestsWithoutSigV4Scheme(t *testing.T) {
	e := NewSigV4AuthEngine("AKIAEXAMPLE", "secret")

	r, err := http.NewRequest(http.MethodGet, "http://example.com/bucket/key", nil)
	require.NoError(t, err)

	user, err := e.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestSigV4PresignedURLExpiry(t *testing.T) {
	e := NewSigV4AuthEngine("AKIAEXAMPLE", "secret")
	signedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	dateStamp := signedAt.Format("20060102")
	amzDate := signedAt.Format("20060102T150405Z")
	credentialScope := strings.Join([]string{dateStamp, "us-east-1", "s3", "aws4_request"}, "/")

	q := url.Values{}
	q.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	q.Set("X-Amz-Credential", e.AccessKeyID+"/"+credentialScope)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", "60")
	q.Set("X-Amz-SignedHeaders", "host")

	r, err := http.NewRequest(http.MethodGet, "http://example.com/bucket/key?"+q.Encode(), nil)
	require.NoError(t, err)
	r.Host = r.URL.Host

	canonicalReq := buildCanonicalRequest(r, []string{"host"}, "UNSIGNED-PAYLOAD", "X-Amz-Signature")
	crHash := sha256.Sum256([]byte(canonicalReq))
	sts := stringToSign(amzDate, credentialScope, hex.EncodeToString(crHash[:]))
	sig := hmacSHA256(e.signingKey(dateStamp, "us-east-1", "s3"), sts)

	qq := r.URL.Query()
	qq.Set("X-Amz-Signature", hex.EncodeToString(sig))
	r.URL.RawQuery = qq.Encode()

	e.Now = func() time.Time { return signedAt.Add(30 * time.Second) }
	user, err := e.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.NotNil(t, user)

	e.Now = func() time.Time { return signedAt.Add(90 * time.Second) }
	user, err = e.AuthenticateRequest(r.Context(), r)
	require.Error(t, err, "expired presigned URL must be rejected")
	require.Nil(t, user)
}

func TestHmacSHA256Deterministic(t *testing.T) {
	a := hmacSHA256([]byte("key"), "data")
	b := hmacSHA256([]byte("key"), "data")
	require.True(t, hmac.Equal(a, b))
}
