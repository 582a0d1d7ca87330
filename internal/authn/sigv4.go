package authn

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"silo/internal/coreerr"
)

func coreAccessDenied(message string) error {
	return coreerr.New(coreerr.AccessDenied, message)
}

const awsV4Prefix = "AWS4-HMAC-SHA256 "

// SigV4AuthEngine verifies AWS Signature Version 4, both as an
// Authorization header and as a presigned query string.
type SigV4AuthEngine struct {
	AccessKeyID     string
	SecretAccessKey string

	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

func NewSigV4AuthEngine(accessKeyID, secretAccessKey string) *SigV4AuthEngine {
	return &SigV4AuthEngine{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Now:             time.Now,
	}
}

func (e *SigV4AuthEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func awsURLEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

func canonicalQueryString(u *url.URL, exclude string) string {
	values := u.Query()
	values.Del(exclude)
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, awsURLEncode(k, true)+"="+awsURLEncode(v, true))
		}
	}
	return strings.Join(parts, "&")
}

func canonicalHeaderValue(v string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(v)), " ")
}

func buildCanonicalRequest(r *http.Request, signedHeaderNames []string, payloadHash, excludeQueryParam string) string {
	canonicalURI := awsURLEncode(r.URL.EscapedPath(), false)
	canonicalQS := canonicalQueryString(r.URL, excludeQueryParam)

	lowerNames := make([]string, len(signedHeaderNames))
	for i, h := range signedHeaderNames {
		lowerNames[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var hdr strings.Builder
	for _, name := range lowerNames {
		if name == "" {
			continue
		}
		var value string
		if name == "host" {
			value = r.Host
			if value == "" {
				value = r.URL.Host
			}
		} else {
			value = r.Header.Get(name)
		}
		hdr.WriteString(name)
		hdr.WriteString(":")
		hdr.WriteString(canonicalHeaderValue(value))
		hdr.WriteString("\n")
	}

	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString("\n")
	b.WriteString(canonicalURI)
	b.WriteString("\n")
	b.WriteString(canonicalQS)
	b.WriteString("\n")
	b.WriteString(hdr.String())
	b.WriteString("\n")
	b.WriteString(strings.Join(lowerNames, ";"))
	b.WriteString("\n")
	b.WriteString(payloadHash)
	return b.String()
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func (e *SigV4AuthEngine) signingKey(dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+e.SecretAccessKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}

func parseCredentialScope(cred string) (accessKeyID, dateStamp, region, service string, ok bool) {
	parts := strings.Split(cred, "/")
	if len(parts) != 5 || parts[4] != "aws4_request" {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}

func stringToSign(amzDate, credentialScope, canonicalRequestHash string) string {
	var b strings.Builder
	b.WriteString("AWS4-HMAC-SHA256\n")
	b.WriteString(amzDate)
	b.WriteString("\n")
	b.WriteString(credentialScope)
	b.WriteString("\n")
	b.WriteString(canonicalRequestHash)
	return b.String()
}

// AuthenticateRequest recognizes either a header-based Authorization:
// AWS4-HMAC-SHA256 request or a presigned query-string request; it
// declines (returns nil, nil) any request bearing neither.
func (e *SigV4AuthEngine) AuthenticateRequest(_ context.Context, r *http.Request) (*User, error) {
	if r.URL.Query().Get("X-Amz-Signature") != "" {
		return e.authenticatePresigned(r)
	}
	return e.authenticateHeader(r)
}

func (e *SigV4AuthEngine) authenticateHeader(r *http.Request) (*User, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, awsV4Prefix) {
		return nil, nil
	}

	kv := parseAuthParams(strings.TrimPrefix(auth, awsV4Prefix))
	credStr, signedHeadersStr, signatureHex := kv["Credential"], kv["SignedHeaders"], kv["Signature"]
	if credStr == "" || signedHeadersStr == "" || signatureHex == "" {
		return nil, nil
	}

	accessKeyID, dateStamp, region, service, ok := parseCredentialScope(credStr)
	if !ok || accessKeyID != e.AccessKeyID {
		return nil, nil
	}

	amzDate := r.Header.Get("X-Amz-Date")
	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if amzDate == "" || payloadHash == "" {
		return nil, nil
	}

	signedHeaderNames := strings.Split(signedHeadersStr, ";")
	canonicalReq := buildCanonicalRequest(r, signedHeaderNames, payloadHash, "")
	return e.verify(accessKeyID, dateStamp, region, service, amzDate, canonicalReq, signatureHex)
}

func (e *SigV4AuthEngine) authenticatePresigned(r *http.Request) (*User, error) {
	q := r.URL.Query()
	if q.Get("X-Amz-Algorithm") != "AWS4-HMAC-SHA256" {
		return nil, nil
	}

	credStr := q.Get("X-Amz-Credential")
	signedHeadersStr := q.Get("X-Amz-SignedHeaders")
	signatureHex := q.Get("X-Amz-Signature")
	amzDate := q.Get("X-Amz-Date")
	expiresStr := q.Get("X-Amz-Expires")
	if credStr == "" || signedHeadersStr == "" || signatureHex == "" || amzDate == "" {
		return nil, nil
	}

	accessKeyID, dateStamp, region, service, ok := parseCredentialScope(credStr)
	if !ok || accessKeyID != e.AccessKeyID {
		return nil, nil
	}

	signedAt, err := time.Parse("20060102T150405Z", amzDate)
	if err != nil {
		return nil, nil
	}

	expires, err := strconv.Atoi(expiresStr)
	if err != nil || expires <= 0 {
		expires = 900
	}

	if e.now().After(signedAt.Add(time.Duration(expires) * time.Second)) {
		return nil, coreAccessDenied("presigned URL has expired")
	}

	payloadHash := "UNSIGNED-PAYLOAD"
	signedHeaderNames := strings.Split(signedHeadersStr, ";")
	canonicalReq := buildCanonicalRequest(r, signedHeaderNames, payloadHash, "X-Amz-Signature")
	return e.verify(accessKeyID, dateStamp, region, service, amzDate, canonicalReq, signatureHex)
}

func (e *SigV4AuthEngine) verify(accessKeyID, dateStamp, region, service, amzDate, canonicalReq, signatureHex string) (*User, error) {
	crHash := sha256.Sum256([]byte(canonicalReq))
	credentialScope := strings.Join([]string{dateStamp, region, service, "aws4_request"}, "/")
	sts := stringToSign(amzDate, credentialScope, hex.EncodeToString(crHash[:]))

	computed := hmacSHA256(e.signingKey(dateStamp, region, service), sts)
	decoded, err := hex.DecodeString(signatureHex)
	if err != nil || !hmac.Equal(computed, decoded) {
		return nil, coreAccessDenied("the request signature does not match")
	}

	return &User{AccessKeyID: accessKeyID}, nil
}

func parseAuthParams(params string) map[string]string {
	kv := make(map[string]string)
	for _, p := range strings.Split(params, ",") {
		p = strings.TrimSpace(p)
		idx := strings.IndexByte(p, '=')
		if idx <= 0 {
			continue
		}
		kv[p[:idx]] = strings.TrimSpace(p[idx+1:])
	}
	return kv
}
