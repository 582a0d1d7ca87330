package store

import (
	"bytes"
	"crypto/md5" //nolint:gosec // MD5 is the S3 ETag/Content-MD5 algorithm, not used for security here.
	"encoding/base64"
	"encoding/hex"
	"io"

	"silo/internal/coreerr"
)

// readBodyVerifyMD5 reads body fully while streaming an MD5 digest,
// matching §4.8: Content-MD5, when supplied, is the base64 of the
// 16-byte digest, and is compared before the request is allowed to
// mutate any state.
func readBodyVerifyMD5(body io.Reader, declaredMD5Base64 string) (data []byte, md5Hex string, err error) {
	h := md5.New() //nolint:gosec
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.TeeReader(body, h)); err != nil {
		return nil, "", coreerr.Internal("read request body", err)
	}

	sum := h.Sum(nil)
	md5Hex = hex.EncodeToString(sum)

	if declaredMD5Base64 != "" {
		declared, decodeErr := base64.StdEncoding.DecodeString(declaredMD5Base64)
		if decodeErr != nil || !bytes.Equal(declared, sum) {
			return nil, "", coreerr.New(coreerr.BadDigest, "the Content-MD5 you specified did not match what we received")
		}
	}

	return buf.Bytes(), md5Hex, nil
}
