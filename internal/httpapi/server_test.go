package httpapi_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"

	"silo/internal/config"
	"silo/internal/httpapi"
	"silo/internal/store"
)

const (
	accessKeyID     = "siloadmin"
	secretAccessKey = "siloadmin"
)

// newTestServer wires a fresh Store over a temporary root directory into
// an httpapi.Server and wraps it in an httptest.Server, the same shape
// the teacher's NewTestServer helper follows.
func newTestServer(t *testing.T) (*store.Store, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.AccessKey = accessKeyID
	cfg.SecretKey = secretAccessKey

	st, err := store.Open(context.Background(), cfg)
	require.NoError(t, err, "store.Open error")

	srv := httpapi.NewServer(cfg, st)
	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() { _ = st.Close() })
	t.Cleanup(httpSrv.Close)

	return st, httpSrv
}

func doMethod(t *testing.T, method, rawURL string, body []byte) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, rawURL, reader)
	require.NoError(t, err, "creating "+method+" request")
	req.SetBasicAuth(accessKeyID, secretAccessKey)
	if body != nil {
		req.ContentLength = int64(len(body))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoErrorf(t, err, "%s %s error", method, rawURL)
	return resp
}

func decodeS3ErrorCode(t *testing.T, r io.Reader) string {
	t.Helper()
	var s3Err struct {
		Code string `xml:"Code"`
	}
	require.NoError(t, xml.NewDecoder(r).Decode(&s3Err), "decoding S3 error XML")
	return s3Err.Code
}

func newMinioClient(t *testing.T, httpSrv *httptest.Server) *minio.Client {
	t.Helper()

	u, err := url.Parse(httpSrv.URL)
	require.NoError(t, err, "parsing test server URL")

	client, err := minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure:       u.Scheme == "https",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err, "creating MinIO client")
	return client
}

func TestCreateAndListBuckets(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)

	for _, b := range []string{"bucket-one", "bucket-two"} {
		resp := doMethod(t, http.MethodPut, httpSrv.URL+"/"+b, nil)
		defer resp.Body.Close()
		require.Equalf(t, http.StatusOK, resp.StatusCode, "PUT bucket %s status", b)
	}

	resp := doMethod(t, http.MethodGet, httpSrv.URL+"/", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listResp struct {
		Buckets []struct {
			Name string `xml:"Name"`
		} `xml:"Buckets>Bucket"`
	}
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&listResp))

	found := map[string]bool{}
	for _, b := range listResp.Buckets {
		found[b.Name] = true
	}
	require.True(t, found["bucket-one"])
	require.True(t, found["bucket-two"])
}

func TestPutGetObjectETagMatchesMD5(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)

	resp := doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one/hello.txt", []byte("world"))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sum := md5.Sum([]byte("world"))
	wantETag := `"` + hex.EncodeToString(sum[:]) + `"`
	require.Equal(t, wantETag, resp.Header.Get("ETag"))

	resp = doMethod(t, http.MethodGet, httpSrv.URL+"/bucket-one/hello.txt", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, wantETag, resp.Header.Get("ETag"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestPutObjectBadDigestReturnsError(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)

	resp := doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one", nil)
	resp.Body.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, httpSrv.URL+"/bucket-one/hello.txt", bytes.NewReader([]byte("world")))
	require.NoError(t, err)
	req.SetBasicAuth(accessKeyID, secretAccessKey)
	req.Header.Set("Content-MD5", "bm90dGhlcmlnaHRkaWdlc3Q=")

	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()

	require.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
	require.Equal(t, "BadDigest", decodeS3ErrorCode(t, httpResp.Body))
}

func TestListObjectsV2WithDelimiter(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)

	resp := doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one", nil)
	resp.Body.Close()

	for _, key := range []string{"a/1", "a/2", "b"} {
		resp := doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one/"+key, []byte("x"))
		resp.Body.Close()
	}

	resp = doMethod(t, http.MethodGet, httpSrv.URL+"/bucket-one?list-type=2&delimiter=%2F", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Contents []struct {
			Key string `xml:"Key"`
		} `xml:"Contents"`
		CommonPrefixes []struct {
			Prefix string `xml:"Prefix"`
		} `xml:"CommonPrefixes"`
	}
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&result))

	require.Len(t, result.Contents, 1)
	require.Equal(t, "b", result.Contents[0].Key)
	require.Len(t, result.CommonPrefixes, 1)
	require.Equal(t, "a/", result.CommonPrefixes[0].Prefix)
}

func TestRangeGetReportsClampedContentLength(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)

	resp := doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one", nil)
	resp.Body.Close()

	resp = doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one/hello.txt", []byte("0123456789"))
	resp.Body.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, httpSrv.URL+"/bucket-one/hello.txt", nil)
	require.NoError(t, err)
	req.SetBasicAuth(accessKeyID, secretAccessKey)
	req.Header.Set("Range", "bytes=2-4")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "3", resp.Header.Get("Content-Length"))
	require.Equal(t, "bytes 2-4/10", resp.Header.Get("Content-Range"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "234", string(got))
	require.Len(t, got, 3)
}

func TestDeleteBucketRejectsNonEmptyThenSucceeds(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)

	resp := doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one", nil)
	resp.Body.Close()

	resp = doMethod(t, http.MethodPut, httpSrv.URL+"/bucket-one/hello.txt", []byte("x"))
	resp.Body.Close()

	resp = doMethod(t, http.MethodDelete, httpSrv.URL+"/bucket-one", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "BucketNotEmpty", decodeS3ErrorCode(t, resp.Body))

	resp = doMethod(t, http.MethodDelete, httpSrv.URL+"/bucket-one/hello.txt", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doMethod(t, http.MethodDelete, httpSrv.URL+"/bucket-one", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// TestMultipartUploadUsingMinioCore exercises the multipart state machine
// through the MinIO Core API end to end, matching S3's ETag convention of
// hex(md5(concat(part MD5s)))-N for the completed object.
func TestMultipartUploadUsingMinioCore(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)
	ctx := context.Background()

	u, err := url.Parse(httpSrv.URL)
	require.NoError(t, err)

	coreClient, err := minio.NewCore(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure:       u.Scheme == "https",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err, "creating MinIO Core client")

	client := newMinioClient(t, httpSrv)
	const bucket = "multipart-bucket"
	const object = "multipart-object.bin"
	require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: "us-east-1"}))

	uploadID, err := coreClient.NewMultipartUpload(ctx, bucket, object, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	require.NoError(t, err, "NewMultipartUpload")
	require.NotEmpty(t, uploadID)

	part1 := bytes.Repeat([]byte("a"), 5*1024*1024)
	part2 := []byte("xyz")

	objPart1, err := coreClient.PutObjectPart(ctx, bucket, object, uploadID, 1, bytes.NewReader(part1), int64(len(part1)), minio.PutObjectPartOptions{})
	require.NoError(t, err, "PutObjectPart 1")
	objPart2, err := coreClient.PutObjectPart(ctx, bucket, object, uploadID, 2, bytes.NewReader(part2), int64(len(part2)), minio.PutObjectPartOptions{})
	require.NoError(t, err, "PutObjectPart 2")

	parts := []minio.CompletePart{
		{PartNumber: 1, ETag: objPart1.ETag},
		{PartNumber: 2, ETag: objPart2.ETag},
	}

	completed, err := coreClient.CompleteMultipartUpload(ctx, bucket, object, uploadID, parts, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	require.NoError(t, err, "CompleteMultipartUpload")
	require.Regexp(t, `-2"?$`, completed.ETag)

	obj, err := client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	require.NoError(t, err)
	defer obj.Close()

	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	require.Equal(t, len(part1)+len(part2), len(got))
}

func TestAbortMultipartUploadIsIdempotentOverHTTP(t *testing.T) {
	t.Parallel()
	_, httpSrv := newTestServer(t)
	ctx := context.Background()

	u, err := url.Parse(httpSrv.URL)
	require.NoError(t, err)

	coreClient, err := minio.NewCore(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure:       u.Scheme == "https",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err)

	client := newMinioClient(t, httpSrv)
	const bucket = "abort-bucket"
	const object = "abort-object.bin"
	require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: "us-east-1"}))

	uploadID, err := coreClient.NewMultipartUpload(ctx, bucket, object, minio.PutObjectOptions{})
	require.NoError(t, err)

	require.NoError(t, coreClient.AbortMultipartUpload(ctx, bucket, object, uploadID))
	require.NoError(t, coreClient.AbortMultipartUpload(ctx, bucket, object, uploadID))
}
