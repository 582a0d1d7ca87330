package httpapi

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"silo/internal/admission"
	"silo/internal/coreerr"
	"silo/internal/store"
)

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")

	if copySource := r.Header.Get("X-Amz-Copy-Source"); copySource != "" {
		s.handleCopyObject(w, r, bucket, key, copySource)
		return
	}

	q := r.URL.Query()
	if q.Has("partNumber") && q.Has("uploadId") {
		s.handleUploadPart(w, r, bucket, key)
		return
	}

	if err := admission.CheckMutationAllowed(s.store.ReadOnly(bucket)); err != nil {
		writeCoreError(w, r, err)
		return
	}

	userMeta := userMetadataFromHeaders(r.Header)

	etag, err := s.store.PutObject(r.Context(), bucket, key, r.Body, r.Header.Get("Content-MD5"), userMeta)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	w.Header().Set("ETag", quoteETag(etag))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCopyObject(w http.ResponseWriter, r *http.Request, dstBucket, dstKey, copySource string) {
	if err := admission.CheckMutationAllowed(s.store.ReadOnly(dstBucket)); err != nil {
		writeCoreError(w, r, err)
		return
	}

	srcBucket, srcKey, err := parseCopySource(copySource)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	etag, err := s.store.CopyObject(r.Context(), srcBucket, srcKey, dstBucket, dstKey)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	obj, err := s.store.HeadObject(r.Context(), dstBucket, dstKey)
	lastModified := ""
	if err == nil {
		lastModified = obj.LastModified.Format(timeLayoutRFC3339)
	}

	writeXML(w, copyObjectResult{XMLNS: s3XMLNamespace, LastModified: lastModified, ETag: quoteETag(etag)})
}

func parseCopySource(raw string) (bucket, key string, err error) {
	decoded, decErr := url.QueryUnescape(raw)
	if decErr != nil {
		decoded = raw
	}
	decoded = strings.TrimPrefix(decoded, "/")

	parts := strings.SplitN(decoded, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", coreerr.New(coreerr.InvalidArgument, "invalid x-amz-copy-source")
	}
	return parts[0], parts[1], nil
}

func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request, bucket, key string) {
	q := r.URL.Query()

	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil {
		writeCoreError(w, r, coreerr.New(coreerr.InvalidArgument, "partNumber must be an integer"))
		return
	}

	accessKey := accessKeyFromContext(r)

	etag, err := s.store.UploadPart(r.Context(), bucket, key, q.Get("uploadId"), partNumber, r.Body, r.Header.Get("Content-MD5"), accessKey)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	w.Header().Set("ETag", quoteETag(etag))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")
	q := r.URL.Query()

	if q.Has("uploadId") {
		s.handleListParts(w, r, bucket, key)
		return
	}

	rng, err := parseRangeHeader(r.Header.Get("Range"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	obj, err := s.store.GetObject(r.Context(), bucket, key, rng)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	writeObjectHeaders(w, obj)
	if rng != nil {
		w.Header().Set("Content-Length", strconv.FormatInt(int64(len(obj.Body)), 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.Start+int64(len(obj.Body))-1, obj.Size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = w.Write(obj.Body)
}

func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request, bucket, key string) {
	q := r.URL.Query()

	marker, err := parseIntParam(q.Get("part-number-marker"), 0)
	if err != nil {
		writeCoreError(w, r, coreerr.New(coreerr.InvalidArgument, "part-number-marker must be an integer"))
		return
	}
	maxParts, err := parseIntParam(q.Get("max-parts"), 0)
	if err != nil {
		writeCoreError(w, r, coreerr.New(coreerr.InvalidArgument, "max-parts must be an integer"))
		return
	}

	accessKey := accessKeyFromContext(r)

	parts, truncated, err := s.store.ListParts(r.Context(), bucket, key, q.Get("uploadId"), marker, maxParts, accessKey)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	entries := make([]partEntry, 0, len(parts))
	nextMarker := 0
	for _, p := range parts {
		entries = append(entries, partEntry{
			PartNumber:   p.PartNumber,
			LastModified: p.LastModified.Format(timeLayoutRFC3339),
			ETag:         quoteETag(p.ETag),
			Size:         p.Size,
		})
		nextMarker = p.PartNumber
	}

	writeXML(w, listPartsResult{
		XMLNS:                s3XMLNamespace,
		Bucket:               bucket,
		Key:                  key,
		UploadID:             q.Get("uploadId"),
		PartNumberMarker:     marker,
		NextPartNumberMarker: nextMarker,
		MaxParts:             clampedMaxKeysOrDefault(maxParts),
		IsTruncated:          truncated,
		Parts:                entries,
	})
}

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")

	obj, err := s.store.HeadObject(r.Context(), bucket, key)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	writeObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")
	q := r.URL.Query()

	if err := admission.CheckMutationAllowed(s.store.ReadOnly(bucket)); err != nil {
		writeCoreError(w, r, err)
		return
	}

	if uploadID := q.Get("uploadId"); uploadID != "" {
		accessKey := accessKeyFromContext(r)
		if err := s.store.AbortMultipartUpload(r.Context(), bucket, key, uploadID, accessKey); err != nil {
			writeCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.store.DeleteObject(r.Context(), bucket, key); err != nil {
		writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	key := r.PathValue("key")
	q := r.URL.Query()

	if err := admission.CheckMutationAllowed(s.store.ReadOnly(bucket)); err != nil {
		writeCoreError(w, r, err)
		return
	}

	switch {
	case q.Has("uploads"):
		s.handleCreateMultipartUpload(w, r, bucket, key)
	case q.Has("uploadId"):
		s.handleCompleteMultipartUpload(w, r, bucket, key, q.Get("uploadId"))
	default:
		writeS3Error(w, "InvalidArgument", "unsupported object POST subresource", r.URL.Path, http.StatusBadRequest)
	}
}

func (s *Server) handleCreateMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key string) {
	accessKey := accessKeyFromContext(r)

	uploadID, err := s.store.CreateMultipartUpload(r.Context(), bucket, key, accessKey)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	writeXML(w, initiateMultipartUploadResult{XMLNS: s3XMLNamespace, Bucket: bucket, Key: key, UploadID: uploadID})
}

func (s *Server) handleCompleteMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key, uploadID string) {
	var req completeMultipartUploadRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		writeS3Error(w, "MalformedXML", "the XML you provided was not well-formed", r.URL.Path, http.StatusBadRequest)
		return
	}

	parts := make([]store.CompletedPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, store.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	accessKey := accessKeyFromContext(r)

	etag, err := s.store.CompleteMultipartUpload(r.Context(), bucket, key, uploadID, parts, accessKey)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	writeXML(w, completeMultipartUploadResult{
		XMLNS:  s3XMLNamespace,
		Bucket: bucket,
		Key:    key,
		ETag:   quoteETag(etag),
	})
}

func accessKeyFromContext(r *http.Request) string {
	if u := userFromContext(r.Context()); u != nil {
		return u.AccessKeyID
	}
	return ""
}

func writeObjectHeaders(w http.ResponseWriter, obj *store.Object) {
	w.Header().Set("ETag", quoteETag(obj.ETag))
	w.Header().Set("Last-Modified", obj.LastModified.Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	for k, v := range obj.UserMetadata {
		w.Header().Set("X-Amz-Meta-"+k, v)
	}
}

func userMetadataFromHeaders(h http.Header) map[string]string {
	const prefix = "X-Amz-Meta-"
	out := map[string]string{}
	for k, v := range h {
		if strings.HasPrefix(k, prefix) && len(v) > 0 {
			out[strings.TrimPrefix(k, prefix)] = v[0]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseRangeHeader(raw string) (*store.ByteRange, error) {
	if raw == "" {
		return nil, nil
	}
	raw = strings.TrimPrefix(raw, "bytes=")
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, coreerr.New(coreerr.InvalidRange, "malformed Range header")
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, coreerr.New(coreerr.InvalidRange, "malformed Range header")
	}

	end := int64(-1)
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, coreerr.New(coreerr.InvalidRange, "malformed Range header")
		}
	}

	return &store.ByteRange{Start: start, End: end}, nil
}
