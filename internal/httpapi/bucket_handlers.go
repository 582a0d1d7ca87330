package httpapi

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"time"

	"silo/internal/admission"
	"silo/internal/coreerr"
	"silo/internal/store"
)

const timeLayoutRFC3339 = time.RFC3339

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	buckets := s.store.ListBuckets(r.Context())
	entries := make([]bucketEntry, 0, len(buckets))
	for _, b := range buckets {
		entries = append(entries, bucketEntry{Name: b.Name, CreationDate: b.CreationDate})
	}

	writeXML(w, listAllMyBucketsResult{
		XMLNS:   s3XMLNamespace,
		Owner:   owner{ID: user.AccessKeyID, DisplayName: user.AccessKeyID},
		Buckets: entries,
	})
}

func (s *Server) handleBucketPut(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")

	if err := s.store.CreateBucket(r.Context(), bucket); err != nil {
		writeCoreError(w, r, err)
		return
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBucketHead(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")

	if err := s.store.HeadBucket(r.Context(), bucket); err != nil {
		writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBucketDelete(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")

	if err := admission.CheckMutationAllowed(s.store.ReadOnly(bucket)); err != nil {
		writeCoreError(w, r, err)
		return
	}

	if err := s.store.DeleteBucket(r.Context(), bucket); err != nil {
		writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBucketGet(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	q := r.URL.Query()

	if err := s.store.HeadBucket(r.Context(), bucket); err != nil {
		writeCoreError(w, r, err)
		return
	}

	switch {
	case q.Has("location"):
		writeXML(w, locationConstraint{XMLNS: s3XMLNamespace})
	case q.Has("uploads"):
		s.handleListMultipartUploads(w, r, bucket)
	case q.Get("list-type") == "2":
		s.handleListObjectsV2(w, r, bucket)
	default:
		s.handleListObjectsV1(w, r, bucket)
	}
}

func (s *Server) handleListObjectsV2(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()

	maxKeys, err := parseIntParam(q.Get("max-keys"), 0)
	if err != nil {
		writeCoreError(w, r, coreerr.New(coreerr.InvalidArgument, "max-keys must be an integer"))
		return
	}

	result, err := s.store.ListObjectsV2(r.Context(), bucket, q.Get("prefix"), q.Get("delimiter"),
		q.Get("start-after"), q.Get("continuation-token"), maxKeys)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	resp := listBucketResultV2{
		XMLNS:                 s3XMLNamespace,
		Name:                  bucket,
		Prefix:                q.Get("prefix"),
		Delimiter:             q.Get("delimiter"),
		MaxKeys:               clampedMaxKeysOrDefault(maxKeys),
		KeyCount:              len(result.Contents) + len(result.CommonPrefixes),
		IsTruncated:           result.IsTruncated,
		ContinuationToken:     q.Get("continuation-token"),
		NextContinuationToken: result.NextContinuationToken,
		StartAfter:            q.Get("start-after"),
		Contents:              toObjectSummaries(result.Contents),
		CommonPrefixes:        toCommonPrefixes(result.CommonPrefixes),
	}
	writeXML(w, resp)
}

func (s *Server) handleListObjectsV1(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()

	maxKeys, err := parseIntParam(q.Get("max-keys"), 0)
	if err != nil {
		writeCoreError(w, r, coreerr.New(coreerr.InvalidArgument, "max-keys must be an integer"))
		return
	}

	result, err := s.store.ListObjectsV2(r.Context(), bucket, q.Get("prefix"), q.Get("delimiter"),
		q.Get("marker"), "", maxKeys)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	var nextMarker string
	if result.IsTruncated {
		nextMarker, _ = store.DecodeContinuationToken(result.NextContinuationToken)
	}

	resp := listBucketResult{
		XMLNS:          s3XMLNamespace,
		Name:           bucket,
		Prefix:         q.Get("prefix"),
		Marker:         q.Get("marker"),
		NextMarker:     nextMarker,
		Delimiter:      q.Get("delimiter"),
		MaxKeys:        clampedMaxKeysOrDefault(maxKeys),
		IsTruncated:    result.IsTruncated,
		Contents:       toObjectSummaries(result.Contents),
		CommonPrefixes: toCommonPrefixes(result.CommonPrefixes),
	}
	writeXML(w, resp)
}

func (s *Server) handleListMultipartUploads(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()

	maxUploads, err := parseIntParam(q.Get("max-uploads"), 0)
	if err != nil {
		writeCoreError(w, r, coreerr.New(coreerr.InvalidArgument, "max-uploads must be an integer"))
		return
	}

	uploads, truncated, err := s.store.ListMultipartUploads(r.Context(), bucket, q.Get("prefix"), q.Get("key-marker"), maxUploads)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	entries := make([]uploadEntry, 0, len(uploads))
	for _, u := range uploads {
		entries = append(entries, uploadEntry{
			Key:       u.Key,
			UploadID:  u.UploadID,
			Initiated: u.LastModified.Format(timeLayoutRFC3339),
		})
	}

	writeXML(w, listMultipartUploadsResult{
		XMLNS:       s3XMLNamespace,
		Bucket:      bucket,
		Prefix:      q.Get("prefix"),
		KeyMarker:   q.Get("key-marker"),
		MaxUploads:  clampedMaxKeysOrDefault(maxUploads),
		IsTruncated: truncated,
		Uploads:     entries,
	})
}

func (s *Server) handleBucketPost(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	if !r.URL.Query().Has("delete") {
		writeS3Error(w, "InvalidArgument", "unsupported bucket POST subresource", r.URL.Path, http.StatusBadRequest)
		return
	}

	if err := admission.CheckMutationAllowed(s.store.ReadOnly(bucket)); err != nil {
		writeCoreError(w, r, err)
		return
	}

	var req deleteRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		writeS3Error(w, "MalformedXML", "the XML you provided was not well-formed", r.URL.Path, http.StatusBadRequest)
		return
	}

	keys := make([]string, 0, len(req.Objects))
	for _, obj := range req.Objects {
		keys = append(keys, obj.Key)
	}

	deleted, err := s.store.DeleteObjects(r.Context(), bucket, keys)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	entries := make([]deletedObject, 0, len(deleted))
	for _, k := range deleted {
		entries = append(entries, deletedObject{Key: k})
	}
	writeXML(w, deleteResult{XMLNS: s3XMLNamespace, Deleted: entries})
}

func parseIntParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func clampedMaxKeysOrDefault(n int) int {
	if n <= 0 || n > 1000 {
		return 1000
	}
	return n
}

func toObjectSummaries(in []store.ObjectSummary) []objectSummary {
	out := make([]objectSummary, 0, len(in))
	for _, o := range in {
		out = append(out, objectSummary{
			Key:          o.Key,
			LastModified: o.LastModified.Format(timeLayoutRFC3339),
			ETag:         quoteETag(o.ETag),
			Size:         o.Size,
			StorageClass: "STANDARD",
		})
	}
	return out
}

func toCommonPrefixes(in []string) []commonPrefix {
	out := make([]commonPrefix, 0, len(in))
	for _, p := range in {
		out = append(out, commonPrefix{Prefix: p})
	}
	return out
}
