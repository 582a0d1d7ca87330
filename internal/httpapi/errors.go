package httpapi

import (
	"encoding/xml"
	"net/http"

	"silo/internal/coreerr"
)

var statusByKind = map[coreerr.Kind]int{
	coreerr.NoSuchBucket:        http.StatusNotFound,
	coreerr.BucketAlreadyExists: http.StatusConflict,
	coreerr.BucketNotEmpty:      http.StatusConflict,
	coreerr.NoSuchKey:           http.StatusNotFound,
	coreerr.NoSuchUpload:        http.StatusNotFound,
	coreerr.InvalidPart:         http.StatusBadRequest,
	coreerr.EntityTooSmall:      http.StatusBadRequest,
	coreerr.InvalidArgument:     http.StatusBadRequest,
	coreerr.InvalidRange:        http.StatusRequestedRangeNotSatisfiable,
	coreerr.BadDigest:           http.StatusBadRequest,
	coreerr.AccessDenied:        http.StatusForbidden,
	coreerr.InternalError:       http.StatusInternalServerError,
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, code, message, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(s3Error{Code: code, Message: message, Resource: resource})
}

// writeCoreError translates a *coreerr.Error (or any error, defaulting
// to InternalError) into an S3 XML error response.
func writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	ce, ok := coreerr.As(err)
	if !ok {
		ce = coreerr.Internal("internal error", err)
	}

	status, ok := statusByKind[ce.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	writeS3Error(w, string(ce.Kind), ce.Message, r.URL.Path, status)
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(v)
}
