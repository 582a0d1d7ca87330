package httpapi

import "net/http"

// route builds the Go 1.22+ pattern-based mux implementing the S3 route
// table named in §6.
func (s *Server) route() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleListBuckets)

	mux.HandleFunc("PUT /{bucket}", s.handleBucketPut)
	mux.HandleFunc("GET /{bucket}", s.handleBucketGet)
	mux.HandleFunc("HEAD /{bucket}", s.handleBucketHead)
	mux.HandleFunc("DELETE /{bucket}", s.handleBucketDelete)
	mux.HandleFunc("POST /{bucket}", s.handleBucketPost)

	mux.HandleFunc("PUT /{bucket}/{key...}", s.handleObjectPut)
	mux.HandleFunc("GET /{bucket}/{key...}", s.handleObjectGet)
	mux.HandleFunc("HEAD /{bucket}/{key...}", s.handleObjectHead)
	mux.HandleFunc("DELETE /{bucket}/{key...}", s.handleObjectDelete)
	mux.HandleFunc("POST /{bucket}/{key...}", s.handleObjectPost)

	return mux
}
