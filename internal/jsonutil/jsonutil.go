// Package jsonutil provides the JSON wire types and rendering helpers for
// the model delivery API.
package jsonutil

import (
	"encoding/json"
	"net/http"

	apierr "github.com/verichain-protocol/modelgate/internal/errors"
)

// ErrorResponse is the JSON envelope for all error responses.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// MetadataRequest is the body of an upload_model_metadata call.
type MetadataRequest struct {
	Name           string `json:"name"`
	TotalSizeBytes uint64 `json:"total_size_bytes"`
	TotalChunks    uint32 `json:"total_chunks"`
	ChunkSizeMB    uint32 `json:"chunk_size_mb"`
	ExpectedHash   string `json:"expected_hash"`
}

// MetadataResponse acknowledges a session reset with the new session id.
type MetadataResponse struct {
	SessionID string `json:"session_id"`
}

// ChunkResponse reports upload progress after an accepted chunk.
type ChunkResponse struct {
	SessionID      string `json:"session_id"`
	ChunksUploaded uint32 `json:"chunks_uploaded"`
	TotalChunks    uint32 `json:"total_chunks"`
	IsComplete     bool   `json:"is_complete"`
}

// UploadStatusResponse is the full read-only view of the upload session.
type UploadStatusResponse struct {
	SessionID      string   `json:"session_id"`
	Name           string   `json:"name"`
	ChunksUploaded uint32   `json:"chunks_uploaded"`
	TotalChunks    uint32   `json:"total_chunks"`
	IsComplete     bool     `json:"is_complete"`
	TotalSizeBytes uint64   `json:"total_size_bytes"`
	ExpectedHash   string   `json:"expected_hash"`
	MissingChunks  []uint32 `json:"missing_chunks"`
}

// InitStateResponse is the tagged materialization state variant. Phase is one
// of not_started, streaming, completed, failed; the optional fields are
// populated per phase.
type InitStateResponse struct {
	Phase           string `json:"phase"`
	SessionID       string `json:"session_id,omitempty"`
	ProcessedChunks uint32 `json:"processed_chunks"`
	TotalChunks     uint32 `json:"total_chunks"`
	BytesAssembled  uint64 `json:"bytes_assembled"`
	FinalHash       string `json:"final_hash,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// ContinueResponse reports progress after one materialization batch.
type ContinueResponse struct {
	ProcessedChunks uint32 `json:"processed_chunks"`
	TotalChunks     uint32 `json:"total_chunks"`
	Phase           string `json:"phase"`
}

// VerifyResponse reports the outcome of an integrity verification.
type VerifyResponse struct {
	Match        bool   `json:"match"`
	ComputedHash string `json:"computed_hash"`
	ExpectedHash string `json:"expected_hash"`
}

// PipelineStatusResponse is the aggregate pipeline view.
type PipelineStatusResponse struct {
	Status            string `json:"status"`
	SessionID         string `json:"session_id,omitempty"`
	Name              string `json:"name,omitempty"`
	ChunksUploaded    uint32 `json:"chunks_uploaded"`
	TotalChunks       uint32 `json:"total_chunks"`
	UploadPercent     uint32 `json:"upload_percent"`
	ProcessedChunks   uint32 `json:"processed_chunks"`
	InitPercent       uint32 `json:"init_percent"`
	TotalSizeMB       uint64 `json:"total_size_mb"`
	AssembledSizeMB   uint64 `json:"assembled_size_mb"`
	FinalHash         string `json:"final_hash,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	MissingChunkCount uint32 `json:"missing_chunk_count"`
}

// RenderError writes an error envelope. Unknown error values are wrapped as
// InternalError so callers always receive the envelope shape.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierr.FromError(err)
	resp := ErrorResponse{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		RequestID: w.Header().Get("X-Request-Id"),
	}
	Render(w, apiErr.HTTPStatus, resp)
}

// Render marshals v as JSON and writes it with the given HTTP status code.
func Render(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.Encode(v)
}

// Decode reads a JSON body into v, limiting the body to maxBytes.
func Decode(r *http.Request, maxBytes int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	return dec.Decode(v)
}
