package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierr "github.com/verichain-protocol/modelgate/internal/errors"
	"github.com/verichain-protocol/modelgate/internal/jsonutil"
	"github.com/verichain-protocol/modelgate/internal/metadata"
	"github.com/verichain-protocol/modelgate/internal/upload"
)

// maxMetadataBody bounds the JSON metadata request body.
const maxMetadataBody = 64 * 1024

// handleUploadMetadata starts a fresh upload session, replacing any prior
// one.
func (s *Server) handleUploadMetadata(w http.ResponseWriter, r *http.Request) {
	var req jsonutil.MetadataRequest
	if err := jsonutil.Decode(r, maxMetadataBody, &req); err != nil {
		jsonutil.RenderError(w, r, apierr.ErrInvalidMetadata.WithMessage("malformed JSON body"))
		return
	}

	sessionID, err := s.uploads.UploadMetadata(r.Context(), upload.Metadata{
		Name:           req.Name,
		TotalSizeBytes: req.TotalSizeBytes,
		TotalChunks:    req.TotalChunks,
		ChunkSizeMB:    req.ChunkSizeMB,
		ExpectedHash:   req.ExpectedHash,
	})
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	jsonutil.Render(w, http.StatusOK, jsonutil.MetadataResponse{SessionID: sessionID})
}

// handleUploadChunk accepts one raw chunk body. The declared per-chunk hash
// travels in the X-Chunk-Sha256 header and is checked before anything is
// written.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		jsonutil.RenderError(w, r, apierr.ErrIndexOutOfRange.WithMessage("chunk index must be an unsigned integer"))
		return
	}

	declaredHash := r.Header.Get("X-Chunk-Sha256")
	if declaredHash == "" {
		jsonutil.RenderError(w, r, apierr.ErrHashMismatch.WithMessage("missing X-Chunk-Sha256 header"))
		return
	}

	maxBody := s.cfg.Upload.MaxChunkSizeBytes + 1
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		jsonutil.RenderError(w, r, apierr.ErrEntityTooLarge)
		return
	}

	progress, err := s.uploads.UploadChunk(r.Context(), uint32(idx), data, declaredHash)
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	jsonutil.Render(w, http.StatusOK, jsonutil.ChunkResponse{
		SessionID:      progress.SessionID,
		ChunksUploaded: progress.ChunksUploaded,
		TotalChunks:    progress.TotalChunks,
		IsComplete:     progress.IsComplete,
	})
}

// handleUploadStatus reports the active session's progress and the chunks
// still missing.
func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.uploads.Status(r.Context())
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	if st == nil {
		jsonutil.RenderError(w, r, apierr.ErrNoActiveSession)
		return
	}

	missing := st.MissingChunks
	if missing == nil {
		missing = []uint32{}
	}
	jsonutil.Render(w, http.StatusOK, jsonutil.UploadStatusResponse{
		SessionID:      st.SessionID,
		Name:           st.Name,
		ChunksUploaded: st.ChunksUploaded,
		TotalChunks:    st.TotalChunks,
		IsComplete:     st.IsComplete,
		TotalSizeBytes: st.TotalSizeBytes,
		ExpectedHash:   st.ExpectedHash,
		MissingChunks:  missing,
	})
}

// handleStartInitialization transitions the state machine into streaming.
func (s *Server) handleStartInitialization(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Start(r.Context()); err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	state, err := s.machine.Status(r.Context())
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	jsonutil.Render(w, http.StatusAccepted, initStateResponse(state))
}

// handleContinueInitialization applies one materialization batch. The batch
// size comes from the batch_size query parameter when present.
func (s *Server) handleContinueInitialization(w http.ResponseWriter, r *http.Request) {
	var batchSize *uint32
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			jsonutil.RenderError(w, r, apierr.ErrInvalidMetadata.WithMessage("batch_size must be an unsigned integer"))
			return
		}
		v := uint32(n)
		batchSize = &v
	}

	progress, err := s.machine.Continue(r.Context(), batchSize)
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	state, err := s.machine.Status(r.Context())
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	jsonutil.Render(w, http.StatusOK, jsonutil.ContinueResponse{
		ProcessedChunks: progress.ProcessedChunks,
		TotalChunks:     progress.TotalChunks,
		Phase:           string(state.Phase),
	})
}

// handleInitializationStatus is a pure read of the checkpointed state. It is
// available in every phase, including failed.
func (s *Server) handleInitializationStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.machine.Status(r.Context())
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	jsonutil.Render(w, http.StatusOK, initStateResponse(state))
}

// handleVerify recomputes the artifact hash over uploaded chunks. A hash
// mismatch is reported in the body, not as an HTTP error, so callers can
// diagnose before deciding to reset. With the strict query parameter set, a
// mismatch instead renders the IntegrityMismatch error, for callers that gate
// a pipeline step on verification.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	strict := false
	if raw := r.URL.Query().Get("strict"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			jsonutil.RenderError(w, r, apierr.ErrInvalidMetadata.WithMessage("strict must be a boolean"))
			return
		}
		strict = v
	}

	res, err := s.verifier.Verify(r.Context())
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	if strict && !res.Match {
		jsonutil.RenderError(w, r, apierr.ErrIntegrityMismatch.WithMessage(
			fmt.Sprintf("computed %s, expected %s", res.ComputedHash, res.ExpectedHash)))
		return
	}
	jsonutil.Render(w, http.StatusOK, jsonutil.VerifyResponse{
		Match:        res.Match,
		ComputedHash: res.ComputedHash,
		ExpectedHash: res.ExpectedHash,
	})
}

// handlePipelineStatus renders the aggregate pipeline view.
func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reporter.Report(r.Context())
	if err != nil {
		jsonutil.RenderError(w, r, err)
		return
	}
	jsonutil.Render(w, http.StatusOK, jsonutil.PipelineStatusResponse{
		Status:            string(rep.Label),
		SessionID:         rep.SessionID,
		Name:              rep.Name,
		ChunksUploaded:    rep.ChunksUploaded,
		TotalChunks:       rep.TotalChunks,
		UploadPercent:     rep.UploadPercent,
		ProcessedChunks:   rep.ProcessedChunks,
		InitPercent:       rep.InitPercent,
		TotalSizeMB:       rep.TotalSizeMB,
		AssembledSizeMB:   rep.AssembledSizeMB,
		FinalHash:         rep.FinalHash,
		FailureReason:     rep.FailureReason,
		MissingChunkCount: rep.MissingChunkCount,
	})
}

func initStateResponse(state metadata.InitStateRecord) jsonutil.InitStateResponse {
	return jsonutil.InitStateResponse{
		Phase:           string(state.Phase),
		SessionID:       state.SessionID,
		ProcessedChunks: state.ProcessedChunks,
		TotalChunks:     state.TotalChunks,
		BytesAssembled:  state.BytesAssembled,
		FinalHash:       state.FinalHash,
		FailureReason:   state.FailureReason,
	}
}
