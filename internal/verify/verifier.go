// Package verify computes whole-artifact integrity over uploaded chunks.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/verichain-protocol/modelgate/internal/chunkstore"
	"github.com/verichain-protocol/modelgate/internal/errors"
	"github.com/verichain-protocol/modelgate/internal/metadata"
	"github.com/verichain-protocol/modelgate/internal/metrics"
)

// Verifier recomputes the artifact hash by streaming chunks in index order.
type Verifier struct {
	store  chunkstore.Store
	meta   metadata.SessionStore
	logger *slog.Logger
}

// NewVerifier creates a Verifier backed by the given stores.
func NewVerifier(store chunkstore.Store, meta metadata.SessionStore, logger *slog.Logger) *Verifier {
	return &Verifier{store: store, meta: meta, logger: logger}
}

// Result is the outcome of an integrity verification.
type Result struct {
	Match        bool
	ComputedHash string
	ExpectedHash string
}

// Verify hashes all chunks of the active session in ascending index order
// and compares the digest against the session's expected hash. A hash
// mismatch is an ordinary outcome, reported via Result.Match, not an error.
// Verification fails with an error only when the upload is incomplete or a
// chunk cannot be read back.
func (v *Verifier) Verify(ctx context.Context) (Result, error) {
	sess, err := v.meta.GetSession(ctx)
	if err != nil {
		return Result{}, errors.ErrInternalError.WithMessage(err.Error())
	}
	if sess == nil {
		return Result{}, errors.ErrNoActiveSession
	}

	count, err := v.meta.CountChunks(ctx, sess.SessionID)
	if err != nil {
		return Result{}, errors.ErrInternalError.WithMessage(err.Error())
	}
	if count != sess.TotalChunks {
		return Result{}, errors.ErrUploadIncomplete
	}

	h := sha256.New()
	for i := uint32(0); i < sess.TotalChunks; i++ {
		data, err := v.store.GetChunk(ctx, sess.SessionID, i)
		if err != nil {
			return Result{}, errors.ErrDecodeFailure.WithMessage(err.Error())
		}
		h.Write(data)
	}

	computed := hex.EncodeToString(h.Sum(nil))
	expected := strings.ToLower(sess.ExpectedHash)
	res := Result{
		Match:        computed == expected,
		ComputedHash: computed,
		ExpectedHash: expected,
	}
	if res.Match {
		metrics.VerificationsTotal.WithLabelValues("match").Inc()
		v.logger.Info("artifact verified", "session_id", sess.SessionID, "hash", computed)
	} else {
		metrics.VerificationsTotal.WithLabelValues("mismatch").Inc()
		v.logger.Warn("artifact hash mismatch",
			"session_id", sess.SessionID, "expected", expected, "computed", computed)
	}
	return res, nil
}
