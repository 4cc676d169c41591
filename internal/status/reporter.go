// Package status aggregates upload and materialization state into a single
// read-only view for operators and UIs.
package status

import (
	"context"

	"github.com/verichain-protocol/modelgate/internal/metadata"
	"github.com/verichain-protocol/modelgate/internal/upload"
)

// Label is the coarse-grained overall state of the artifact pipeline.
type Label string

const (
	LabelNotUploaded    Label = "NotUploaded"
	LabelUploading      Label = "Uploading"
	LabelUploadComplete Label = "UploadComplete"
	LabelInitializing   Label = "Initializing"
	LabelReady          Label = "Ready"
	LabelFailed         Label = "Failed"
)

// Report is the aggregate pipeline view. Percentages are rounded down to
// whole percent; sizes are reported in whole megabytes the way the artifact
// metadata declares them.
type Report struct {
	Label             Label
	SessionID         string
	Name              string
	ChunksUploaded    uint32
	TotalChunks       uint32
	UploadPercent     uint32
	ProcessedChunks   uint32
	InitPercent       uint32
	TotalSizeMB       uint64
	AssembledSizeMB   uint64
	FinalHash         string
	FailureReason     string
	MissingChunkCount uint32
}

type machineStatus interface {
	Status(ctx context.Context) (metadata.InitStateRecord, error)
}

type uploadStatus interface {
	Status(ctx context.Context) (*upload.SessionStatus, error)
}

// Reporter computes Reports from the upload coordinator and the
// materialization machine. It holds no state of its own.
type Reporter struct {
	uploads uploadStatus
	machine machineStatus
}

// NewReporter creates a reporter over the given sources.
func NewReporter(uploads uploadStatus, machine machineStatus) *Reporter {
	return &Reporter{uploads: uploads, machine: machine}
}

// Report builds the aggregate view. It never mutates state and succeeds in
// every phase, including failed, so it is always safe to call for diagnosis.
func (r *Reporter) Report(ctx context.Context) (Report, error) {
	us, err := r.uploads.Status(ctx)
	if err != nil {
		return Report{}, err
	}
	init, err := r.machine.Status(ctx)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Label:           LabelNotUploaded,
		ProcessedChunks: init.ProcessedChunks,
		FinalHash:       init.FinalHash,
		FailureReason:   init.FailureReason,
		AssembledSizeMB: init.BytesAssembled / (1024 * 1024),
	}
	if us != nil {
		rep.SessionID = us.SessionID
		rep.Name = us.Name
		rep.ChunksUploaded = us.ChunksUploaded
		rep.TotalChunks = us.TotalChunks
		rep.TotalSizeMB = us.TotalSizeBytes / (1024 * 1024)
		rep.UploadPercent = percent(us.ChunksUploaded, us.TotalChunks)
		rep.MissingChunkCount = uint32(len(us.MissingChunks))
	}
	rep.InitPercent = percent(init.ProcessedChunks, init.TotalChunks)

	switch init.Phase {
	case metadata.PhaseFailed:
		rep.Label = LabelFailed
	case metadata.PhaseCompleted:
		rep.Label = LabelReady
		rep.InitPercent = 100
	case metadata.PhaseStreaming:
		rep.Label = LabelInitializing
	default:
		switch {
		case us == nil:
			rep.Label = LabelNotUploaded
		case us.IsComplete:
			rep.Label = LabelUploadComplete
		case us.ChunksUploaded > 0:
			rep.Label = LabelUploading
		default:
			rep.Label = LabelUploading
		}
	}
	return rep, nil
}

func percent(n, total uint32) uint32 {
	if total == 0 {
		return 0
	}
	return uint32(uint64(n) * 100 / uint64(total))
}
