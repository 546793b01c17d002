// Package registry implements add-job: assigning a fresh job id to a
// descriptor and persisting it. Grounded on the teacher's
// cmd/autobuilder/autobuilder.go serialize() idiom (marshal to JSON, write
// through the atomic writer, never touch the destination path directly).
package registry

import (
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/atomicfile"
	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/store"
)

// AddJobInput carries the validated fields of one add-job invocation.
// It mirrors litanimodel.JobDescriptor but omits JobID/StatusFile, which
// Add computes.
type AddJobInput struct {
	Command                string
	PipelineName           string
	CIStage                litanimodel.CIStage
	WorkingDirectory       string
	Inputs                 []string
	Outputs                []string
	TimeoutSeconds         int
	TimeoutOk              bool
	TimeoutIgnore          bool
	InterleaveStdoutStderr bool
	IgnoreReturns          []int
	OkReturns              []int
	Description            string
	Tags                   []string
	StdoutFile             string
	StderrFile             string
}

// Validate enforces the closed-set and positivity constraints from the
// data model (§3): CI stage must be one of the fixed labels, a command is
// required, and a timeout, if given, must be positive.
func (in *AddJobInput) Validate() error {
	if in.Command == "" {
		return xerrors.New("add-job: --command is required")
	}
	if in.PipelineName == "" {
		return xerrors.New("add-job: --pipeline-name is required")
	}
	if !litanimodel.ValidCIStages[in.CIStage] {
		return xerrors.Errorf("add-job: invalid --ci-stage %q", in.CIStage)
	}
	if in.TimeoutSeconds < 0 {
		return xerrors.Errorf("add-job: --timeout must be positive, got %d", in.TimeoutSeconds)
	}
	return nil
}

// Add assigns a fresh job id, computes its status file path, and persists
// the descriptor to s's jobs directory via the atomic writer. Multiple
// concurrent calls to Add (from separate add-job processes sharing one
// store) are safe because each writes a distinct file.
func Add(s *store.Store, in AddJobInput) (*litanimodel.JobDescriptor, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	d := &litanimodel.JobDescriptor{
		JobID:                  jobID,
		Command:                in.Command,
		PipelineName:           in.PipelineName,
		CIStage:                in.CIStage,
		WorkingDirectory:       in.WorkingDirectory,
		Inputs:                 in.Inputs,
		Outputs:                in.Outputs,
		TimeoutSeconds:         in.TimeoutSeconds,
		TimeoutOk:              in.TimeoutOk,
		TimeoutIgnore:          in.TimeoutIgnore,
		InterleaveStdoutStderr: in.InterleaveStdoutStderr,
		IgnoreReturns:          in.IgnoreReturns,
		OkReturns:              in.OkReturns,
		Description:            in.Description,
		Tags:                   in.Tags,
		StdoutFile:             in.StdoutFile,
		StderrFile:             in.StderrFile,
		StatusFile:             s.JobStatusPath(jobID),
	}

	if err := atomicfile.WriteJSON(s.JobDescriptorPath(jobID), d); err != nil {
		return nil, xerrors.Errorf("add-job: persisting descriptor %s: %w", jobID, err)
	}
	return d, nil
}
