// Package litanimodel defines the closed, JSON-serializable records shared
// across every litani subcommand: the Run, the Job Descriptor, the Job
// Status and the derived Run Snapshot. Every type here round-trips through
// encoding/json with no loss and rejects unknown fields on decode.
package litanimodel

import (
	"bytes"
	"encoding/json"
	"time"

	"golang.org/x/xerrors"
)

// TimeFormat is the single fixed-precision UTC timestamp format used for
// every persisted time in the system.
const TimeFormat = time.RFC3339Nano

// RunStatus is the run-level terminal status token. The distilled source
// this system is based on used "failure" in one code path and "fail" in its
// schema; this implementation standardizes on "fail" everywhere.
type RunStatus string

const (
	StatusInProgress RunStatus = "in_progress"
	StatusSuccess    RunStatus = "success"
	StatusFail       RunStatus = "fail"
)

// CIStage is restricted to a fixed closed set.
type CIStage string

const (
	StageBuild  CIStage = "build"
	StageTest   CIStage = "test"
	StageReport CIStage = "report"
)

// ValidCIStages enumerates every CIStage accepted by the Job Registry.
var ValidCIStages = map[CIStage]bool{
	StageBuild:  true,
	StageTest:   true,
	StageReport: true,
}

// StageStatus is the per-stage rollup status in a Run Snapshot.
type StageStatus string

const (
	StageStatusSuccess     StageStatus = "success"
	StageStatusFail        StageStatus = "fail"
	StageStatusFailIgnored StageStatus = "fail_ignored"
)

// Run is the top-level container created by init and finalized by run-build.
type Run struct {
	RunID         string        `json:"run_id"`
	ProjectName   string        `json:"project_name"`
	SchemaVersion SchemaVersion `json:"schema_version"`
	StartTime     string        `json:"start_time"`
	EndTime       string        `json:"end_time,omitempty"`
	Status        RunStatus     `json:"status"`
}

// SchemaVersion mirrors litani.SchemaVersion but lives here too so that
// model consumers do not need to import the root package just to decode a
// cache.json file.
type SchemaVersion struct {
	Major int64 `json:"major"`
	Minor int64 `json:"minor"`
	Patch int64 `json:"patch"`
}

// Cache is the persisted shape of cache.json: the Run record plus the
// embedded sequence of Job Descriptors registered so far.
type Cache struct {
	Run  Run              `json:"run"`
	Jobs []*JobDescriptor `json:"jobs"`
}

// JobDescriptor is the immutable record of how to run one command, produced
// by add-job. Fields mirror the CLI flags of add-job one-to-one.
type JobDescriptor struct {
	JobID                  string   `json:"job_id"`
	Command                string   `json:"command"`
	PipelineName           string   `json:"pipeline_name"`
	CIStage                CIStage  `json:"ci_stage"`
	WorkingDirectory       string   `json:"working_directory,omitempty"`
	Inputs                 []string `json:"inputs,omitempty"`
	Outputs                []string `json:"outputs,omitempty"`
	TimeoutSeconds         int      `json:"timeout,omitempty"`
	TimeoutOk              bool     `json:"timeout_ok,omitempty"`
	TimeoutIgnore          bool     `json:"timeout_ignore,omitempty"`
	InterleaveStdoutStderr bool     `json:"interleave_stdout_stderr,omitempty"`
	IgnoreReturns          []int    `json:"ignore_returns,omitempty"`
	OkReturns              []int    `json:"ok_returns,omitempty"`
	Description            string   `json:"description,omitempty"`
	Tags                   []string `json:"tags,omitempty"`
	StdoutFile             string   `json:"stdout_file,omitempty"`
	StderrFile             string   `json:"stderr_file,omitempty"`
	StatusFile             string   `json:"status_file"`
}

// IgnoreReturnSet returns descriptor.IgnoreReturns with 0 implicitly
// included, as a set.
func (d *JobDescriptor) IgnoreReturnSet() map[int]bool {
	set := make(map[int]bool, len(d.IgnoreReturns)+1)
	set[0] = true
	for _, rc := range d.IgnoreReturns {
		set[rc] = true
	}
	return set
}

// OkReturnSet returns descriptor.OkReturns as a set.
func (d *JobDescriptor) OkReturnSet() map[int]bool {
	set := make(map[int]bool, len(d.OkReturns))
	for _, rc := range d.OkReturns {
		set[rc] = true
	}
	return set
}

// JobStatus is the mutable execution record for one JobDescriptor.
type JobStatus struct {
	JobID              string   `json:"job_id"`
	Complete           bool     `json:"complete"`
	StartTime          string   `json:"start_time,omitempty"`
	EndTime            string   `json:"end_time,omitempty"`
	DurationSeconds    float64  `json:"duration,omitempty"`
	TimeoutReached     bool     `json:"timeout_reached"`
	CommandReturnCode  int      `json:"command_return_code"`
	WrapperReturnCode  int      `json:"wrapper_return_code"`
	Stdout             []string `json:"stdout,omitempty"`
	Stderr             []string `json:"stderr,omitempty"`
	WrapperArgs        []string `json:"wrapper_args,omitempty"`
	PipelineName       string   `json:"pipeline_name"`
	CIStage            CIStage  `json:"ci_stage"`
	TimeoutOk          bool     `json:"timeout_ok,omitempty"`
	TimeoutIgnore      bool     `json:"timeout_ignore,omitempty"`
	IgnoreReturns      []int    `json:"ignore_returns,omitempty"`
	OkReturns          []int    `json:"ok_returns,omitempty"`
}

// Succeeded reports whether this status represents a wrapper-level success,
// per spec §8: wrapper_return_code == 0 AND no unresolved timeout_ignore.
func (s *JobStatus) Succeeded() bool {
	if s.TimeoutReached && s.TimeoutIgnore {
		return false
	}
	return s.WrapperReturnCode == 0
}

// StageSnapshot is one CI-stage's rollup within a pipeline.
type StageSnapshot struct {
	Status          StageStatus    `json:"status"`
	ProgressPercent float64        `json:"progress_percent"`
	Jobs            []*JobSnapshot `json:"jobs"`
}

// JobSnapshot merges a JobDescriptor with its (possibly absent) JobStatus.
type JobSnapshot struct {
	JobID       string     `json:"job_id"`
	Command     string     `json:"command"`
	Description string     `json:"description,omitempty"`
	Started     bool       `json:"started"`
	Complete    bool       `json:"complete"`
	Status      *JobStatus `json:"status,omitempty"`
}

// PipelineSnapshot is one pipeline's rollup of CI stages.
type PipelineSnapshot struct {
	Name     string                     `json:"name"`
	CIStages map[CIStage]*StageSnapshot `json:"ci_stages"`
}

// RunSnapshot is the derived, read-only aggregate the Reporter Loop
// rebuilds on every tick from cache.json plus every status/*.json.
type RunSnapshot struct {
	Run       Run                          `json:"run"`
	Pipelines map[string]*PipelineSnapshot `json:"pipelines"`
}

// Marshal serializes v as 2-space-indented UTF-8 JSON, matching the format
// every on-disk litani file uses.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, xerrors.Errorf("marshaling: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes b into v, rejecting any field not present in v's type.
// This is the closed-descriptor re-architecture called for in the design
// notes: an open/dynamic mapping is never accepted.
func Unmarshal(b []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerrors.Errorf("decoding: %w", err)
	}
	return nil
}

// NowUTC renders t in the fixed timestamp format used throughout litani.
func NowUTC(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a timestamp previously rendered with NowUTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Time{}, xerrors.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}
