package reporter

import (
	"io/ioutil"
	"os"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/store"
)

// BuildSnapshot rebuilds the Run Snapshot by merging cache.json with every
// status/<job_id>.json file currently on disk. It is read-only and safe to
// call concurrently with any number of job wrappers writing their own
// status files, per spec §4.6/§5.
func BuildSnapshot(s *store.Store) (*litanimodel.RunSnapshot, error) {
	cache, err := readCache(s)
	if err != nil {
		return nil, xerrors.Errorf("reading cache: %w", err)
	}

	snapshot := &litanimodel.RunSnapshot{
		Run:       cache.Run,
		Pipelines: make(map[string]*litanimodel.PipelineSnapshot),
	}

	for _, d := range cache.Jobs {
		pipeline, ok := snapshot.Pipelines[d.PipelineName]
		if !ok {
			pipeline = &litanimodel.PipelineSnapshot{
				Name:     d.PipelineName,
				CIStages: make(map[litanimodel.CIStage]*litanimodel.StageSnapshot),
			}
			snapshot.Pipelines[d.PipelineName] = pipeline
		}
		stage, ok := pipeline.CIStages[d.CIStage]
		if !ok {
			stage = &litanimodel.StageSnapshot{}
			pipeline.CIStages[d.CIStage] = stage
		}

		status, err := readStatus(s, d.JobID)
		if err != nil {
			return nil, xerrors.Errorf("reading status for %s: %w", d.JobID, err)
		}

		stage.Jobs = append(stage.Jobs, &litanimodel.JobSnapshot{
			JobID:       d.JobID,
			Command:     d.Command,
			Description: d.Description,
			Started:     status != nil,
			Complete:    status != nil && status.Complete,
			Status:      status,
		})
	}

	for _, pipeline := range snapshot.Pipelines {
		for _, stage := range pipeline.CIStages {
			finalizeStage(stage)
		}
	}

	return snapshot, nil
}

func finalizeStage(stage *litanimodel.StageSnapshot) {
	total := len(stage.Jobs)
	if total == 0 {
		stage.ProgressPercent = 100
		stage.Status = litanimodel.StageStatusSuccess
		return
	}

	var completed int
	sawFail := false
	sawFailIgnored := false
	for _, j := range stage.Jobs {
		if !j.Complete {
			continue
		}
		completed++
		if j.Status == nil {
			continue
		}
		if j.Status.TimeoutReached && j.Status.TimeoutIgnore {
			sawFail = true
			continue
		}
		if j.Status.WrapperReturnCode != 0 {
			sawFail = true
			continue
		}
		if okSet := toSet(j.Status.OkReturns); okSet[j.Status.CommandReturnCode] && j.Status.CommandReturnCode != 0 {
			sawFailIgnored = true
		}
	}

	stage.ProgressPercent = 100 * float64(completed) / float64(total)
	switch {
	case sawFail:
		stage.Status = litanimodel.StageStatusFail
	case sawFailIgnored:
		stage.Status = litanimodel.StageStatusFailIgnored
	default:
		stage.Status = litanimodel.StageStatusSuccess
	}
}

func toSet(xs []int) map[int]bool {
	set := make(map[int]bool, len(xs))
	for _, x := range xs {
		set[x] = true
	}
	return set
}

func readCache(s *store.Store) (*litanimodel.Cache, error) {
	b, err := ioutil.ReadFile(s.CachePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &litanimodel.Cache{}, nil
		}
		return nil, err
	}
	var cache litanimodel.Cache
	if err := litanimodel.Unmarshal(b, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

func readStatus(s *store.Store, jobID string) (*litanimodel.JobStatus, error) {
	b, err := ioutil.ReadFile(s.JobStatusPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var status litanimodel.JobStatus
	if err := litanimodel.Unmarshal(b, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
