// Package coordinator drives run-build: it materializes the dependency
// graph from every registered job, spawns the external DAG executor,
// concurrently runs the reporter loop, and finalizes the run's status on
// exit. Grounded on internal/batch/batch.go's Ctx.Build/scheduler.run
// orchestration shape and on internal/build/buildninja.go-style shelling
// out to ninja (see internal/build/buildmeson.go, buildcmake.go).
package coordinator

import (
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/litani-build/litani"
	"github.com/litani-build/litani/internal/atomicfile"
	"github.com/litani-build/litani/internal/graphemit"
	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/reporter"
	"github.com/litani-build/litani/internal/store"
)

// Options configures one run-build invocation.
type Options struct {
	// Parallelism caps concurrent job execution; 0 means unbounded.
	Parallelism int
	// DryRun, when set, asks the executor to pretend all jobs succeeded.
	DryRun bool
	// Pipelines restricts execution to the phony aggregates of the named
	// pipelines. Mutually exclusive with CIStage.
	Pipelines []string
	// CIStage restricts execution to one CI stage's phony aggregate.
	// Mutually exclusive with Pipelines.
	CIStage litanimodel.CIStage
	// FailOnPipelineFailure, if set, makes run-build exit non-zero when the
	// executor itself returned non-zero.
	FailOnPipelineFailure bool
	// OutFile is an additional snapshot destination the reporter writes to
	// on every tick, alongside run.json.
	OutFile string
	// TickInterval overrides the reporter's default 2s period.
	TickInterval time.Duration
	// Renderer is handed every snapshot the reporter loop produces.
	Renderer reporter.Renderer
	// NinjaPath overrides the name/path of the external executor binary.
	// Defaults to "ninja".
	NinjaPath string
}

// Result is what RunBuild returns once the executor has exited and the run
// has been finalized.
type Result struct {
	Run         litanimodel.Run
	ExecutorErr error
}

// Init creates a fresh run: it allocates the Run Store, seeds cache.json
// with a Run record in status in_progress, and publishes the cache
// pointer/latest symlink so subsequent add-job invocations can find it.
func Init(runID, projectName string) (*store.Store, error) {
	s, err := store.New(runID)
	if err != nil {
		return nil, xerrors.Errorf("init: %w", err)
	}
	run := litanimodel.Run{
		RunID:         runID,
		ProjectName:   projectName,
		SchemaVersion: schemaVersion,
		StartTime:     litanimodel.NowUTC(time.Now()),
		Status:        litanimodel.StatusInProgress,
	}
	cache := litanimodel.Cache{Run: run}
	if err := writeCache(s, &cache); err != nil {
		return nil, xerrors.Errorf("init: %w", err)
	}
	if err := s.Publish(); err != nil {
		return nil, xerrors.Errorf("init: %w", err)
	}
	return s, nil
}

// schemaVersion mirrors litani.CurrentSchemaVersion as the
// litanimodel.SchemaVersion type that the Run record carries. The two
// values are kept in step by hand.
var schemaVersion = litanimodel.SchemaVersion{Major: 1, Minor: 0, Patch: 0}

// RunBuild executes run-build end to end: merge descriptors into
// cache.json, emit the DAG, spawn the executor and the reporter loop
// concurrently, await the executor, and finalize the run.
func RunBuild(ctx context.Context, s *store.Store, exePath string, opts Options) (*Result, error) {
	cache, err := readCache(s)
	if err != nil {
		return nil, xerrors.Errorf("run-build: %w", err)
	}

	descriptors, err := readAllDescriptors(s)
	if err != nil {
		return nil, xerrors.Errorf("run-build: %w", err)
	}
	cache.Jobs = descriptors
	if err := writeCache(s, cache); err != nil {
		return nil, xerrors.Errorf("run-build: merging cache: %w", err)
	}

	if err := graphemit.Emit(s.NinjaPath(), exePath, descriptors, s.JobDescriptorPath); err != nil {
		return nil, xerrors.Errorf("run-build: emitting graph: %w", err)
	}

	loop := reporter.NewLoop(s, opts.OutFile, opts.Renderer)
	if opts.TickInterval > 0 {
		loop.Interval = opts.TickInterval
	}
	// Stop the reporter loop on SIGINT/SIGTERM before ctx itself cancels,
	// so it gets one last tick in to flush a final Run Snapshot instead
	// of racing the executor's own context-cancellation teardown.
	litani.OnInterrupt(loop.Stop)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return loop.Run(egCtx)
	})

	var execErr error
	eg.Go(func() error {
		defer loop.Stop()
		execErr = runExecutor(egCtx, s, opts)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, xerrors.Errorf("run-build: %w", err)
	}

	finalCache, err := readCache(s)
	if err != nil {
		return nil, xerrors.Errorf("run-build: re-reading cache: %w", err)
	}

	inScope := scopedJobIDs(descriptors, opts)
	finalCache.Run.EndTime = litanimodel.NowUTC(time.Now())
	finalCache.Run.Status = finalizeStatus(s, inScope)
	if err := writeCache(s, finalCache); err != nil {
		return nil, xerrors.Errorf("run-build: writing final cache: %w", err)
	}

	// Render a final snapshot now that cache.json reflects the terminal
	// status (spec §4.5).
	finalSnapshot, err := reporter.BuildSnapshot(s)
	if err != nil {
		return nil, xerrors.Errorf("run-build: building final snapshot: %w", err)
	}
	if err := atomicfile.WriteJSON(s.RunSnapshotPath(), finalSnapshot); err != nil {
		return nil, xerrors.Errorf("run-build: writing final run.json: %w", err)
	}
	if opts.OutFile != "" {
		if err := atomicfile.WriteJSON(opts.OutFile, finalSnapshot); err != nil {
			return nil, xerrors.Errorf("run-build: writing final %s: %w", opts.OutFile, err)
		}
	}
	if opts.Renderer != nil {
		if err := opts.Renderer.Render(finalSnapshot); err != nil {
			return nil, xerrors.Errorf("run-build: rendering final snapshot: %w", err)
		}
	}

	return &Result{Run: finalCache.Run, ExecutorErr: execErr}, nil
}

func runExecutor(ctx context.Context, s *store.Store, opts Options) error {
	ninjaBin := opts.NinjaPath
	if ninjaBin == "" {
		ninjaBin = "ninja"
	}
	args := []string{"-k0", "-f", s.NinjaPath()}
	if opts.Parallelism > 0 {
		args = append(args, "-j", strconv.Itoa(opts.Parallelism))
	}
	if opts.DryRun {
		args = append(args, "-n")
	}
	for _, pipeline := range opts.Pipelines {
		args = append(args, graphemit.PipelineTargetName(pipeline))
	}
	if opts.CIStage != "" {
		args = append(args, graphemit.CIStageTargetName(opts.CIStage))
	}

	cmd := exec.CommandContext(ctx, ninjaBin, args...)
	cmd.Dir = s.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

// scopedJobIDs returns the set of job ids the run-build invocation actually
// intended to execute: all of them, unless Pipelines or CIStage restricts
// the target set, in which case only the matching jobs are in scope. This
// keeps an untouched pipeline (spec §8 scenario 5) from counting against
// the run's final status.
func scopedJobIDs(descriptors []*litanimodel.JobDescriptor, opts Options) map[string]bool {
	scope := make(map[string]bool, len(descriptors))
	restricted := len(opts.Pipelines) > 0 || opts.CIStage != ""
	pipelineSet := make(map[string]bool, len(opts.Pipelines))
	for _, p := range opts.Pipelines {
		pipelineSet[p] = true
	}
	for _, d := range descriptors {
		if !restricted {
			scope[d.JobID] = true
			continue
		}
		if pipelineSet[d.PipelineName] {
			scope[d.JobID] = true
		}
		if opts.CIStage != "" && d.CIStage == opts.CIStage {
			scope[d.JobID] = true
		}
	}
	return scope
}

// finalizeStatus walks status/*.json for every in-scope job and computes
// the run's terminal status per spec §4.5/§8: success iff every in-scope
// status file reports wrapper_return_code == 0 and no timeout_ignore flag
// was consumed; fail otherwise. A job still missing its status file counts
// as an incomplete failure.
func finalizeStatus(s *store.Store, inScope map[string]bool) litanimodel.RunStatus {
	for jobID := range inScope {
		b, err := ioutil.ReadFile(s.JobStatusPath(jobID))
		if err != nil {
			return litanimodel.StatusFail
		}
		var status litanimodel.JobStatus
		if err := litanimodel.Unmarshal(b, &status); err != nil {
			return litanimodel.StatusFail
		}
		if !status.Succeeded() {
			return litanimodel.StatusFail
		}
	}
	return litanimodel.StatusSuccess
}

func readAllDescriptors(s *store.Store) ([]*litanimodel.JobDescriptor, error) {
	files, err := s.ListJobDescriptorFiles()
	if err != nil {
		return nil, xerrors.Errorf("listing job descriptors: %w", err)
	}
	descriptors := make([]*litanimodel.JobDescriptor, 0, len(files))
	for _, f := range files {
		b, err := ioutil.ReadFile(f)
		if err != nil {
			return nil, xerrors.Errorf("reading descriptor %s: %w", f, err)
		}
		var d litanimodel.JobDescriptor
		if err := litanimodel.Unmarshal(b, &d); err != nil {
			return nil, xerrors.Errorf("decoding descriptor %s: %w", f, err)
		}
		descriptors = append(descriptors, &d)
	}
	return descriptors, nil
}

func readCache(s *store.Store) (*litanimodel.Cache, error) {
	b, err := ioutil.ReadFile(s.CachePath())
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %w", s.CachePath(), err)
	}
	var cache litanimodel.Cache
	if err := litanimodel.Unmarshal(b, &cache); err != nil {
		return nil, xerrors.Errorf("decoding %s: %w", s.CachePath(), err)
	}
	return &cache, nil
}

func writeCache(s *store.Store, cache *litanimodel.Cache) error {
	return atomicfile.WriteJSON(s.CachePath(), cache)
}
