package reporter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/litani-build/litani/internal/atomicfile"
	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(s.Dir) })
	return s
}

func TestBuildSnapshotWithNoCacheYieldsEmptySnapshot(t *testing.T) {
	s := newTestStore(t)
	snap, err := BuildSnapshot(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Pipelines) != 0 {
		t.Errorf("expected no pipelines, got %v", snap.Pipelines)
	}
}

func TestBuildSnapshotAggregatesJobsByPipelineAndStage(t *testing.T) {
	s := newTestStore(t)
	cache := litanimodel.Cache{
		Run: litanimodel.Run{RunID: s.RunID, Status: litanimodel.StatusInProgress},
		Jobs: []*litanimodel.JobDescriptor{
			{JobID: "j1", PipelineName: "p", CIStage: litanimodel.StageBuild, StatusFile: s.JobStatusPath("j1")},
			{JobID: "j2", PipelineName: "p", CIStage: litanimodel.StageBuild, StatusFile: s.JobStatusPath("j2")},
		},
	}
	if err := atomicfile.WriteJSON(s.CachePath(), &cache); err != nil {
		t.Fatal(err)
	}
	if err := atomicfile.WriteJSON(s.JobStatusPath("j1"), &litanimodel.JobStatus{JobID: "j1", Complete: true, WrapperReturnCode: 0}); err != nil {
		t.Fatal(err)
	}
	// j2 has no status file: still unstarted.

	snap, err := BuildSnapshot(s)
	if err != nil {
		t.Fatal(err)
	}
	stage := snap.Pipelines["p"].CIStages[litanimodel.StageBuild]
	if len(stage.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(stage.Jobs))
	}
	if stage.ProgressPercent != 50 {
		t.Errorf("ProgressPercent = %v, want 50", stage.ProgressPercent)
	}
}

func TestBuildSnapshotMarksFailIgnoredWhenOkReturnConsumed(t *testing.T) {
	s := newTestStore(t)
	cache := litanimodel.Cache{
		Jobs: []*litanimodel.JobDescriptor{
			{JobID: "j1", PipelineName: "p", CIStage: litanimodel.StageTest, StatusFile: s.JobStatusPath("j1"), OkReturns: []int{2}},
		},
	}
	if err := atomicfile.WriteJSON(s.CachePath(), &cache); err != nil {
		t.Fatal(err)
	}
	if err := atomicfile.WriteJSON(s.JobStatusPath("j1"), &litanimodel.JobStatus{
		JobID: "j1", Complete: true, WrapperReturnCode: 0, CommandReturnCode: 2, OkReturns: []int{2},
	}); err != nil {
		t.Fatal(err)
	}

	snap, err := BuildSnapshot(s)
	if err != nil {
		t.Fatal(err)
	}
	stage := snap.Pipelines["p"].CIStages[litanimodel.StageTest]
	if stage.Status != litanimodel.StageStatusFailIgnored {
		t.Errorf("Status = %q, want fail_ignored", stage.Status)
	}
}

func TestLoopStopThenRunExitsPromptly(t *testing.T) {
	s := newTestStore(t)
	loop := NewLoop(s, "", nil)
	loop.Interval = time.Hour // would never naturally tick
	loop.Stop()

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Stop was called before it started")
	}
}

func TestLoopWritesSnapshotFile(t *testing.T) {
	s := newTestStore(t)
	loop := NewLoop(s, "", nil)
	loop.Interval = time.Hour
	defer loop.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}

	if _, err := os.Stat(s.RunSnapshotPath()); err != nil {
		t.Errorf("expected run.json to exist: %v", err)
	}
}
