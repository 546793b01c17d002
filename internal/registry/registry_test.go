package registry

import (
	"os"
	"testing"

	"github.com/google/uuid"

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

func TestAddAssignsIDAndPersists(t *testing.T) {
	s := newTestStore(t)
	d, err := Add(s, AddJobInput{
		Command:      "echo hi",
		PipelineName: "p",
		CIStage:      litanimodel.StageBuild,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.JobID == "" {
		t.Fatal("expected non-empty job id")
	}
	if d.StatusFile != s.JobStatusPath(d.JobID) {
		t.Errorf("StatusFile = %q, want %q", d.StatusFile, s.JobStatusPath(d.JobID))
	}

	b, err := os.ReadFile(s.JobDescriptorPath(d.JobID))
	if err != nil {
		t.Fatal(err)
	}
	var got litanimodel.JobDescriptor
	if err := litanimodel.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Command != "echo hi" {
		t.Errorf("persisted Command = %q, want %q", got.Command, "echo hi")
	}
}

func TestAddRejectsInvalidCIStage(t *testing.T) {
	s := newTestStore(t)
	_, err := Add(s, AddJobInput{
		Command:      "echo hi",
		PipelineName: "p",
		CIStage:      "deploy",
	})
	if err == nil {
		t.Fatal("expected error for invalid ci stage")
	}
}

func TestAddRejectsMissingCommand(t *testing.T) {
	s := newTestStore(t)
	_, err := Add(s, AddJobInput{
		PipelineName: "p",
		CIStage:      litanimodel.StageBuild,
	})
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestAddTwoJobsProduceDistinctFiles(t *testing.T) {
	s := newTestStore(t)
	d1, err := Add(s, AddJobInput{Command: "echo 1", PipelineName: "p", CIStage: litanimodel.StageBuild})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Add(s, AddJobInput{Command: "echo 2", PipelineName: "p", CIStage: litanimodel.StageBuild})
	if err != nil {
		t.Fatal(err)
	}
	if d1.JobID == d2.JobID {
		t.Fatal("expected distinct job ids")
	}
	files, err := s.ListJobDescriptorFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 descriptor files, got %d", len(files))
	}
}
