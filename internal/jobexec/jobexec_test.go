package jobexec

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/litani-build/litani/internal/litanimodel"
)

func newDescriptor(t *testing.T, dir, command string) *litanimodel.JobDescriptor {
	t.Helper()
	return &litanimodel.JobDescriptor{
		JobID:      "job-1",
		Command:    command,
		StatusFile: filepath.Join(dir, "status.json"),
	}
}

func TestRunSuccessfulCommand(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w := &Wrapper{RunDir: dir}
	d := newDescriptor(t, dir, "echo hi")
	status, err := w.Run(context.Background(), d, []string{"exec"})
	if err != nil {
		t.Fatal(err)
	}
	if status.CommandReturnCode != 0 {
		t.Errorf("CommandReturnCode = %d, want 0", status.CommandReturnCode)
	}
	if status.WrapperReturnCode != 0 {
		t.Errorf("WrapperReturnCode = %d, want 0", status.WrapperReturnCode)
	}
	if !status.Complete {
		t.Error("expected Complete=true")
	}
	if len(status.Stdout) != 1 || status.Stdout[0] != "hi" {
		t.Errorf("Stdout = %v, want [hi]", status.Stdout)
	}
}

func TestRunFailingCommandWithoutIgnore(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w := &Wrapper{RunDir: dir}
	d := newDescriptor(t, dir, "false")
	status, err := w.Run(context.Background(), d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status.CommandReturnCode != 1 {
		t.Errorf("CommandReturnCode = %d, want 1", status.CommandReturnCode)
	}
	if status.WrapperReturnCode != 1 {
		t.Errorf("WrapperReturnCode = %d, want 1", status.WrapperReturnCode)
	}
}

func TestRunFailingCommandWithIgnoreReturns(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w := &Wrapper{RunDir: dir}
	d := newDescriptor(t, dir, "false")
	d.IgnoreReturns = []int{1}
	status, err := w.Run(context.Background(), d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status.CommandReturnCode != 1 {
		t.Errorf("CommandReturnCode = %d, want 1", status.CommandReturnCode)
	}
	if status.WrapperReturnCode != 0 {
		t.Errorf("WrapperReturnCode = %d, want 0 (ignored)", status.WrapperReturnCode)
	}
}

func TestRunTimeout(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w := &Wrapper{RunDir: dir}
	d := newDescriptor(t, dir, "sleep 5")
	d.TimeoutSeconds = 1
	status, err := w.Run(context.Background(), d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.TimeoutReached {
		t.Error("expected TimeoutReached=true")
	}
	if status.WrapperReturnCode != 1 {
		t.Errorf("WrapperReturnCode = %d, want 1", status.WrapperReturnCode)
	}
}

func TestRunTimeoutWithTimeoutOk(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w := &Wrapper{RunDir: dir}
	d := newDescriptor(t, dir, "sleep 5")
	d.TimeoutSeconds = 1
	d.TimeoutOk = true
	status, err := w.Run(context.Background(), d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.TimeoutReached {
		t.Error("expected TimeoutReached=true")
	}
	if status.WrapperReturnCode != 0 {
		t.Errorf("WrapperReturnCode = %d, want 0 (timeout_ok)", status.WrapperReturnCode)
	}
}

func TestRunWritesFinalStatusFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w := &Wrapper{RunDir: dir}
	d := newDescriptor(t, dir, "echo hi")
	if _, err := w.Run(context.Background(), d, nil); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(d.StatusFile)
	if err != nil {
		t.Fatal(err)
	}
	var got litanimodel.JobStatus
	if err := litanimodel.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Complete {
		t.Error("expected persisted status to have Complete=true")
	}
}

func TestCopyArtifactMissingSourceIsWarningNotError(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w := &Wrapper{RunDir: dir}
	if err := w.copyArtifact(filepath.Join(dir, "does-not-exist.txt"), filepath.Join(dir, "dest")); err != nil {
		t.Fatalf("expected nil error for missing source, got %v", err)
	}
}

func TestCopyArtifactCopiesDirectoryRecursively(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "outdir")
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(src, "sub", "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	w := &Wrapper{RunDir: dir}
	destDir := filepath.Join(dir, "artifacts")
	if err := w.copyArtifact(src, destDir); err != nil {
		t.Fatal(err)
	}
	got, err := ioutil.ReadFile(filepath.Join(destDir, "outdir", "sub", "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "x" {
		t.Errorf("copied content = %q, want x", got)
	}
}

func TestRunPropagatesArtifactCopyError(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out.txt")
	if err := ioutil.WriteFile(out, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	// Block the artifact destination directory with a regular file so the
	// copy's os.MkdirAll fails: a real I/O error distinct from a missing
	// source, which must propagate and fail the wrapper (spec §7).
	blocked := filepath.Join(dir, "blocked")
	if err := ioutil.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	destDir := filepath.Join(blocked, "artifacts")

	w := &Wrapper{
		RunDir: dir,
		ArtifactDir: func(pipeline string, stage litanimodel.CIStage) string {
			return destDir
		},
	}
	d := newDescriptor(t, dir, "echo hi")
	d.Outputs = []string{out}

	status, err := w.Run(context.Background(), d, nil)
	if err == nil {
		t.Fatal("expected a non-nil error when artifact copying fails")
	}
	if status.WrapperReturnCode != 1 {
		t.Errorf("WrapperReturnCode = %d, want 1 (artifact copy failure must fail the wrapper)", status.WrapperReturnCode)
	}

	b, readErr := ioutil.ReadFile(d.StatusFile)
	if readErr != nil {
		t.Fatal(readErr)
	}
	var persisted litanimodel.JobStatus
	if err := litanimodel.Unmarshal(b, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.WrapperReturnCode != 1 {
		t.Errorf("persisted WrapperReturnCode = %d, want 1", persisted.WrapperReturnCode)
	}
}

func TestReadDescriptorRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "jobexec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	d := &litanimodel.JobDescriptor{JobID: "job-1", Command: "echo hi", StatusFile: "s.json"}
	b, err := litanimodel.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "job-1.json")
	if err := ioutil.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadDescriptor(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", got.JobID)
	}
}
