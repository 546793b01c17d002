// Package jobexec is the execution wrapper: it launches exactly one
// subprocess, observes it to completion under an optional timeout, and
// atomically publishes a litanimodel.JobStatus. It never raises an error to
// its caller for a subprocess failure — the status file is the single
// source of truth, per spec §4.4 and §7.
//
// Grounded on internal/build/build.go's custom-build-step runner
// (exec.CommandContext, io.MultiWriter capture, elapsed-time logging) and
// on cmd/autobuilder/autobuilder.go's serialize/runJob round trip for
// reading a job description back from disk.
package jobexec

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/atomicfile"
	"github.com/litani-build/litani/internal/litanimodel"
)

// Wrapper runs one job descriptor to completion.
type Wrapper struct {
	// RunDir is the active run directory; a descriptor's relative working
	// directory, inputs, and outputs are resolved against it.
	RunDir string
	// ArtifactDir computes the destination directory for a job's declared
	// outputs, e.g. store.Store.ArtifactDir.
	ArtifactDir func(pipeline string, stage litanimodel.CIStage) string
	// Log receives progress messages; defaults to log.Default() if nil.
	Log *log.Logger
}

func (w *Wrapper) logger() *log.Logger {
	if w.Log != nil {
		return w.Log
	}
	return log.Default()
}

// Run executes d and returns the finalized JobStatus. A failing or
// timed-out command is recorded in the status, never returned as an error.
// The returned error is non-nil in two cases: a status file could not be
// written (the status is nil if the initial write failed), or copying a
// declared output failed for a reason other than the output being missing
// (the persisted status then carries wrapper_return_code 1).
func (w *Wrapper) Run(ctx context.Context, d *litanimodel.JobDescriptor, wrapperArgs []string) (*litanimodel.JobStatus, error) {
	start := time.Now()
	status := &litanimodel.JobStatus{
		JobID:         d.JobID,
		Complete:      false,
		StartTime:     litanimodel.NowUTC(start),
		WrapperArgs:   wrapperArgs,
		PipelineName:  d.PipelineName,
		CIStage:       d.CIStage,
		TimeoutOk:     d.TimeoutOk,
		TimeoutIgnore: d.TimeoutIgnore,
		IgnoreReturns: d.IgnoreReturns,
		OkReturns:     d.OkReturns,
	}
	if err := atomicfile.WriteJSON(d.StatusFile, status); err != nil {
		return nil, xerrors.Errorf("writing initial status for %s: %w", d.JobID, err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if d.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(d.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	workDir := d.WorkingDirectory
	if workDir == "" {
		workDir = w.RunDir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd := exec.CommandContext(runCtx, "sh", "-c", d.Command)
	cmd.Dir = workDir
	if d.InterleaveStdoutStderr {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stdoutBuf
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	w.logger().Printf("job %s: running %q in %s", d.JobID, d.Command, workDir)
	runErr := cmd.Run()
	end := time.Now()

	timeoutReached := runCtx.Err() == context.DeadlineExceeded
	var commandReturnCode int
	if timeoutReached {
		commandReturnCode = -1
	} else if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			commandReturnCode = exitErr.ExitCode()
		} else {
			// Spawn failure: synthesize a return code per §4.4/§7.
			w.logger().Printf("job %s: spawn failure: %v", d.JobID, runErr)
			commandReturnCode = 127
		}
	}

	status.EndTime = litanimodel.NowUTC(end)
	status.DurationSeconds = end.Sub(start).Seconds()
	status.TimeoutReached = timeoutReached
	status.CommandReturnCode = commandReturnCode
	status.Complete = true
	status.Stdout = splitLines(stdoutBuf.String())
	status.Stderr = splitLines(stderrBuf.String())
	status.WrapperReturnCode = classify(d, timeoutReached, commandReturnCode)

	if d.StdoutFile != "" {
		if err := atomicfile.WriteBytes(d.StdoutFile, stdoutBuf.Bytes()); err != nil {
			w.logger().Printf("job %s: writing stdout file: %v", d.JobID, err)
		}
	}
	if d.StderrFile != "" && !d.InterleaveStdoutStderr {
		if err := atomicfile.WriteBytes(d.StderrFile, stderrBuf.Bytes()); err != nil {
			w.logger().Printf("job %s: writing stderr file: %v", d.JobID, err)
		}
	}

	// Artifact copying must land before the final status write: a real I/O
	// failure here (anything other than a missing source, which
	// copyArtifact already treats as a warning) fails the wrapper per spec
	// §7, so wrapper_return_code has to reflect it in the persisted status.
	var artifactErr error
	if w.ArtifactDir != nil {
		dest := w.ArtifactDir(d.PipelineName, d.CIStage)
		for _, out := range d.Outputs {
			if err := w.copyArtifact(out, dest); err != nil {
				w.logger().Printf("job %s: copying artifact %s: %v", d.JobID, out, err)
				if artifactErr == nil {
					artifactErr = xerrors.Errorf("job %s: copying artifact %s: %w", d.JobID, out, err)
				}
			}
		}
	}
	if artifactErr != nil {
		status.WrapperReturnCode = 1
	}

	if err := atomicfile.WriteJSON(d.StatusFile, status); err != nil {
		return status, xerrors.Errorf("writing final status for %s: %w", d.JobID, err)
	}

	if artifactErr != nil {
		return status, artifactErr
	}

	return status, nil
}

// classify implements spec §4.4 step 4 and the timeout classification of
// step 3: ignore = ignore_returns ∪ {0}; wrapper_return_code is 0 iff the
// command's return code is in ignore (for a normal exit) or the timeout
// policy flags waive failure (for a timeout).
func classify(d *litanimodel.JobDescriptor, timeoutReached bool, commandReturnCode int) int {
	if timeoutReached {
		if d.TimeoutIgnore || d.TimeoutOk {
			return 0
		}
		return 1
	}
	ignore := d.IgnoreReturnSet()
	if ignore[commandReturnCode] {
		return 0
	}
	return 1
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader([]byte(s)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// copyArtifact copies src (relative to the run/working directory, or
// absolute) into destDir, preserving its basename. Missing sources are a
// warning, not a failure (spec §7); directory sources are copied
// recursively.
func (w *Wrapper) copyArtifact(src string, destDir string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger().Printf("warning: declared output %s does not exist, skipping", src)
			return nil
		}
		return xerrors.Errorf("stat %s: %w", src, err)
	}

	dest := filepath.Join(destDir, filepath.Base(src))
	if info.IsDir() {
		return copyDir(src, dest)
	}
	return copyFile(src, dest)
}

// copyFile is adapted from internal/build/build.go's copyFile helper.
func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// copyDir recursively copies src onto dest, preserving relative structure.
// This extends the teacher's single-file copyFile to the directory-output
// case the spec requires (§4.4 step 7) that the teacher never needed.
func copyDir(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

// ReadDescriptor reads and decodes a job descriptor from path, the idiom
// `exec --descriptor <path>` resolves to.
func ReadDescriptor(path string) (*litanimodel.JobDescriptor, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading descriptor %s: %w", path, err)
	}
	var d litanimodel.JobDescriptor
	if err := litanimodel.Unmarshal(b, &d); err != nil {
		return nil, xerrors.Errorf("decoding descriptor %s: %w", path, err)
	}
	return &d, nil
}
