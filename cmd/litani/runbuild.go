package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/coordinator"
	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/reporter"
	"github.com/litani-build/litani/internal/store"
)

const runBuildHelp = `litani run-build [-flags]

Execute every job registered against the active run: emit the ninja
graph, hand it to the external executor, and run the reporter loop
concurrently until the executor exits.

Example:
  % litani run-build -j 4
  % litani run-build --pipelines build,test --fail-on-pipeline-failure
`

func cmdrunbuild(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("run-build", flag.ExitOnError)
	var (
		parallelism    = fset.Int("j", 0, "maximum number of jobs to run in parallel; 0 means unbounded")
		dryRun         = fset.Bool("n", false, "dry run: ask the executor to report without executing")
		pipelines      = fset.String("pipelines", "", "comma-separated pipeline names to restrict execution to")
		ciStage        = fset.String("ci-stage", "", "CI stage to restrict execution to")
		failOnPipeline = fset.Bool("fail-on-pipeline-failure", false, "exit non-zero if the external executor exits non-zero")
		outFile        = fset.String("out-file", "", "additional path the reporter writes run snapshots to")
		tickInterval   = fset.Duration("tick-interval", reporter.DefaultInterval, "reporter loop period")
		ninjaPath      = fset.String("ninja-path", "ninja", "path to the external build executor binary")
	)
	fset.Usage = usage(fset, runBuildHelp)
	fset.Parse(args)

	s, err := store.Open()
	if err != nil {
		return xerrors.Errorf("run-build: no active run (did you run litani init?): %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return xerrors.Errorf("run-build: locating own executable: %w", err)
	}

	opts := coordinator.Options{
		Parallelism:           *parallelism,
		DryRun:                *dryRun,
		Pipelines:             splitNonEmpty(*pipelines),
		CIStage:               litanimodel.CIStage(*ciStage),
		FailOnPipelineFailure: *failOnPipeline,
		OutFile:               *outFile,
		TickInterval:          *tickInterval,
		NinjaPath:             *ninjaPath,
	}
	if reporter.IsTerminal() {
		opts.Renderer = termRenderer{}
	}

	result, err := coordinator.RunBuild(ctx, s, exePath, opts)
	if err != nil {
		return err
	}

	if result.ExecutorErr != nil && *failOnPipeline {
		os.Exit(1)
	}
	return nil
}

// termRenderer prints a one-line progress summary to stdout on every
// reporter tick, mirroring the teacher's interactive-terminal status line
// (see internal/batch/batch.go's isTerminal-gated output).
type termRenderer struct{}

func (termRenderer) Render(snapshot *litanimodel.RunSnapshot) error {
	total, done := 0, 0
	for _, pipeline := range snapshot.Pipelines {
		for _, stage := range pipeline.CIStages {
			total += len(stage.Jobs)
			for _, j := range stage.Jobs {
				if j.Complete {
					done++
				}
			}
		}
	}
	_, err := fmt.Fprintf(os.Stdout, "\r%s: %d/%d jobs complete", time.Now().Format("15:04:05"), done, total)
	return err
}
