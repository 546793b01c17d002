package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/registry"
	"github.com/litani-build/litani/internal/store"
)

const addJobHelp = `litani add-job [-flags] [-- command args...]

Register one job against the active run. The command to run is either
given with --command, or as the trailing arguments after --.

Example:
  % litani add-job --pipeline-name build --ci-stage build -- make all
  % litani add-job --pipeline-name test --ci-stage test --command "go test ./..." \
      --inputs a.go,b.go --timeout 30
`

func cmdaddjob(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("add-job", flag.ExitOnError)
	var (
		command       = fset.String("command", "", "shell command to run; alternative to trailing -- args")
		pipelineName  = fset.String("pipeline-name", "", "pipeline this job belongs to")
		ciStage       = fset.String("ci-stage", "", "one of build, test, report")
		cwd           = fset.String("cwd", "", "working directory; defaults to the run directory")
		inputs        = fset.String("inputs", "", "comma-separated input paths")
		outputs       = fset.String("outputs", "", "comma-separated output paths")
		timeout       = fset.Int("timeout", 0, "wall-clock timeout in seconds; 0 disables")
		timeoutOk     = fset.Bool("timeout-ok", false, "treat a timeout as success")
		timeoutIgnore = fset.Bool("timeout-ignore", false, "treat a timeout as failure regardless of other flags")
		interleave    = fset.Bool("interleave-stdout-stderr", false, "merge stderr into stdout")
		ignoreReturns = fset.String("ignore-returns", "", "comma-separated return codes treated as success, in addition to 0")
		okReturns     = fset.String("ok-returns", "", "comma-separated return codes treated as fail_ignored")
		description   = fset.String("description", "", "human-readable summary")
		tags          = fset.String("tags", "", "comma-separated free-form tags")
		stdoutFile    = fset.String("stdout-file", "", "path to copy captured stdout to")
		stderrFile    = fset.String("stderr-file", "", "path to copy captured stderr to")
	)
	fset.Usage = usage(fset, addJobHelp)
	fset.Parse(args)

	cmdStr := *command
	if rest := fset.Args(); len(rest) > 0 {
		cmdStr = strings.Join(rest, " ")
	}

	ignoreRC, err := splitInts(*ignoreReturns)
	if err != nil {
		return xerrors.Errorf("add-job: --ignore-returns: %w", err)
	}
	okRC, err := splitInts(*okReturns)
	if err != nil {
		return xerrors.Errorf("add-job: --ok-returns: %w", err)
	}

	in := registry.AddJobInput{
		Command:                cmdStr,
		PipelineName:           *pipelineName,
		CIStage:                litanimodel.CIStage(*ciStage),
		WorkingDirectory:       *cwd,
		Inputs:                 splitNonEmpty(*inputs),
		Outputs:                splitNonEmpty(*outputs),
		TimeoutSeconds:         *timeout,
		TimeoutOk:              *timeoutOk,
		TimeoutIgnore:          *timeoutIgnore,
		InterleaveStdoutStderr: *interleave,
		IgnoreReturns:          ignoreRC,
		OkReturns:              okRC,
		Description:            *description,
		Tags:                   splitNonEmpty(*tags),
		StdoutFile:             *stdoutFile,
		StderrFile:             *stderrFile,
	}

	s, err := store.Open()
	if err != nil {
		return xerrors.Errorf("add-job: no active run (did you run litani init?): %w", err)
	}

	d, err := registry.Add(s, in)
	if err != nil {
		return err
	}
	fmt.Println(d.JobID)
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitInts(s string) ([]int, error) {
	parts := splitNonEmpty(s)
	if parts == nil {
		return nil, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, xerrors.Errorf("%q is not an integer: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
