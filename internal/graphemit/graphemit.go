// Package graphemit converts the registered job set into a ninja build
// file consumable by an external incremental executor. Grounded directly on
// cmd/distri/ninja.go's text/template + temp-file + rename pattern.
package graphemit

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/litanimodel"
)

const ninjaTemplate = `# generated by litani; do not edit

{{ range .Jobs }}
rule {{ .Rule }}
  command = {{ .Command }}
  description = {{ .Description }}

build {{ .Outputs }}: {{ .Rule }} {{ .Inputs }}
{{ end }}
{{ range .PhonyTargets }}
build {{ .Name }}: phony {{ .Inputs }}
{{ end }}
`

var ninjaTmpl = template.Must(template.New("litani.ninja").Parse(ninjaTemplate))

type jobRule struct {
	Rule        string
	Command     string
	Description string
	Inputs      string
	Outputs     string
}

type phonyTarget struct {
	Name   string
	Inputs string
}

// PipelineTargetName returns the phony aggregate target name for a
// pipeline, e.g. __litani_pipeline_name_build.
func PipelineTargetName(pipeline string) string {
	return "__litani_pipeline_name_" + pipeline
}

// CIStageTargetName returns the phony aggregate target name for a CI
// stage, e.g. __litani_ci_stage_test.
func CIStageTargetName(stage litanimodel.CIStage) string {
	return "__litani_ci_stage_" + string(stage)
}

// Emit writes a ninja build file to dest describing every descriptor. exePath
// is the absolute path of this same binary; each rule re-invokes it as
// `exePath exec --descriptor <jobs/<id>.json>`, following Design Note #3:
// pass the descriptor by path rather than shell-quoting every flag.
func Emit(dest string, exePath string, descriptors []*litanimodel.JobDescriptor, jobDescriptorPath func(jobID string) string) error {
	jobs := make([]jobRule, 0, len(descriptors))
	pipelineOutputs := make(map[string][]string)
	stageOutputs := make(map[litanimodel.CIStage][]string)

	for _, d := range descriptors {
		outputs := append([]string{}, d.Outputs...)
		outputs = append(outputs, d.StatusFile)

		rule := jobRule{
			Rule:        d.JobID,
			Command:     ninjaQuote(exePath) + " exec --descriptor " + ninjaQuote(jobDescriptorPath(d.JobID)),
			Description: "litani " + d.PipelineName + "/" + string(d.CIStage) + " " + d.JobID,
			Inputs:      joinPaths(d.Inputs),
			Outputs:     joinPaths(outputs),
		}
		jobs = append(jobs, rule)

		// Every distinct pipeline and stage gets a phony aggregate. Jobs with
		// no declared outputs still produce a status-file output and so
		// remain reachable, but they add no inputs to those aggregates.
		pipelineOutputs[d.PipelineName] = append(pipelineOutputs[d.PipelineName], d.Outputs...)
		stageOutputs[d.CIStage] = append(stageOutputs[d.CIStage], d.Outputs...)
	}

	var phonies []phonyTarget
	for _, pipeline := range sortedKeys(pipelineOutputs) {
		inputs := append([]string{}, pipelineOutputs[pipeline]...)
		sort.Strings(inputs)
		phonies = append(phonies, phonyTarget{
			Name:   PipelineTargetName(pipeline),
			Inputs: joinPaths(inputs),
		})
	}
	for _, stage := range sortedStageKeys(stageOutputs) {
		inputs := append([]string{}, stageOutputs[stage]...)
		sort.Strings(inputs)
		phonies = append(phonies, phonyTarget{
			Name:   CIStageTargetName(stage),
			Inputs: joinPaths(inputs),
		})
	}

	f, err := ioutil.TempFile(filepath.Dir(dest), "litani-ninja")
	if err != nil {
		return xerrors.Errorf("creating temp ninja file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := ninjaTmpl.Execute(f, struct {
		Jobs         []jobRule
		PhonyTargets []phonyTarget
	}{
		Jobs:         jobs,
		PhonyTargets: phonies,
	}); err != nil {
		f.Close()
		return xerrors.Errorf("rendering ninja template: %w", err)
	}
	if err := f.Close(); err != nil {
		return xerrors.Errorf("closing temp ninja file: %w", err)
	}
	if err := os.Rename(f.Name(), dest); err != nil {
		return xerrors.Errorf("renaming %s onto %s: %w", f.Name(), dest, err)
	}
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStageKeys(m map[litanimodel.CIStage][]string) []litanimodel.CIStage {
	keys := make([]litanimodel.CIStage, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func joinPaths(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = ninjaQuote(p)
	}
	return strings.Join(quoted, " ")
}

// ninjaQuote escapes a path for use in a ninja file: ninja treats `$` and
// bare spaces specially.
func ninjaQuote(s string) string {
	s = strings.ReplaceAll(s, "$", "$$")
	s = strings.ReplaceAll(s, " ", "$ ")
	s = strings.ReplaceAll(s, ":", "$:")
	return s
}
