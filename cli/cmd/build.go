package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
)

var buildNoWrite bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the bundle",
	Long: `Resolve, transform and emit the bundle once.

Every failure of the build is reported, not only the first one. The
command exits non-zero when any module failed.

Examples:
  fluxpack build
  fluxpack build --config ./configs/fluxpack.yaml
  fluxpack build --no-write -o json`,
	PreRunE: loadConfig,
	RunE:    runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildNoWrite, "no-write", false, "build without writing artifacts")
}

// moduleRow is one module of a build summary.
type moduleRow struct {
	Index  int    `json:"index" yaml:"index"`
	Module string `json:"module" yaml:"module"`
	Chunk  string `json:"chunk" yaml:"chunk"`
	Bytes  int    `json:"bytes" yaml:"bytes"`
	Status string `json:"status" yaml:"status"`
}

// artifactRow is one emitted file of a build summary.
type artifactRow struct {
	Name    string `json:"name" yaml:"name"`
	Bytes   int    `json:"bytes" yaml:"bytes"`
	Modules int    `json:"modules" yaml:"modules"`
	Map     string `json:"map,omitempty" yaml:"map,omitempty"`
}

// buildSummary is the machine readable output of a build.
type buildSummary struct {
	Generation  uint64        `json:"generation" yaml:"generation"`
	DurationMS  int64         `json:"duration_ms" yaml:"duration_ms"`
	Transformed int           `json:"transformed" yaml:"transformed"`
	Reused      int           `json:"reused" yaml:"reused"`
	Modules     []moduleRow   `json:"modules" yaml:"modules"`
	Artifacts   []artifactRow `json:"artifacts" yaml:"artifacts"`
	Cycles      [][]string    `json:"cycles,omitempty" yaml:"cycles,omitempty"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := newPipeline(ctx, !buildNoWrite)
	if err != nil {
		return err
	}
	defer p.close()

	f := GetFormatter()
	res, err := p.bundler.Build(ctx)
	if err != nil {
		errs := builderr.Flatten(err)
		for _, e := range errs {
			f.PrintError(e.Error())
		}
		return fmt.Errorf("build failed with %d error(s)", len(errs))
	}

	summary := summarize(res, cfg.Build.Root)
	if f.Format != output.FormatTable {
		return f.Print(summary)
	}

	rows := make([][]string, 0, len(summary.Modules))
	for _, m := range summary.Modules {
		rows = append(rows, []string{strconv.Itoa(m.Index), m.Module, m.Chunk, strconv.Itoa(m.Bytes), m.Status})
	}
	f.PrintTable(output.TableData{
		Headers: []string{"ID", "MODULE", "CHUNK", "BYTES", "STATUS"},
		Rows:    rows,
	})
	f.PrintInfo("")

	rows = rows[:0]
	for _, a := range summary.Artifacts {
		rows = append(rows, []string{a.Name, strconv.Itoa(a.Bytes), strconv.Itoa(a.Modules), a.Map})
	}
	f.PrintTable(output.TableData{
		Headers: []string{"ARTIFACT", "BYTES", "MODULES", "MAP"},
		Rows:    rows,
	})

	for _, group := range summary.Cycles {
		f.PrintWarning("circular imports: " + strings.Join(group, ", "))
	}
	f.PrintSuccess(fmt.Sprintf("Built %d modules in %dms (generation %d)",
		len(summary.Modules), summary.DurationMS, summary.Generation))
	return nil
}

// summarize lists the modules of res in execution order with the chunk
// that carries each of them.
func summarize(res *bundler.Result, root string) buildSummary {
	s := buildSummary{
		Generation:  res.Generation,
		DurationMS:  res.Duration.Milliseconds(),
		Transformed: res.Transformed,
		Reused:      res.Reused,
	}

	chunkOf := make(map[int]string)
	for _, c := range res.Chunks {
		for _, id := range c.Modules {
			chunkOf[res.Plan.Index[id]] = c.Name
		}
	}

	for i, id := range res.Plan.Order {
		rec := res.Graph.Modules[id]
		status := "cached"
		if rec.Generation == res.Generation {
			status = "built"
		}
		s.Modules = append(s.Modules, moduleRow{
			Index:  i,
			Module: id.Rel(root),
			Chunk:  chunkOf[i],
			Bytes:  len(rec.Transformed),
			Status: status,
		})
	}

	for _, a := range res.Artifacts {
		row := artifactRow{Name: a.Name, Bytes: len(a.Code), Modules: a.Modules}
		if a.Map != nil {
			row.Map = a.MapName
		}
		s.Artifacts = append(s.Artifacts, row)
	}

	for _, group := range res.Cycles {
		names := make([]string, len(group))
		for i, id := range group {
			names[i] = id.Rel(root)
		}
		s.Cycles = append(s.Cycles, names)
	}
	return s
}
