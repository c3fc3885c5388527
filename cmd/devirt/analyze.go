package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"devirt/internal/devirt"
	"devirt/internal/diag"
	"devirt/internal/ir"
	"devirt/internal/observ"
	"devirt/internal/summary"
	"devirt/internal/sym"
)

var analyzeJobs int

func init() {
	analyzeCmd.Flags().IntVar(&analyzeJobs, "jobs", 0, "parallel summary reads (0 = NumCPU)")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [summaries...]",
	Short: "Link module summaries and report devirtualizable call sites",
	Long: `Reads the given module summaries (or the ones listed in devirt.toml),
links them into one constraint graph with every public function as a root,
propagates reachable types and prints the devirtualizable call sites.`,
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	timings, _ := cmd.Root().PersistentFlags().GetBool("timings")
	setupColor(cmd)

	paths := args
	moduleName := "link"
	if len(paths) == 0 {
		manifest, ok, err := loadProjectManifest(".")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s", noDevirtTomlMessage)
		}
		paths = manifest.summaryPaths()
		if manifest.Config.Package.Name != "" {
			moduleName = manifest.Config.Package.Name
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("no summaries to analyze")
	}

	// Reads run in parallel; decoding into the shared symbol table stays
	// sequential in argument order so ids come out the same every run.
	files, err := readSummaries(cmd.Context(), paths, analyzeJobs)
	if err != nil {
		return err
	}

	timer := observ.NewTimer()
	bag := diag.NewBag(100)
	table := sym.NewTable(moduleName, ir.NewVTableBuilder(), bag)

	loadPhase := timer.Begin("load")
	libs := make([]*summary.Loaded, 0, len(files))
	for i, f := range files {
		loaded, err := summary.Decode(f, table)
		if err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
		libs = append(libs, loaded)
	}
	timer.End(loadPhase, fmt.Sprintf("%d modules", len(libs)))

	res, err := devirt.Analyze(nil, table, nil, libs,
		devirt.Config{AllSummaryRoots: true}, timer, bag)
	if err != nil {
		printDiagnostics(bag)
		return err
	}

	if !quiet {
		printSites(table, res)
		printStats(res.Stats)
	}
	if timings {
		fmt.Fprint(os.Stderr, timer.Summary())
	}
	return nil
}

func readSummaries(ctx context.Context, paths []string, jobs int) ([]*summary.File, error) {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	files := make([]*summary.File, len(paths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, path := range paths {
		g.Go(func() error {
			f, err := summary.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if f == nil {
				return fmt.Errorf("%s: no such summary", path)
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func setupColor(cmd *cobra.Command) {
	mode, _ := cmd.Root().PersistentFlags().GetString("color")
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		color.NoColor = !isTerminal(os.Stdout)
	}
}

var (
	siteColor   = color.New(color.FgCyan)
	calleeColor = color.New(color.FgGreen)
)

func printSites(table *sym.Table, res *devirt.Result) {
	for _, s := range res.Sites {
		enclosing := "<unknown>"
		if info := table.Func(s.Enclosing); info != nil {
			enclosing = info.Name
		}
		siteColor.Printf("%s node %d\n", enclosing, uint32(s.Key.Node))
		for _, c := range s.Callees {
			recv, callee := "<unknown>", "<unknown>"
			if info := table.Type(c.Receiver); info != nil {
				recv = info.Name
			}
			if info := table.Func(c.Callee); info != nil {
				callee = info.Name
			}
			calleeColor.Printf("  %s -> %s\n", recv, callee)
		}
	}
}

func printStats(st devirt.Stats) {
	fmt.Printf("templates: %d  instantiated: %d  nodes: %d  sccs: %d\n",
		st.Templates, st.Instantiated, st.Nodes, st.MultiNodes)
	fmt.Printf("sites: %d  devirtualized: %d  rewritten: %d\n",
		st.Sites, st.Devirtualized, st.Rewritten)
}

func printDiagnostics(bag *diag.Bag) {
	bag.Sort()
	errColor := color.New(color.FgRed, color.Bold)
	for _, d := range bag.Items() {
		errColor.Fprintf(os.Stderr, "%s %s", d.Severity, d.Code)
		fmt.Fprintf(os.Stderr, " %s: %s\n", d.Entity, d.Message)
	}
}
