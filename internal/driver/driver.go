package driver

import (
	"fmt"

	"devirt/internal/devirt"
	"devirt/internal/dfg"
	"devirt/internal/diag"
	"devirt/internal/ir"
	"devirt/internal/observ"
	"devirt/internal/summary"
	"devirt/internal/sym"
)

// Options configures one compilation.
type Options struct {
	// IsProgram selects main-only roots.
	IsProgram bool

	// EntryPoint is the program entry function, required when IsProgram.
	EntryPoint *ir.Func

	// Libraries are previously produced module summaries to link against.
	Libraries []*summary.File

	// MaxDiagnostics caps collected diagnostics; 0 means the default.
	MaxDiagnostics int
}

// Result is everything one compilation produces: the module's own summary,
// the devirtualization map for the rewrite consumer, and the symbol table
// the ids in both refer to.
type Result struct {
	Table     *sym.Table
	Templates *dfg.Result
	Summary   *summary.File
	Analysis  *devirt.Result
	Timing    observ.Report
}

// Compile runs the full pass over one module: symbol table, templates,
// interprocedural analysis, rewrite, summary. There is no partial-result
// mode; any collected error aborts the compilation.
func Compile(prog *ir.Program, opts Options) (*Result, error) {
	if prog == nil || prog.Module == nil {
		return nil, fmt.Errorf("driver: nil program")
	}
	maxDiag := opts.MaxDiagnostics
	if maxDiag <= 0 {
		maxDiag = 100
	}
	bag := diag.NewBag(maxDiag)
	timer := observ.NewTimer()
	vt := ir.NewVTableBuilder()
	table := sym.NewTable(prog.Module.Name, vt, bag)

	// Libraries load first so external references in this module resolve
	// to the declared entities they name.
	loadPhase := timer.Begin("load")
	libs := make([]*summary.Loaded, 0, len(opts.Libraries))
	for _, f := range opts.Libraries {
		loaded, err := summary.Decode(f, table)
		if err != nil {
			return nil, err
		}
		libs = append(libs, loaded)
	}
	timer.End(loadPhase, fmt.Sprintf("%d libraries", len(libs)))

	declPhase := timer.Begin("declare")
	if err := table.DeclareProgram(prog); err != nil {
		timer.End(declPhase, "")
		return nil, err
	}
	timer.End(declPhase, fmt.Sprintf("%d types, %d funcs", table.NumTypes(), table.NumFuncs()))

	sumPhase := timer.Begin("summarize")
	builder := dfg.NewBuilder(prog, table, vt, bag)
	tmpls, err := builder.BuildModule()
	if err != nil {
		timer.End(sumPhase, "")
		return nil, err
	}
	timer.End(sumPhase, fmt.Sprintf("%d templates", len(tmpls.Templates)))

	analysis, err := devirt.Analyze(prog, table, tmpls, libs, devirt.Config{
		IsProgram:  opts.IsProgram,
		EntryPoint: opts.EntryPoint,
	}, timer, bag)
	if err != nil {
		return nil, err
	}

	// The summary snapshots the table after analysis so symbol indices
	// assigned during declaration are final.
	out := summary.Encode(table, tmpls.Templates)

	return &Result{
		Table:     table,
		Templates: tmpls,
		Summary:   out,
		Analysis:  analysis,
		Timing:    timer.Report(),
	}, nil
}
