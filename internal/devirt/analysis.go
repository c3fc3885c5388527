package devirt

import (
	"fmt"

	"devirt/internal/dfg"
	"devirt/internal/diag"
	"devirt/internal/ir"
	"devirt/internal/observ"
	"devirt/internal/summary"
	"devirt/internal/sym"
)

// Config selects the root set.
type Config struct {
	// IsProgram selects main-only roots; otherwise every exported
	// non-abstract function of the module is a root.
	IsProgram bool

	// EntryPoint is the program entry function, required when IsProgram.
	EntryPoint *ir.Func

	// AllSummaryRoots treats every public function carrying a template as
	// a root, including functions loaded from library summaries. The
	// standalone linker uses it when no IR module is present.
	AllSummaryRoots bool
}

// Stats summarizes one analysis run.
type Stats struct {
	Templates     int
	Instantiated  int
	Nodes         int
	MultiNodes    int
	Sites         int
	Devirtualized int
	Rewritten     int
}

// Result is the analysis output handed to the backend.
type Result struct {
	// Sites lists every devirtualized call with its callee set.
	Sites []CallSite

	// PrivateVTable is the module's private functions holding a symbol
	// table slot, ordered by slot.
	PrivateVTable []sym.FuncID

	Stats Stats
}

// Analyze links the module's templates with the loaded library summaries,
// runs propagation to a fixed point, reads off the devirtualized sites and
// rewrites single-callee private calls in place. Everything runs on the
// calling goroutine; the constraint graph lives only for this call.
func Analyze(prog *ir.Program, table *sym.Table, tmpls *dfg.Result,
	libs []*summary.Loaded, cfg Config, timer *observ.Timer, bag *diag.Bag) (*Result, error) {

	if tmpls == nil {
		tmpls = &dfg.Result{CallSites: make(map[dfg.CallSiteKey]*ir.Expr)}
	}

	byFunc := make(map[sym.FuncID]*dfg.Template)
	var order []*dfg.Template
	for _, lib := range libs {
		for _, t := range lib.Templates {
			if _, ok := byFunc[t.Fn]; ok {
				continue
			}
			byFunc[t.Fn] = t
			order = append(order, t)
		}
	}
	for _, t := range tmpls.Templates {
		byFunc[t.Fn] = t
		order = append(order, t)
	}

	phase := timer.Begin("link")
	inst := instantiationScan(table, order)
	g := newGraph(table, byFunc, inst)
	g.linkTemplates(order, bag)
	if err := g.addRoots(prog, order, cfg, bag); err != nil {
		timer.End(phase, "")
		return nil, err
	}
	timer.End(phase, fmt.Sprintf("%d nodes", len(g.nodes)))

	phase = timer.Begin("condense")
	multis := g.condense()
	timer.End(phase, fmt.Sprintf("%d sccs", len(multis)))

	phase = timer.Begin("propagate")
	g.propagate(multis)
	timer.End(phase, fmt.Sprintf("%d tokens", len(g.tokens)))

	phase = timer.Begin("devirtualize")
	sites := g.devirtualize(bag)
	timer.End(phase, fmt.Sprintf("%d of %d sites", len(sites), len(g.callSites)))

	if err := bag.Err(); err != nil {
		return nil, err
	}

	rewritten := Rewrite(table, sites, tmpls.CallSites)

	return &Result{
		Sites:         sites,
		PrivateVTable: table.PrivateVirtualFuncs(),
		Stats: Stats{
			Templates:     len(order),
			Instantiated:  len(inst),
			Nodes:         len(g.nodes),
			MultiNodes:    len(multis),
			Sites:         len(g.callSites),
			Devirtualized: len(sites),
			Rewritten:     rewritten,
		},
	}, nil
}

// addRoots materializes the entry set. Root parameters get virtual
// sources of their erased classes, since nothing is known about the
// values a caller outside the analyzed world may pass.
func (g *graph) addRoots(prog *ir.Program, order []*dfg.Template, cfg Config, bag *diag.Bag) error {
	if cfg.AllSummaryRoots {
		for _, t := range order {
			info := g.table.Func(t.Fn)
			if info == nil || info.Kind != sym.FuncPublic {
				continue
			}
			g.addRootSources(t, bag)
		}
		return nil
	}

	var roots []*ir.Func
	if cfg.IsProgram {
		if cfg.EntryPoint == nil {
			bag.Add(diag.NewError(diag.LinkNoEntryPoint, "module "+prog.Module.Name,
				"program compilation without an entry point"))
			return bag.Err()
		}
		roots = append(roots, cfg.EntryPoint)
	} else {
		for _, c := range prog.Module.Classes {
			for _, m := range c.Methods {
				if exportedRoot(m) {
					roots = append(roots, m)
				}
			}
		}
		for _, f := range prog.Module.Funcs {
			if exportedRoot(f) {
				roots = append(roots, f)
			}
		}
	}

	for _, fn := range roots {
		id := g.table.FuncOf(fn)
		t := g.templates[id]
		if t == nil {
			continue
		}
		g.addRootSources(t, bag)
	}
	return nil
}

func (g *graph) addRootSources(t *dfg.Template, bag *diag.Bag) {
	flow := g.getFunc(t.Fn, bag)
	if flow == nil {
		return
	}
	for i, param := range flow.params {
		if i >= len(t.ParamTypes) {
			break
		}
		src := g.sourceNode(g.virtualTok(t.ParamTypes[i]))
		g.addEdge(src, param)
	}
}

func exportedRoot(f *ir.Func) bool {
	return f.IsExported && !f.IsAbstract && !f.IsExternal && !f.IsFakeOverride && f.Body != nil
}
