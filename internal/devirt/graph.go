package devirt

import (
	"fmt"

	"fortio.org/safecast"

	"devirt/internal/dfg"
	"devirt/internal/sym"
)

// typeTok is one propagated type: a class identity tagged with whether the
// concrete runtime class was actually observed. Virtual tokens poison
// devirtualization at any receiver they reach.
type typeTok struct {
	Type    sym.TypeID
	Virtual bool
}

// castEdge is one subtype-filtered edge endpoint.
type castEdge struct {
	other  int32
	castTo sym.TypeID
}

// gnode is one constraint graph node. Regular edges are kept in both
// directions: forward for DFS and recursive propagation, incoming for the
// topological gather. Cast edges likewise.
type gnode struct {
	isSource bool
	srcTok   int32 // token of a source node, -1 otherwise

	out     []int32
	in      []int32
	castOut []castEdge
	castIn  []castEdge

	// multi is the node's condensation priority (MultiNode index).
	multi int32

	types bitset
}

// funcFlow is a function's external connection points in the graph.
type funcFlow struct {
	params  []int32
	returns int32
}

// siteRecord remembers one virtual call for the devirtualizer: the casted
// receiver node and the receiver-class-to-callee map enumerated at build
// time.
type siteRecord struct {
	key       dfg.CallSiteKey
	enclosing sym.FuncID
	receiver  int32
	pairs     []PossibleCallee
}

// PossibleCallee is one (receiver class, target) pair at a virtual call.
type PossibleCallee struct {
	Receiver sym.TypeID
	Callee   sym.FuncID
}

// graph is the whole-program constraint graph. Nodes live in one arena
// addressed by dense int32 ids; adjacency is by id, never by pointer.
type graph struct {
	table *sym.Table

	templates map[sym.FuncID]*dfg.Template

	nodes []gnode

	// voidNode swallows values whose types are discarded.
	voidNode int32

	tokens   []typeTok
	tokIndex map[typeTok]int32

	sources map[int32]int32 // token -> cached source node
	fields  map[dfg.FieldRef]int32
	funcs   map[sym.FuncID]*funcFlow

	// instantiated is the RTA bound on possible receivers.
	instantiated []sym.TypeID

	callSites []*siteRecord
}

func newGraph(table *sym.Table, templates map[sym.FuncID]*dfg.Template, instantiated []sym.TypeID) *graph {
	g := &graph{
		table:        table,
		templates:    templates,
		tokIndex:     make(map[typeTok]int32),
		sources:      make(map[int32]int32),
		fields:       make(map[dfg.FieldRef]int32),
		funcs:        make(map[sym.FuncID]*funcFlow),
		instantiated: instantiated,
	}
	g.voidNode = g.newOrdinary()
	return g
}

func (g *graph) token(tok typeTok) int32 {
	if id, ok := g.tokIndex[tok]; ok {
		return id
	}
	id, err := safecast.Conv[int32](len(g.tokens))
	if err != nil {
		panic(fmt.Errorf("type token overflow: %w", err))
	}
	g.tokens = append(g.tokens, tok)
	g.tokIndex[tok] = id
	return id
}

// concreteTok tags an observed allocation; abstract classes stay virtual
// since no instance of exactly that class can exist.
func (g *graph) concreteTok(t sym.TypeID) typeTok {
	info := g.table.Type(t)
	virtual := info == nil || info.Kind == sym.TypeVirtual || info.IsAbstract
	return typeTok{Type: t, Virtual: virtual}
}

// virtualTok tags an unobserved receiver class; final classes collapse to
// concrete since no other runtime class is possible.
func (g *graph) virtualTok(t sym.TypeID) typeTok {
	info := g.table.Type(t)
	if info != nil && info.Kind != sym.TypeVirtual && info.IsFinal {
		return typeTok{Type: t, Virtual: false}
	}
	return typeTok{Type: t, Virtual: true}
}

func (g *graph) newNode(n gnode) int32 {
	id, err := safecast.Conv[int32](len(g.nodes))
	if err != nil {
		panic(fmt.Errorf("constraint graph overflow: %w", err))
	}
	g.nodes = append(g.nodes, n)
	return id
}

func (g *graph) newOrdinary() int32 {
	return g.newNode(gnode{srcTok: -1})
}

// sourceNode returns the cached nullary origin of one token.
func (g *graph) sourceNode(tok typeTok) int32 {
	id := g.token(tok)
	if n, ok := g.sources[id]; ok {
		return n
	}
	n := g.newNode(gnode{isSource: true, srcTok: id})
	g.sources[id] = n
	return n
}

func (g *graph) addEdge(src, dst int32) {
	if src == dst {
		return
	}
	g.nodes[src].out = append(g.nodes[src].out, dst)
	g.nodes[dst].in = append(g.nodes[dst].in, src)
}

func (g *graph) addCastEdge(src, dst int32, castTo sym.TypeID) {
	g.nodes[src].castOut = append(g.nodes[src].castOut, castEdge{other: dst, castTo: castTo})
	g.nodes[dst].castIn = append(g.nodes[dst].castIn, castEdge{other: src, castTo: castTo})
}

// fieldNode returns the single program-wide node unifying all reads and
// writes of a field.
func (g *graph) fieldNode(ref dfg.FieldRef) int32 {
	if n, ok := g.fields[ref]; ok {
		return n
	}
	n := g.newOrdinary()
	g.fields[ref] = n
	return n
}
