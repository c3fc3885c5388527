package dfg

import (
	"fmt"

	"fortio.org/safecast"

	"devirt/internal/diag"
	"devirt/internal/ir"
	"devirt/internal/sym"
)

// Builder turns function bodies and field initializers into templates.
// One Builder serves a whole module; per-function state is reset between
// bodies.
type Builder struct {
	prog  *ir.Program
	table *sym.Table
	vt    ir.VTableBuilder
	bag   *diag.Bag

	callSites map[CallSiteKey]*ir.Expr

	// per-function state
	fn           *ir.Func
	fnID         sym.FuncID
	tmpl         *Template
	elems        *Elements
	exprNodes    map[*ir.Expr]NodeID
	tempNodes    map[*ir.Expr]NodeID
	varNodes     map[*ir.Variable]NodeID
	params       []NodeID
	continuation NodeID
	unitValue    *ir.Expr
	nothingValue *ir.Expr
}

// Result carries the module's templates plus the side table mapping call
// sites back to their IR expressions for the rewrite step.
type Result struct {
	Templates []*Template
	ByFunc    map[sym.FuncID]*Template

	// CallSites maps virtual call nodes to the IR calls they were built
	// from. Only current-module templates have entries; deserialized
	// library templates keep the HasCallSite flag but lose the pointer.
	CallSites map[CallSiteKey]*ir.Expr
}

// NewBuilder creates a module-wide template builder. The vtable builder
// must be the same instance the symbol table was filled with.
func NewBuilder(prog *ir.Program, table *sym.Table, vt ir.VTableBuilder, bag *diag.Bag) *Builder {
	return &Builder{
		prog:      prog,
		table:     table,
		vt:        vt,
		bag:       bag,
		callSites: make(map[CallSiteKey]*ir.Expr),
	}
}

// BuildModule builds one template per function body and field initializer
// of the module, in declaration order.
func (b *Builder) BuildModule() (*Result, error) {
	res := &Result{ByFunc: make(map[sym.FuncID]*Template), CallSites: b.callSites}

	addTemplate := func(t *Template) {
		if t == nil {
			return
		}
		res.Templates = append(res.Templates, t)
		res.ByFunc[t.Fn] = t
	}

	mod := b.prog.Module
	for _, c := range mod.Classes {
		for _, m := range c.Methods {
			if m.Body != nil {
				addTemplate(b.buildFunc(m))
			}
		}
		for _, f := range c.Fields {
			if f.Init != nil {
				addTemplate(b.buildFieldInit(f))
			}
		}
	}
	for _, f := range mod.Funcs {
		if f.Body != nil {
			addTemplate(b.buildFunc(f))
		}
	}
	for _, f := range mod.Fields {
		if f.Init != nil {
			addTemplate(b.buildFieldInit(f))
		}
	}
	return res, b.bag.Err()
}

// buildFieldInit wraps a field initializer into a synthetic setter body so
// it flows through the same template pipeline as function bodies.
func (b *Builder) buildFieldInit(f *ir.Field) *Template {
	owner := "<static>"
	params := 0
	var paramClasses []*ir.Class
	var recv *ir.Expr
	if f.Owner != nil {
		owner = f.Owner.Name
		params = 1
		paramClasses = []*ir.Class{f.Owner}
		recv = &ir.Expr{Kind: ir.ExprGetParam, StaticClass: f.Owner, Data: ir.GetParamData{Index: 0}}
	}
	fn := &ir.Func{
		Name:         "<init:" + owner + "." + f.Name + ">",
		ParamCount:   params,
		ParamClasses: paramClasses,
		IsGlobalInit: true,
		ReturnClass:  b.prog.Unit,
		Body: &ir.Expr{
			Kind:        ir.ExprSetField,
			StaticClass: b.prog.Unit,
			Data:        ir.SetFieldData{Receiver: recv, Field: f, Value: f.Init},
		},
	}
	return b.buildFunc(fn)
}

func (b *Builder) buildFunc(fn *ir.Func) *Template {
	b.fn = fn
	b.fnID = b.table.FuncOf(fn)
	b.exprNodes = make(map[*ir.Expr]NodeID)
	b.tempNodes = make(map[*ir.Expr]NodeID)
	b.varNodes = make(map[*ir.Variable]NodeID)
	b.continuation = NoNodeID
	b.unitValue = &ir.Expr{Kind: ir.ExprGetObject, StaticClass: b.prog.Unit, Data: ir.GetObjectData{Class: b.prog.Unit}}
	b.nothingValue = &ir.Expr{Kind: ir.ExprGetObject, StaticClass: b.prog.Nothing, Data: ir.GetObjectData{Class: b.prog.Nothing}}

	paramTotal := fn.ParamCount
	if fn.IsSuspend {
		// trailing continuation parameter
		paramTotal++
	}
	b.tmpl = &Template{
		Fn:         b.fnID,
		ParamCount: paramTotal,
		Nodes:      make([]Node, 1, 16),
	}
	b.params = make([]NodeID, paramTotal)
	b.tmpl.ParamTypes = make([]sym.TypeID, paramTotal)
	for i := range b.params {
		idx, err := safecast.Conv[int32](i)
		if err != nil {
			panic(fmt.Errorf("parameter index overflow: %w", err))
		}
		b.params[i] = b.newNode(Node{Kind: NodeParameter, Param: idx})
		if i < len(fn.ParamClasses) && fn.ParamClasses[i] != nil {
			b.tmpl.ParamTypes[i] = b.table.TypeOf(fn.ParamClasses[i])
		} else {
			// opaque erasure, including the trailing continuation
			b.tmpl.ParamTypes[i] = b.table.VirtualType()
		}
	}

	b.elems = FindElements(fn.Body, b.prog.Unit)
	closure := VariableClosure(b.elems)

	// Variable nodes exist before anything references them; their value
	// edges are backfilled from the closure afterwards.
	for _, v := range b.elems.VarOrder {
		b.varNodes[v] = b.newNode(Node{Kind: NodeVariable})
	}

	b.visitStmt(fn.Body)

	retEdges := make([]Edge, 0, len(b.elems.Returns))
	for _, r := range b.elems.Returns {
		retEdges = append(retEdges, b.valueEdges(r)...)
	}
	b.tmpl.Returns = b.newNode(Node{Kind: NodeTempVariable, Values: retEdges})

	// Variables union their values directly; no intermediate TempVariable
	// per assigned expression.
	for _, v := range b.elems.VarOrder {
		var edges []Edge
		for _, value := range closure[v] {
			edges = append(edges, b.valueEdges(value)...)
		}
		b.tmpl.Nodes[b.varNodes[v]].Values = edges
	}
	return b.tmpl
}

// valueEdges decomposes a producing expression into one edge per extracted
// value.
func (b *Builder) valueEdges(e *ir.Expr) []Edge {
	var edges []Edge
	b.forEachValue(e, func(v *ir.Expr) {
		edges = append(edges, b.valueEdge(v))
	})
	return edges
}

func (b *Builder) entity() string {
	return "fn " + ir.QualifiedName(b.fn)
}

func (b *Builder) newNode(n Node) NodeID {
	value, err := safecast.Conv[uint32](len(b.tmpl.Nodes))
	if err != nil {
		panic(fmt.Errorf("template node overflow: %w", err))
	}
	b.tmpl.Nodes = append(b.tmpl.Nodes, n)
	return NodeID(value)
}

// visitStmt walks statement positions, making sure every effectful
// expression gets a node even when its value is discarded.
func (b *Builder) visitStmt(x *ir.Expr) {
	if x == nil {
		return
	}
	switch x.Kind {
	case ir.ExprBlock:
		for _, s := range x.Data.(ir.BlockData).Stmts {
			b.visitStmt(s)
		}
	case ir.ExprWhen:
		for _, br := range x.Data.(ir.WhenData).Branches {
			b.visitStmt(br.Cond)
			b.visitStmt(br.Result)
		}
	case ir.ExprTry:
		data := x.Data.(ir.TryData)
		b.visitStmt(data.Body)
		for _, c := range data.Catches {
			b.visitStmt(c)
		}
	case ir.ExprReturnableBlock:
		b.visitStmt(x.Data.(ir.ReturnableBlockData).Body)
	case ir.ExprSuspendable:
		b.visitStmt(x.Data.(ir.SuspendableData).Body)
	case ir.ExprSuspensionPoint:
		b.visitStmt(x.Data.(ir.SuspensionPointData).Result)
	case ir.ExprReturn:
		b.visitStmt(x.Data.(ir.ReturnData).Value)
	case ir.ExprVarDecl:
		b.visitStmt(x.Data.(ir.VarDeclData).Init)
	case ir.ExprSetVar:
		b.visitStmt(x.Data.(ir.SetVarData).Value)
	case ir.ExprTypeOp:
		data := x.Data.(ir.TypeOpData)
		if data.Op.IsCast() {
			b.visitStmt(data.Arg)
			return
		}
		b.nodeFor(x)
	case ir.ExprGetVar, ir.ExprGetParam:
		// reads without effects
	default:
		b.nodeFor(x)
	}
}

// edgeFor builds the dataflow edge for a producing expression: a direct
// (possibly cast) edge when the value set is a singleton, a TempVariable
// union otherwise.
func (b *Builder) edgeFor(e *ir.Expr) Edge {
	var vals []*ir.Expr
	b.forEachValue(e, func(v *ir.Expr) { vals = append(vals, v) })
	if len(vals) == 1 {
		return b.valueEdge(vals[0])
	}
	if id, ok := b.tempNodes[e]; ok {
		return Edge{Node: id}
	}
	edges := make([]Edge, 0, len(vals))
	for _, v := range vals {
		edges = append(edges, b.valueEdge(v))
	}
	id := b.newNode(Node{Kind: NodeTempVariable, Values: edges})
	b.tempNodes[e] = id
	return Edge{Node: id}
}

func (b *Builder) valueEdge(v *ir.Expr) Edge {
	if v.Kind == ir.ExprTypeOp {
		data := v.Data.(ir.TypeOpData)
		if data.Op.IsCast() {
			return Edge{Node: b.nodeFor(data.Arg), Cast: b.table.TypeOf(data.Operand)}
		}
	}
	return Edge{Node: b.nodeFor(v)}
}

// nodeFor maps one value expression to its unique template node.
func (b *Builder) nodeFor(e *ir.Expr) NodeID {
	if id, ok := b.exprNodes[e]; ok {
		return id
	}
	var id NodeID
	switch e.Kind {
	case ir.ExprGetVar:
		v := e.Data.(ir.GetVarData).Var
		id = b.varNodes[v]
		if !id.IsValid() {
			// variable never assigned in this body (declared elsewhere or
			// producer slip); give it an empty node
			id = b.newNode(Node{Kind: NodeVariable})
			b.varNodes[v] = id
		}
	case ir.ExprGetParam:
		idx := e.Data.(ir.GetParamData).Index
		if idx < 0 || idx >= len(b.params) {
			b.bag.Add(diag.NewError(diag.SumUnhandledExpr, b.entity(),
				fmt.Sprintf("parameter index %d out of range", idx)))
			id = b.newNode(Node{Kind: NodeConst, Type: b.table.VirtualType()})
			break
		}
		id = b.params[idx]
	case ir.ExprConst, ir.ExprVararg, ir.ExprFuncRef:
		id = b.newNode(Node{Kind: NodeConst, Type: b.table.TypeOf(e.StaticClass)})
	case ir.ExprGetObject:
		id = b.newNode(Node{Kind: NodeSingleton, Type: b.table.TypeOf(e.Data.(ir.GetObjectData).Class)})
	case ir.ExprTypeOp:
		data := e.Data.(ir.TypeOpData)
		if data.Op.IsCast() {
			// casts live on edges, never as nodes
			b.bag.Add(diag.NewError(diag.SumUnhandledExpr, b.entity(),
				"cast operator reached node construction"))
			id = b.newNode(Node{Kind: NodeConst, Type: b.table.TypeOf(e.StaticClass)})
			break
		}
		id = b.newNode(Node{Kind: NodeConst, Type: b.table.TypeOf(e.StaticClass)})
	case ir.ExprCall:
		id = b.callNode(e)
	case ir.ExprDelegatingCtorCall:
		data := e.Data.(ir.DelegatingCtorCallData)
		edges := make([]Edge, 0, len(data.Args)+1)
		if len(b.params) > 0 {
			// implicit this from the constructed class's receiver parameter
			edges = append(edges, Edge{Node: b.params[0]})
		}
		for _, a := range data.Args {
			edges = append(edges, b.edgeFor(a))
		}
		id = b.newNode(Node{
			Kind:       NodeStaticCall,
			Callee:     b.table.FuncOf(data.Callee),
			Args:       edges,
			ReturnType: b.table.UnitType(),
			Receiver:   b.table.TypeOf(data.Callee.Owner),
		})
	case ir.ExprGetField:
		data := e.Data.(ir.GetFieldData)
		n := Node{Kind: NodeFieldRead, Field: b.fieldRef(data.Field)}
		if data.Receiver != nil {
			n.Recv = b.edgeFor(data.Receiver)
		}
		id = b.newNode(n)
	case ir.ExprSetField:
		data := e.Data.(ir.SetFieldData)
		n := Node{Kind: NodeFieldWrite, Field: b.fieldRef(data.Field)}
		if data.Receiver != nil {
			n.Recv = b.edgeFor(data.Receiver)
		}
		n.Value = b.edgeFor(data.Value)
		id = b.newNode(n)
	default:
		b.bag.Add(diag.NewError(diag.SumUnhandledExpr, b.entity(),
			"unexpected "+e.Kind.String()+" expression in value position"))
		id = b.newNode(Node{Kind: NodeConst, Type: b.table.TypeOf(e.StaticClass)})
	}
	b.exprNodes[e] = id
	return id
}

func (b *Builder) fieldRef(f *ir.Field) FieldRef {
	ref := FieldRef{Name: f.Name}
	if f.Owner != nil {
		ref.Receiver = b.table.TypeOf(f.Owner)
		ref.Name = f.Owner.Name + "." + f.Name
	}
	return ref
}

func (b *Builder) callNode(e *ir.Expr) NodeID {
	data := e.Data.(ir.CallData)
	callee := data.Callee

	if callee.Intrinsic == ir.IntrinsicGetContinuation {
		return b.continuationNode()
	}

	args := data.AllArgs()
	edges := make([]Edge, 0, len(args)+1)
	for _, a := range args {
		edges = append(edges, b.edgeFor(a))
	}
	if callee.IsSuspend {
		// suspend callees take the caller's continuation as a trailing
		// argument
		edges = append(edges, Edge{Node: b.continuationNode()})
	}

	switch {
	case callee.IsConstructor:
		return b.newNode(Node{
			Kind:       NodeNewObject,
			Callee:     b.table.FuncOf(callee),
			Args:       edges,
			ReturnType: b.table.TypeOf(callee.Owner),
		})
	case callee.Overridable() && data.SuperQualifier == nil:
		recvType := b.table.TypeOf(callee.Owner)
		var id NodeID
		if callee.Owner.IsInterface {
			id = b.newNode(Node{
				Kind:        NodeItableCall,
				Callee:      b.table.FuncOf(callee),
				Args:        edges,
				ReturnType:  b.table.TypeOf(callee.ReturnClass),
				Receiver:    recvType,
				Hash:        ir.MethodHash(ir.SignatureName(callee)),
				HasCallSite: true,
			})
		} else {
			vidx := b.vt.VTableIndex(callee)
			if vidx < 0 {
				b.bag.Add(diag.NewError(diag.SumNoVTableSlot, b.entity(),
					"no vtable slot for virtual callee "+ir.QualifiedName(callee)))
			}
			vi, err := safecast.Conv[int32](max(vidx, 0))
			if err != nil {
				panic(fmt.Errorf("vtable index overflow: %w", err))
			}
			id = b.newNode(Node{
				Kind:        NodeVtableCall,
				Callee:      b.table.FuncOf(callee),
				Args:        edges,
				ReturnType:  b.table.TypeOf(callee.ReturnClass),
				Receiver:    recvType,
				VIndex:      vi,
				HasCallSite: true,
			})
		}
		b.callSites[CallSiteKey{Fn: b.fnID, Node: id}] = e
		return id
	default:
		target := callee
		if data.SuperQualifier != nil {
			if impl := b.vt.ConcreteImpl(data.SuperQualifier, callee); impl != nil {
				target = impl
			}
		}
		n := Node{
			Kind:       NodeStaticCall,
			Callee:     b.table.FuncOf(target),
			Args:       edges,
			ReturnType: b.table.TypeOf(target.ReturnClass),
		}
		if target.Owner != nil {
			n.Receiver = b.table.TypeOf(target.Owner)
		}
		return b.newNode(n)
	}
}

func (b *Builder) continuationNode() NodeID {
	if b.continuation.IsValid() {
		return b.continuation
	}
	switch {
	case b.fn.IsSuspend:
		b.continuation = b.params[b.fn.ParamCount]
	case b.fn.OverridesResumeImpl && len(b.params) > 0:
		b.continuation = b.params[0]
	default:
		b.bag.Add(diag.NewError(diag.SumNoContinuation, b.entity(),
			"getContinuation outside a suspend context"))
		b.continuation = b.newNode(Node{Kind: NodeConst, Type: b.table.VirtualType()})
	}
	return b.continuation
}
