package summary

import (
	"devirt/internal/dfg"
	"devirt/internal/sym"
)

// Encode snapshots the symbol table and the module's templates. Arena ids
// are dense and 1-based, so summary positions coincide with them; the
// encoder only rewrites ids into raw integers and demotes foreign declared
// entities to external references, since their bodies belong to the
// summaries of their own modules.
func Encode(table *sym.Table, templates []*dfg.Template) *File {
	f := &File{
		Schema: SchemaVersion,
		Module: ModuleDTO{
			Name:            table.Module.Name,
			NumVirtualFuncs: table.Module.NumVirtualFuncs,
		},
	}

	numTypes := table.NumTypes()
	f.Types = make([]TypeDTO, 0, numTypes)
	for i := 1; i <= numTypes; i++ {
		id := sym.TypeID(i)
		info := table.Type(id)
		dto := TypeDTO{
			Kind:       uint8(info.Kind),
			Name:       info.Name,
			LocalIndex: info.LocalIndex,
		}
		if info.Declared() && table.TypeModule(id) != table.Module {
			dto.Kind = uint8(sym.TypeExternal)
			dto.LocalIndex = -1
			f.Types = append(f.Types, dto)
			continue
		}
		if info.Declared() {
			dto.IsInterface = info.IsInterface
			dto.IsFinal = info.IsFinal
			dto.IsAbstract = info.IsAbstract
			dto.Supers = make([]uint32, len(info.Supers))
			for j, s := range info.Supers {
				dto.Supers[j] = uint32(s)
			}
			dto.VTable = make([]uint32, len(info.VTable))
			for j, fn := range info.VTable {
				dto.VTable[j] = uint32(fn)
			}
			dto.ITable = make([]ITableEntryDTO, len(info.ITable))
			for j, e := range info.ITable {
				dto.ITable[j] = ITableEntryDTO{Hash: e.Hash, Impl: uint32(e.Impl)}
			}
		}
		f.Types = append(f.Types, dto)
	}

	numFuncs := table.NumFuncs()
	f.Funcs = make([]FuncDTO, 0, numFuncs)
	for i := 1; i <= numFuncs; i++ {
		id := sym.FuncID(i)
		info := table.Func(id)
		dto := FuncDTO{
			Kind:        uint8(info.Kind),
			Name:        info.Name,
			LocalIndex:  info.LocalIndex,
			SymbolIndex: info.SymbolIndex,
		}
		if info.Declared() && table.FuncModule(id) != table.Module {
			dto.Kind = uint8(sym.FuncExternal)
			dto.LocalIndex = -1
			dto.SymbolIndex = -1
		}
		f.Funcs = append(f.Funcs, dto)
	}

	f.Templates = make([]TemplateDTO, 0, len(templates))
	for _, t := range templates {
		f.Templates = append(f.Templates, encodeTemplate(t))
	}
	return f
}

func encodeTemplate(t *dfg.Template) TemplateDTO {
	dto := TemplateDTO{
		Func:       uint32(t.Fn),
		ParamCount: uint32(t.ParamCount),
		Returns:    uint32(t.Returns),
	}
	dto.ParamTypes = make([]uint32, len(t.ParamTypes))
	for i, pt := range t.ParamTypes {
		dto.ParamTypes[i] = uint32(pt)
	}
	dto.Nodes = make([]NodeDTO, 0, t.NumNodes())
	for i := 1; i <= t.NumNodes(); i++ {
		n := t.Node(dfg.NodeID(i))
		dto.Nodes = append(dto.Nodes, NodeDTO{
			Kind:        uint8(n.Kind),
			Param:       n.Param,
			Type:        uint32(n.Type),
			Callee:      uint32(n.Callee),
			Args:        encodeEdges(n.Args),
			ReturnType:  uint32(n.ReturnType),
			Receiver:    uint32(n.Receiver),
			VIndex:      n.VIndex,
			Hash:        n.Hash,
			HasCallSite: n.HasCallSite,
			FieldRecv:   uint32(n.Field.Receiver),
			FieldName:   n.Field.Name,
			Recv:        encodeEdge(n.Recv),
			Value:       encodeEdge(n.Value),
			Values:      encodeEdges(n.Values),
		})
	}
	return dto
}

func encodeEdge(e dfg.Edge) EdgeDTO {
	return EdgeDTO{Node: uint32(e.Node), Cast: uint32(e.Cast)}
}

func encodeEdges(edges []dfg.Edge) []EdgeDTO {
	if len(edges) == 0 {
		return nil
	}
	out := make([]EdgeDTO, len(edges))
	for i, e := range edges {
		out[i] = encodeEdge(e)
	}
	return out
}
