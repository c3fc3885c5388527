package summary

// The on-disk summary is one msgpack message per module: the symbol table
// (types, then functions), then the function templates. Entities refer to
// each other by 1-based position in the summary's own lists; 0 means
// absent. Template edges refer to nodes by their in-template index and
// carry an optional type position for their cast.

// SchemaVersion is bumped whenever the payload layout changes; a consumer
// rejects summaries with a different version outright.
const SchemaVersion uint16 = 1

// FileExt is the conventional summary file extension.
const FileExt = ".dvm"

// File is the serialized form of one module summary.
type File struct {
	Schema uint16

	Module ModuleDTO

	Types     []TypeDTO
	Funcs     []FuncDTO
	Templates []TemplateDTO
}

// ModuleDTO mirrors sym.Module.
type ModuleDTO struct {
	Name            string
	NumVirtualFuncs uint32
}

// TypeDTO is one symbol table type entry.
type TypeDTO struct {
	Kind uint8
	Name string

	// LocalIndex is the producer-side private index; consumers renumber
	// it into their own space on load.
	LocalIndex int32

	IsInterface bool
	IsFinal     bool
	IsAbstract  bool

	Supers []uint32
	VTable []uint32
	ITable []ITableEntryDTO
}

// ITableEntryDTO is one interface dispatch entry.
type ITableEntryDTO struct {
	Hash uint64
	Impl uint32
}

// FuncDTO is one symbol table function entry.
type FuncDTO struct {
	Kind        uint8
	Name        string
	LocalIndex  int32
	SymbolIndex int32
}

// TemplateDTO is one serialized function template.
type TemplateDTO struct {
	Func       uint32
	ParamCount uint32
	ParamTypes []uint32
	Nodes      []NodeDTO
	Returns    uint32
}

// EdgeDTO is one dataflow edge; Cast is a type position or 0.
type EdgeDTO struct {
	Node uint32
	Cast uint32
}

// NodeDTO is the union of template node payloads; Kind selects the
// meaningful fields, mirroring dfg.Node.
type NodeDTO struct {
	Kind uint8

	Param int32

	Type uint32

	Callee      uint32
	Args        []EdgeDTO
	ReturnType  uint32
	Receiver    uint32
	VIndex      int32
	Hash        uint64
	HasCallSite bool

	FieldRecv uint32
	FieldName string
	Recv      EdgeDTO
	Value     EdgeDTO

	Values []EdgeDTO
}
