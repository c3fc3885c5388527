package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// Symbol table
	SymInfo             Code = 1000
	SymFinalAbstract    Code = 1001
	SymDuplicateClass   Code = 1002
	SymDuplicateFunc    Code = 1003
	SymMissingVTableImp Code = 1004

	// Intraprocedural summarization
	SumInfo            Code = 2000
	SumUnhandledExpr   Code = 2001
	SumNoVTableSlot    Code = 2002
	SumNoContinuation  Code = 2003
	SumBadReturnTarget Code = 2004

	// Summary codec
	CodecInfo          Code = 3000
	CodecBadSchema     Code = 3001
	CodecBadIndex      Code = 3002
	CodecTruncated     Code = 3003
	CodecUnknownPublic Code = 3004

	// Interprocedural analysis
	LinkInfo          Code = 4000
	LinkItableMiss    Code = 4001
	LinkNoEntryPoint  Code = 4002
	LinkBadPrivateIdx Code = 4003
	LinkNoVTableSlot  Code = 4004
)

func (c Code) String() string {
	return fmt.Sprintf("DV%04d", uint16(c))
}
