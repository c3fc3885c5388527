package diag

func New(sev Severity, code Code, entity string, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Entity:   entity,
		Message:  msg,
		Notes:    nil,
	}
}

func NewError(code Code, entity string, msg string) Diagnostic {
	return New(SevError, code, entity, msg)
}

func (d Diagnostic) WithNote(entity, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Entity: entity, Msg: msg})
	return d
}
