package diag

type Note struct {
	Entity string
	Msg    string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string

	// Entity names the offending declaration or expression,
	// e.g. "fn Animal.makeSound" or "class Cat".
	Entity string

	Notes []Note
}
