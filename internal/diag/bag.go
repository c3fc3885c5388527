package diag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Bag struct {
	items []Diagnostic
	max   uint16
}

func NewBag(max int) *Bag {
	return &Bag{
		items: make([]Diagnostic, 0, max),
		max:   uint16(max),
	}
}

// Add appends a diagnostic, respecting the limit.
// Returns false when the diagnostic was not added (limit reached).
func (b *Bag) Add(d Diagnostic) bool {
	if len(b.items) >= int(b.max) {
		return false
	}
	b.items = append(b.items, d)
	return true
}

func (b *Bag) Cap() uint16 {
	return b.max
}

// HasErrors reports whether any diagnostic has Severity >= Error.
func (b *Bag) HasErrors() bool {
	for i := range b.items {
		if b.items[i].Severity >= SevError {
			return true
		}
	}
	return false
}

func (b *Bag) Len() int {
	return len(b.items)
}

// Items returns a read-only slice of diagnostics.
// Do not modify the returned slice; it aliases the bag's storage.
func (b *Bag) Items() []Diagnostic {
	return b.items
}

// Merge appends diagnostics from another bag, growing max when needed.
func (b *Bag) Merge(other *Bag) {
	newTotal := len(b.items) + len(other.items)
	if uint16(newTotal) > b.max {
		b.max = uint16(newTotal)
	}
	b.items = append(b.items, other.items...)
}

// Sort orders diagnostics by entity, severity (desc), code (asc) so output
// is deterministic between runs.
func (b *Bag) Sort() {
	sort.SliceStable(b.items, func(i, j int) bool {
		di, dj := b.items[i], b.items[j]
		if di.Entity != dj.Entity {
			return di.Entity < dj.Entity
		}
		if di.Severity != dj.Severity {
			return di.Severity > dj.Severity
		}
		return di.Code < dj.Code
	})
}

// Dedup drops repeated (code, entity) pairs.
func (b *Bag) Dedup() {
	seen := make(map[string]bool)
	newitems := make([]Diagnostic, 0, len(b.items))
	for _, d := range b.items {
		key := fmt.Sprintf("%s:%s", d.Code.String(), d.Entity)
		if seen[key] {
			continue
		}
		seen[key] = true
		newitems = append(newitems, d)
	}
	b.items = newitems
}

// Err collapses the bag into a single error when it holds errors, nil
// otherwise. The analysis has no partial-result mode, so a bag with errors
// always aborts the pass.
func (b *Bag) Err() error {
	if b == nil || !b.HasErrors() {
		return nil
	}
	var sb strings.Builder
	n := 0
	for _, d := range b.items {
		if d.Severity < SevError {
			continue
		}
		if n > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s %s: %s", d.Code, d.Entity, d.Message)
		n++
	}
	return errors.New(sb.String())
}
