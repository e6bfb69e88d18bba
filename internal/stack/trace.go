package stack

import (
	"strings"
)

// TraceEntry describes one visible entry of a stack.
type TraceEntry struct {
	Kind  string       `json:"kind"`
	Name  string       `json:"name,omitempty"`
	Label string       `json:"label,omitempty"`
	Args  Args         `json:"args,omitempty"`
	When  string       `json:"when,omitempty"`
	Stack []TraceEntry `json:"stack,omitempty"`
}

// Tracer is implemented by builders that can describe their own entries.
type Tracer interface {
	Trace() []TraceEntry
}

// Trace describes the stack's entries in order, skipping hidden ones and
// descending into nested builders that implement Tracer.
func (s *Stack) Trace() []TraceEntry {
	entries := s.Entries()
	out := make([]TraceEntry, 0, len(entries))
	for _, e := range entries {
		if !e.trace {
			continue
		}
		te := TraceEntry{
			Kind: e.kind.String(),
			Name: e.name,
		}
		if e.matcher != nil {
			te.When = e.matcher.String()
		}

		switch e.kind {
		case KindUse:
			te.Label = e.factory.Kind
			te.Args = e.args.redact(e.factory.Redact)
		case KindRun:
			te.Label = e.Label()
		case KindMap:
			te.Label = e.label
			if t, ok := e.builder.(Tracer); ok {
				te.Stack = t.Trace()
			}
		}
		out = append(out, te)
	}
	return out
}

// String renders the stack's trace.
func (s *Stack) String() string {
	return FormatTrace(s.Trace())
}

// FormatTrace renders trace entries as an indented block:
//
//	stack {
//	  use :limiter ratelimit {max_tokens: 10}, when: {path =~ /^\/api/}
//	  map when: {path =~ /^\/foo/} {
//	    run respond
//	  }
//	}
func FormatTrace(entries []TraceEntry) string {
	var b strings.Builder
	b.WriteString("stack {\n")
	writeTrace(&b, entries, 1)
	b.WriteString("}\n")
	return b.String()
}

func writeTrace(b *strings.Builder, entries []TraceEntry, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, te := range entries {
		b.WriteString(indent)
		b.WriteString(te.Kind)

		var head []string
		if te.Name != "" {
			head = append(head, ":"+te.Name)
		}
		if te.Label != "" {
			head = append(head, te.Label)
		}
		if args := te.Args.String(); args != "" {
			head = append(head, args)
		}
		if len(head) > 0 {
			b.WriteString(" ")
			b.WriteString(strings.Join(head, " "))
		}

		if te.When != "" {
			if len(head) > 0 {
				b.WriteString(",")
			}
			b.WriteString(" when: ")
			b.WriteString(te.When)
		}

		if te.Kind == KindMap.String() {
			b.WriteString(" {\n")
			writeTrace(b, te.Stack, depth+1)
			b.WriteString(indent)
			b.WriteString("}")
		}
		b.WriteString("\n")
	}
}
