package stack

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Args are the construction arguments stored with a Use entry.
type Args map[string]any

// Decode copies the arguments into v, a pointer to a struct with yaml tags.
// Fields absent from the arguments keep their current values.
func (a Args) Decode(v any) error {
	if len(a) == 0 {
		return nil
	}
	data, err := yaml.Marshal(map[string]any(a))
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode args: %w", err)
	}
	return nil
}

// Redacted replaces the value of a masked argument in traces.
const Redacted = "***"

// redact returns a copy of a with the values of keys replaced by Redacted.
func (a Args) redact(keys []string) Args {
	if len(a) == 0 || len(keys) == 0 {
		return a
	}
	out := maps.Clone(a)
	for _, k := range keys {
		if _, ok := out[k]; ok {
			out[k] = Redacted
		}
	}
	return out
}

// String renders the arguments as {k: v, ...} with keys sorted.
func (a Args) String() string {
	if len(a) == 0 {
		return ""
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + formatValue(a[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = formatValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case []string:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = strconv.Quote(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		return Args(val).String()
	default:
		return fmt.Sprint(val)
	}
}
