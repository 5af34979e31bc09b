package devtools

import "regexp"

// ExecutionContext is an addressable evaluation scope inside the target.
// Locator is the origin or name the target reported for it; it is only a
// hint used for priority selection, never dereferenced.
type ExecutionContext struct {
	ID      int64
	Locator string
}

// SortContexts orders a context snapshot for query fan-out: contexts whose
// locator matches primary first, then secondary matches, then the rest in
// discovery order. Either pattern may be nil. The input slice is not
// modified.
func SortContexts(contexts []ExecutionContext, primary, secondary *regexp.Regexp) []ExecutionContext {
	out := make([]ExecutionContext, 0, len(contexts))
	var second, rest []ExecutionContext
	for _, ec := range contexts {
		switch {
		case primary != nil && primary.MatchString(ec.Locator):
			out = append(out, ec)
		case secondary != nil && secondary.MatchString(ec.Locator):
			second = append(second, ec)
		default:
			rest = append(rest, ec)
		}
	}
	out = append(out, second...)
	out = append(out, rest...)
	return out
}
