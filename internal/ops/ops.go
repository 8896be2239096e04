// Package ops defines the pipeline operation descriptors the job coordinator
// dispatches to workers. The coordinator treats every operation as opaque
// except for the terminal operation, whose tag selects the merge strategy
// (see merge.go in package coordinator).
package ops

import "encoding/json"

// Kind tags a pipeline operation. The core inspects Kind only for the last
// operation in a pipeline; the only payload it interprets is that of a
// terminal reduce.
type Kind string

// Recognized operation kinds.
const (
	KindMap    Kind = "map"
	KindFilter Kind = "filter"
	KindCount  Kind = "count"
	KindReduce Kind = "reduce"
)

// Descriptor is a tagged, opaque pipeline step. Map and Filter carry a
// serialized function body; Reduce carries a function body plus an initial
// value; Count carries no payload. Fn and Initial are forwarded to workers
// verbatim; the control plane parses them only for a terminal reduce, to
// fold the partial results.
type Descriptor struct {
	Kind    Kind            `json:"kind"`
	Fn      string          `json:"fn,omitempty"`
	Initial json.RawMessage `json:"initialValue,omitempty"`
}

// Pipeline is an ordered sequence of operations.
type Pipeline []Descriptor

// Terminal returns the kind of the last operation in the pipeline, or the
// zero Kind if the pipeline is empty.
func (p Pipeline) Terminal() Kind {
	if len(p) == 0 {
		return ""
	}

	return p[len(p)-1].Kind
}
