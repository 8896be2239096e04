package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulpriyanshu/elytra/internal/ops"
)

// ErrInvalidReducer is returned when a reduce operation's fn string cannot
// be compiled into a fold function.
var ErrInvalidReducer = errors.New("invalid reducer expression")

// merge combines a job's partials into the final result, dispatched on the
// tag of the pipeline's terminal operation. It is a pure function: it must
// not block on I/O.
func merge(pipeline ops.Pipeline, partials []json.RawMessage) (any, error) {
	switch pipeline.Terminal() {
	case ops.KindCount:
		return mergeCount(partials)
	case ops.KindReduce:
		return mergeReduce(pipeline[len(pipeline)-1], partials)
	default:
		return mergeConcat(partials)
	}
}

// mergeCount sums all partials as numbers, regardless of arrival order.
func mergeCount(partials []json.RawMessage) (float64, error) {
	var total float64

	for i, raw := range partials {
		var n float64

		err := json.Unmarshal(raw, &n)
		if err != nil {
			return 0, fmt.Errorf("merge count: partial %d: %w", i, err)
		}

		total += n
	}

	return total, nil
}

// mergeReduce folds partials with the supplied reducer, starting from the
// supplied initial value, in chunkId ascending order — i.e. slice order,
// since partials is indexed by chunkId.
func mergeReduce(terminal ops.Descriptor, partials []json.RawMessage) (float64, error) {
	fold, err := parseReducer(terminal.Fn)
	if err != nil {
		return 0, fmt.Errorf("merge reduce: %w", err)
	}

	var acc float64

	err = json.Unmarshal(terminal.Initial, &acc)
	if err != nil {
		return 0, fmt.Errorf("merge reduce: initial value: %w", err)
	}

	for i, raw := range partials {
		var v float64

		err := json.Unmarshal(raw, &v)
		if err != nil {
			return 0, fmt.Errorf("merge reduce: partial %d: %w", i, err)
		}

		acc = fold(acc, v)
	}

	return acc, nil
}

// mergeConcat concatenates partials in chunkId order into one flat
// sequence. Each partial may itself be a JSON array (flattened one level)
// or a scalar (appended as-is).
func mergeConcat(partials []json.RawMessage) ([]json.RawMessage, error) {
	var flat []json.RawMessage

	for _, raw := range partials {
		var elems []json.RawMessage

		err := json.Unmarshal(raw, &elems)
		if err != nil {
			// Not a JSON array: treat the whole partial as one element.
			flat = append(flat, raw)

			continue
		}

		flat = append(flat, elems...)
	}

	return flat, nil
}
