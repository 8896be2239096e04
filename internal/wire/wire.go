// Package wire defines the JSON frames exchanged over the bidirectional
// message channel between the control plane and connected workers/observers.
package wire

import (
	"encoding/json"

	"github.com/paulpriyanshu/elytra/internal/ops"
)

// Message kinds of the channel frames (spec.md §4.3 and §6). The two execute
// kinds are sent to workers; the other three are recognized by the router.
const (
	KindExecuteChunk        = "execute_chunk"
	KindExecuteParquetChunk = "execute_parquet_chunk"
	KindChunkResult         = "chunk_result"
	KindChunkError          = "chunk_error"
	KindWorkerProgress      = "worker_progress"
)

// Envelope is the minimal shape every inbound frame is first decoded into,
// so the router can dispatch on Type before committing to a concrete
// payload shape.
type Envelope struct {
	Type string `json:"type"`
}

// Task is the server-to-worker task assignment frame. It exists only as an
// outbound message; the control plane keeps no record of it once sent.
type Task struct {
	Type       string       `json:"type"`
	JobID      int64        `json:"jobId"`
	ChunkID    int          `json:"chunkId"`
	RowGroupID int          `json:"rowGroupId"`
	PublicURL  string       `json:"publicUrl"`
	Ops        ops.Pipeline `json:"ops"`
}

// NewTask builds a task assignment frame using the default execute_chunk
// message type.
func NewTask(jobID int64, chunkID, rowGroupID int, publicURL string, pipeline ops.Pipeline) Task {
	return Task{
		Type:       KindExecuteChunk,
		JobID:      jobID,
		ChunkID:    chunkID,
		RowGroupID: rowGroupID,
		PublicURL:  publicURL,
		Ops:        pipeline,
	}
}

// ChunkResult is the worker-to-server frame delivering a partial result.
type ChunkResult struct {
	Type    string          `json:"type"`
	JobID   int64           `json:"jobId"`
	ChunkID int             `json:"chunkId"`
	Result  json.RawMessage `json:"result"`
}

// ChunkError is the worker-to-server frame reporting a per-task failure.
type ChunkError struct {
	Type    string `json:"type"`
	JobID   int64  `json:"jobId"`
	ChunkID int    `json:"chunkId"`
	Error   string `json:"error"`
}

// WorkerProgress is free-form telemetry rebroadcast verbatim to observers.
type WorkerProgress struct {
	Type     string          `json:"type"`
	JobID    int64           `json:"jobId"`
	ChunkID  int             `json:"chunkId"`
	ThreadID int             `json:"threadId,omitempty"`
	Status   string          `json:"status"`
	Detail   json.RawMessage `json:"detail,omitempty"`
}
