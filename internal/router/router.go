// Package router implements the Message Router: a single inbound dispatcher
// per connection that routes worker frames by kind to the Job Coordinator
// or broadcasts them to observers.
package router

import (
	"encoding/json"
	"log/slog"

	"github.com/paulpriyanshu/elytra/internal/registry"
	"github.com/paulpriyanshu/elytra/internal/wire"
)

// Coordinator is the subset of the Job Coordinator the router dispatches
// worker results into. Defined here to avoid an import cycle between
// router and coordinator.
type Coordinator interface {
	IngestResult(jobID int64, chunkID int, result json.RawMessage)
	IngestError(jobID int64, chunkID int, errMsg string)
}

// Router dispatches inbound frames from worker connections.
type Router struct {
	coordinator Coordinator
	registry    *registry.Registry
	log         *slog.Logger
}

// New creates a Router wired to the given coordinator and registry.
func New(coordinator Coordinator, reg *registry.Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{coordinator: coordinator, registry: reg, log: log}
}

// Pump runs the inbound read loop for one connection until it errors or
// closes. Unknown kinds and malformed messages are dropped with a log
// entry; they never terminate the connection, except by the ultimate
// read error that ends the loop.
func (rt *Router) Pump(conn *registry.Connection) {
	for {
		var raw json.RawMessage

		err := conn.ReadJSON(&raw)
		if err != nil {
			return
		}

		rt.dispatch(raw)
	}
}

func (rt *Router) dispatch(raw json.RawMessage) {
	var envelope wire.Envelope

	err := json.Unmarshal(raw, &envelope)
	if err != nil {
		rt.log.Warn("router: dropping malformed frame", "error", err)

		return
	}

	switch envelope.Type {
	case wire.KindChunkResult:
		rt.handleChunkResult(raw)
	case wire.KindChunkError:
		rt.handleChunkError(raw)
	case wire.KindWorkerProgress:
		rt.handleWorkerProgress(raw)
	default:
		rt.log.Warn("router: dropping unknown message kind", "type", envelope.Type)
	}
}

func (rt *Router) handleChunkResult(raw json.RawMessage) {
	var msg wire.ChunkResult

	err := json.Unmarshal(raw, &msg)
	if err != nil {
		rt.log.Warn("router: dropping malformed chunk_result", "error", err)

		return
	}

	rt.coordinator.IngestResult(msg.JobID, msg.ChunkID, msg.Result)
}

func (rt *Router) handleChunkError(raw json.RawMessage) {
	var msg wire.ChunkError

	err := json.Unmarshal(raw, &msg)
	if err != nil {
		rt.log.Warn("router: dropping malformed chunk_error", "error", err)

		return
	}

	rt.coordinator.IngestError(msg.JobID, msg.ChunkID, msg.Error)
}

// handleWorkerProgress rebroadcasts the frame verbatim to every observer.
// It is never inspected by the scheduler.
func (rt *Router) handleWorkerProgress(raw json.RawMessage) {
	rt.registry.Broadcast(raw)
}
