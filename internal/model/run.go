// Package model defines the core domain types for Tegami.
//
// Types are shared by the engine, the HTTP surface, and the MCP surface.
// Strong typing (UUIDs, time.Time, enums) over interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Stage names the pipeline stages. The closed set doubles as the
// tag space for stage outputs and timeline event sources.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageResearch  Stage = "research"
	StageWriter    Stage = "writer"
)

// Phase is the controller-visible position of a run in its state machine.
// Status answers "is it alive"; Phase answers "where is it".
type Phase string

const (
	PhaseCreated          Phase = "created"
	PhaseDiscoveryRunning Phase = "discovery_running"
	PhaseDiscoveryDone    Phase = "discovery_done"
	PhaseResearchRunning  Phase = "research_running"
	PhaseResearchDone     Phase = "research_done"
	PhaseWriterRunning    Phase = "writer_running"
	PhaseWriterDone       Phase = "writer_done"
	PhaseFailed           Phase = "failed"
)

// RunError is a run's terminal failure descriptor.
type RunError struct {
	Stage   Stage  `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is the unit of pipeline execution. Mutated only through the run
// store on behalf of the stage executor; snapshots handed to callers are
// deep copies.
type Run struct {
	ID      uuid.UUID             `json:"id"`
	Status  RunStatus             `json:"status"`
	Phase   Phase                 `json:"phase"`
	Stages  []Stage               `json:"stages"` // completed stages, in completion order
	Outputs map[Stage]StageResult `json:"outputs"`
	Error   *RunError             `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LastAccess drives TTL eviction. Touched on every read or write of
	// the run. Not part of the wire representation.
	LastAccess time.Time `json:"-"`
}

// Clone returns a deep copy of the run so callers can't reach back into
// store-owned state.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Stages = append([]Stage(nil), r.Stages...)
	if r.Outputs != nil {
		cp.Outputs = make(map[Stage]StageResult, len(r.Outputs))
		for k, v := range r.Outputs {
			cp.Outputs[k] = v.clone()
		}
	}
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	return &cp
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// StageResult is the output contract between stages. Exactly one of the
// variant fields is set, selected by Stage.
type StageResult struct {
	Stage     Stage            `json:"stage"`
	Discovery *DiscoveryOutput `json:"discovery,omitempty"`
	Research  *ResearchOutput  `json:"research,omitempty"`
	Writer    *WriterOutput    `json:"writer,omitempty"`
}

func (s StageResult) clone() StageResult {
	cp := s
	if s.Discovery != nil {
		d := s.Discovery.clone()
		cp.Discovery = &d
	}
	if s.Research != nil {
		r := s.Research.clone()
		cp.Research = &r
	}
	if s.Writer != nil {
		w := s.Writer.clone()
		cp.Writer = &w
	}
	return cp
}
