package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType selects the payload shape of a TimelineEvent.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventSearchPass     EventType = "search_pass"
	EventCompaniesFound EventType = "companies_found"
	EventFacetFetched   EventType = "facet_fetched"
	EventEmailDrafted   EventType = "email_drafted"
	EventDegraded       EventType = "degraded"
	EventStageFailed    EventType = "stage_failed"

	// EventEnd terminates a timeline segment. Emitted exactly once per
	// stage invocation, always last.
	EventEnd EventType = "end"
)

// Agent is the source tag of a TimelineEvent.
type Agent string

const (
	AgentDiscovery Agent = "discovery"
	AgentResearch  Agent = "research"
	AgentWriter    Agent = "writer"
	AgentSystem    Agent = "system"
)

// AgentFor maps a stage to its event source tag.
func AgentFor(stage Stage) Agent {
	switch stage {
	case StageDiscovery:
		return AgentDiscovery
	case StageResearch:
		return AgentResearch
	case StageWriter:
		return AgentWriter
	default:
		return AgentSystem
	}
}

// EventLevel is the severity of a TimelineEvent.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// TimelineEvent is one entry in a run's append-only progress log.
// Seq is strictly increasing per run, assigned by the bus at publish
// time along with RunID and At.
type TimelineEvent struct {
	RunID   uuid.UUID       `json:"run_id"`
	Seq     int64           `json:"seq"`
	Agent   Agent           `json:"agent"`
	Type    EventType       `json:"type"`
	Message string          `json:"message"`
	Level   EventLevel      `json:"level"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent builds a TimelineEvent with a typed payload. RunID, Seq, and At
// are left zero; the bus assigns them at publish time. An unmarshalable
// payload is dropped rather than failing the emit path — payloads are
// progress metadata, not run state.
func NewEvent(agent Agent, typ EventType, level EventLevel, message string, payload any) TimelineEvent {
	ev := TimelineEvent{Agent: agent, Type: typ, Level: level, Message: message}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// DecodePayload unmarshals the event payload into target.
func (e TimelineEvent) DecodePayload(target any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, target)
}

// StageStartedPayload is the payload for stage_started events.
type StageStartedPayload struct {
	Stage Stage `json:"stage"`
}

// StageCompletedPayload is the payload for stage_completed events.
type StageCompletedPayload struct {
	Stage Stage `json:"stage"`
}

// SearchPassPayload is the payload for search_pass events.
type SearchPassPayload struct {
	Query string `json:"query"`
	Hits  int    `json:"hits"`
}

// CompaniesFoundPayload is the payload for companies_found events.
type CompaniesFoundPayload struct {
	Count   int      `json:"count"`
	Preview []string `json:"preview,omitempty"`
}

// FacetFetchedPayload is the payload for facet_fetched events.
type FacetFetchedPayload struct {
	Company string `json:"company"`
	Facet   string `json:"facet"`
	OK      bool   `json:"ok"`
}

// EmailDraftedPayload is the payload for email_drafted events.
type EmailDraftedPayload struct {
	Company string `json:"company"`
	Subject string `json:"subject"`
}

// DegradedPayload is the payload for degraded events: something was
// skipped or downgraded without failing the run.
type DegradedPayload struct {
	Subject string `json:"subject"` // the query, company, or facet affected
	Reason  string `json:"reason"`
}

// StageFailedPayload is the payload for stage_failed events.
type StageFailedPayload struct {
	Stage        Stage  `json:"stage"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}
