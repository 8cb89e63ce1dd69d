// Package envelope defines the message-bus wire schema shared by every
// component that publishes or consumes a workflow message, per spec §6.
package envelope

import "encoding/json"

// OnWorkflowComplete names the exchange/key a finished workflow should
// publish its final message to.
type OnWorkflowComplete struct {
	Exchange string `json:"exchange"`
	Key      string `json:"key"`
}

// DynamicStep is one entry of a dynamically composed workflow (spec §4.3
// "dynamic workflow" and §12's start_workflows supplement).
type DynamicStep struct {
	Type     string         `json:"type"` // "workflow" | "workflow_step"
	Workflow string         `json:"workflow,omitempty"`
	StepName string         `json:"step_name,omitempty"`
	Header   map[string]any `json:"header,omitempty"`
}

// WorkflowRef is the {workflow_name, step_name?, retry_time?} triple
// carried on msg.workflow when start_workflow dispatches.
type WorkflowRef struct {
	WorkflowName string `json:"workflow_name"`
	StepName     string `json:"step_name,omitempty"`
	RetryTime    int    `json:"retry_time,omitempty"`
}

// Header carries every routing/identity field a handler may read or write.
type Header struct {
	JobID             string              `json:"jobid,omitempty"`
	StepID            string              `json:"stepid,omitempty"`
	ProcessID         string              `json:"process_id,omitempty"`
	Catalogue         string              `json:"catalogue,omitempty"`
	Collection        string              `json:"collection,omitempty"`
	Attribute         string              `json:"attribute,omitempty"`
	Application       string              `json:"application,omitempty"`
	Entity            string              `json:"entity,omitempty"`
	Source            string              `json:"source,omitempty"`
	Destination       string              `json:"destination,omitempty"`
	EntityID          string              `json:"entity_id,omitempty"`
	User              string              `json:"user,omitempty"`
	Workflow          []DynamicStep       `json:"workflow,omitempty"`
	OnWorkflowComplete *OnWorkflowComplete `json:"on_workflow_complete,omitempty"`
	ResultKey         string              `json:"result_key,omitempty"`
	Extra             map[string]any      `json:"extra,omitempty"`
}

// Summary carries per-message outcome data: warnings/errors accumulated by
// the worker that handled a step, and log-severity counts rolled up into
// the owning job.
type Summary struct {
	Warnings  []string       `json:"warnings,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	LogCounts map[string]int `json:"log_counts,omitempty"`
}

// HasNoErrors is the default edge condition (spec §4.3): true iff no
// errors were recorded.
func (s *Summary) HasNoErrors() bool {
	return s == nil || len(s.Errors) == 0
}

// Envelope is the full message-bus payload, spec §6.
type Envelope struct {
	Header   Header          `json:"header"`
	Contents json.RawMessage `json:"contents,omitempty"`
	Summary  *Summary        `json:"summary,omitempty"`
	Workflow *WorkflowRef    `json:"workflow,omitempty"`

	// Status and InfoMsg carry the worker's own progress report (spec §6,
	// "on_workflow_progress"): one of STARTED, OK, FAIL, SCHEDULED,
	// REJECTED, END, plus an optional human-readable detail used verbatim
	// for FAIL logging. Neither is derived from Summary.
	Status  string `json:"status,omitempty"`
	InfoMsg string `json:"info_msg,omitempty"`
}

func New() *Envelope {
	return &Envelope{Header: Header{}, Summary: &Summary{}}
}

// ContentsRef is the offline/side-file contents protocol from spec §4.6
// step 1 and §12: a large payload may be replaced on the bus by a file
// reference, loaded transparently by the consumer before handler dispatch.
type ContentsRef struct {
	ContentsRef string `json:"contents_ref"`
}
