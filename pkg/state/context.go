// Package state holds the mutable execution context for one running
// workflow instance, plus the resolver that turns templated strings,
// JSONPath expressions and condition strings into values.
//
// A Context is exclusively owned by the engine goroutine driving the
// instance; it is never shared across instances and needs no locking.
package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// LoopFrame is the per-iteration bookkeeping of one active loop.
type LoopFrame struct {
	LoopNodeID       string `json:"loopNodeId"`
	IteratorVariable string `json:"iteratorVariable"`
	IndexVariable    string `json:"indexVariable,omitempty"`
	CurrentIndex     int    `json:"currentIndex"`
	TotalItems       int    `json:"totalItems"` // -1 for while loops
	CollectionData   []any  `json:"collectionData,omitempty"`
}

// Context is the mutable state of one workflow instance.
type Context struct {
	InstanceID    string
	WorkflowID    string
	ProjectFolder string
	UserID        string
	SeriesID      string
	StartedAt     time.Time
	Deadline      *time.Time

	Variables       map[string]any
	PreviousOutputs map[string]*workflow.NodeOutput
	CurrentNodeID   string
	CompletedNodes  []string
	LoopStack       []LoopFrame

	// Definition is the workflow currently driving this instance. Loop
	// bodies are traversed against it. Not part of the snapshot; the
	// engine rebinds it on resume.
	Definition *workflow.Definition
}

// New creates a context for a fresh instance with a generated instance id.
func New(workflowID, projectFolder string, initial map[string]any, now time.Time) *Context {
	vars := make(map[string]any, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	return &Context{
		InstanceID:      uuid.NewString(),
		WorkflowID:      workflowID,
		ProjectFolder:   projectFolder,
		StartedAt:       now,
		Variables:       vars,
		PreviousOutputs: make(map[string]*workflow.NodeOutput),
	}
}

// RecordOutput stores a node output and merges its variables. Every
// completed node appears exactly once in PreviousOutputs; recording the
// same node twice for one instance is an engine bug surfaced as an error.
func (c *Context) RecordOutput(out *workflow.NodeOutput) error {
	if _, dup := c.PreviousOutputs[out.NodeID]; dup {
		return apperrors.Newf(apperrors.CodeInternal, "state",
			"node %s already recorded for instance %s", out.NodeID, c.InstanceID)
	}
	c.PreviousOutputs[out.NodeID] = out
	c.CompletedNodes = append(c.CompletedNodes, out.NodeID)
	for k, v := range out.Variables {
		c.Variables[k] = v
	}
	return nil
}

// RecordLoopOutput stores a node output from inside a loop body. Body
// nodes run once per iteration, so the previous iteration's output is
// overwritten and the node is not re-appended to CompletedNodes.
func (c *Context) RecordLoopOutput(out *workflow.NodeOutput) {
	if _, seen := c.PreviousOutputs[out.NodeID]; !seen {
		c.CompletedNodes = append(c.CompletedNodes, out.NodeID)
	}
	c.PreviousOutputs[out.NodeID] = out
	for k, v := range out.Variables {
		c.Variables[k] = v
	}
}

// SetVariable writes a variable visible to all successor nodes.
func (c *Context) SetVariable(name string, value any) {
	c.Variables[name] = value
}

// Lookup resolves a name against the variable bag, falling back to the
// context's own top-level fields.
func (c *Context) Lookup(name string) (any, bool) {
	if v, ok := c.Variables[name]; ok {
		return v, true
	}
	switch name {
	case "instanceId":
		return c.InstanceID, true
	case "workflowId":
		return c.WorkflowID, true
	case "projectFolder":
		return c.ProjectFolder, true
	case "currentNodeId":
		return c.CurrentNodeID, true
	case "userId":
		return c.UserID, true
	case "seriesId":
		return c.SeriesID, true
	}
	return nil, false
}

// PushLoop pushes a loop frame, enforcing the nesting cap.
func (c *Context) PushLoop(frame LoopFrame, maxNesting int) error {
	if len(c.LoopStack) >= maxNesting {
		return apperrors.Newf(apperrors.CodeDefinition, "state",
			"loop nesting exceeds maximum of %d", maxNesting)
	}
	c.LoopStack = append(c.LoopStack, frame)
	return nil
}

// PopLoop removes the innermost loop frame.
func (c *Context) PopLoop() {
	if len(c.LoopStack) > 0 {
		c.LoopStack = c.LoopStack[:len(c.LoopStack)-1]
	}
}

// CurrentLoop returns the innermost active loop frame.
func (c *Context) CurrentLoop() (*LoopFrame, bool) {
	if len(c.LoopStack) == 0 {
		return nil, false
	}
	return &c.LoopStack[len(c.LoopStack)-1], true
}

// ChildForSubWorkflow derives an isolated child context for a subworkflow
// node. The child inherits the project folder and user identifiers; its
// instance id is derived from the parent's so traces correlate.
func (c *Context) ChildForSubWorkflow(nodeID, childWorkflowID string, now time.Time) *Context {
	return &Context{
		InstanceID:      fmt.Sprintf("%s-sub-%s", c.InstanceID, nodeID),
		WorkflowID:      childWorkflowID,
		ProjectFolder:   c.ProjectFolder,
		UserID:          c.UserID,
		SeriesID:        c.SeriesID,
		StartedAt:       now,
		Deadline:        c.Deadline,
		Variables:       make(map[string]any),
		PreviousOutputs: make(map[string]*workflow.NodeOutput),
	}
}

// Snapshot is the persistable view of an instance (schema version 1).
type Snapshot struct {
	SchemaVersion  int            `json:"schemaVersion"`
	InstanceID     string         `json:"instanceId"`
	WorkflowID     string         `json:"workflowId"`
	CompletedNodes []string       `json:"completedNodes"`
	Variables      map[string]any `json:"variables"`
	LoopStack      []LoopFrame    `json:"loopStack"`
	CurrentNodeID  string         `json:"currentNodeId"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Snapshot captures the resumable state of the instance.
func (c *Context) Snapshot() *Snapshot {
	return &Snapshot{
		SchemaVersion:  1,
		InstanceID:     c.InstanceID,
		WorkflowID:     c.WorkflowID,
		CompletedNodes: append([]string(nil), c.CompletedNodes...),
		Variables:      c.Variables,
		LoopStack:      append([]LoopFrame(nil), c.LoopStack...),
		CurrentNodeID:  c.CurrentNodeID,
		CreatedAt:      c.StartedAt,
	}
}
