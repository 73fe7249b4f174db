// Package workflow provides the domain types for workflow definitions and
// node execution results.
//
// A workflow is a directed graph of typed nodes connected by optionally
// labelled edges. The engine walks the graph one node at a time; each node
// kind has its own config payload decoded by the matching executor. Node
// results use a uniform NodeOutput contract: executors never return raw
// errors across the engine boundary, they return a failed NodeOutput with
// a canonical error code.
package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

// Node kinds
const (
	KindAgent       = "agent"
	KindUserInput   = "user-input"
	KindConditional = "conditional"
	KindLoop        = "loop"
	KindFile        = "file"
	KindHTTP        = "http"
	KindCode        = "code"
	KindSubWorkflow = "subworkflow"
)

// Kinds lists every node kind the engine understands.
var Kinds = []string{
	KindAgent, KindUserInput, KindConditional, KindLoop,
	KindFile, KindHTTP, KindCode, KindSubWorkflow,
}

// Node execution statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Definition is an immutable workflow definition: an ordered list of nodes
// and the edges connecting them.
type Definition struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Name    string `json:"name,omitempty"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// Node is a unit of computation with a declared kind and kind-specific config.
type Node struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Name     string          `json:"name"`
	Position *Position       `json:"position,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`

	TimeoutMs int            `json:"timeoutMs,omitempty"`
	Retry     *RetryConfig   `json:"retryConfig,omitempty"`
	Context   *ContextConfig `json:"contextConfig,omitempty"`
}

// DisplayName returns the node name, falling back to the id.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Timeout returns the per-attempt timeout, or zero when unset.
func (n *Node) Timeout() time.Duration {
	if n.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

// DecodeConfig unmarshals the kind-specific config payload into dst.
func (n *Node) DecodeConfig(dst any) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, dst); err != nil {
		return apperrors.New(apperrors.CodeDefinition, "workflow",
			fmt.Sprintf("node %s: invalid %s config", n.ID, n.Kind), err)
	}
	return nil
}

// Position is the node's placement on the authoring canvas. The engine
// ignores it; it round-trips for the UI.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between nodes. The label selects branches
// after a conditional ("true"/"false") or carries a custom branch tag.
type Edge struct {
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
	Label      string `json:"label,omitempty"`
}

// RetryConfig declares the node-level retry policy. Attempts are
// 1 + MaxRetries; the delay before attempt n (1-indexed, n >= 2) is
// RetryDelayMs * BackoffMultiplier^(n-2).
type RetryConfig struct {
	MaxRetries        int     `json:"maxRetries"`
	RetryDelayMs      int     `json:"retryDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// Delay returns the pre-attempt sleep for the given 1-indexed attempt.
func (r *RetryConfig) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := float64(r.RetryDelayMs)
	mult := r.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	for i := 0; i < attempt-2; i++ {
		delay *= mult
	}
	return time.Duration(delay) * time.Millisecond
}

// Context config modes
const (
	ContextModeSimple   = "simple"
	ContextModeAdvanced = "advanced"
)

// ContextConfig controls how node inputs are resolved and outputs extracted.
type ContextConfig struct {
	Mode    string    `json:"mode,omitempty"`
	Inputs  []Mapping `json:"inputs,omitempty"`
	Outputs []Mapping `json:"outputs,omitempty"`
}

// EffectiveMode returns the configured mode, defaulting to simple.
func (c *ContextConfig) EffectiveMode() string {
	if c == nil || c.Mode == "" {
		return ContextModeSimple
	}
	return c.Mode
}

// Mapping binds a source expression ({{var}}, $.path, or a literal) to a
// target variable, optionally through a transform expression.
type Mapping struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Transform string `json:"transform,omitempty"`
}

// NodeOutput is the uniform result contract for every executor.
type NodeOutput struct {
	NodeID    string    `json:"nodeId"`
	NodeName  string    `json:"nodeName"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`

	Output    map[string]any `json:"output,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`

	Error      string         `json:"error,omitempty"`
	ErrorCode  apperrors.Code `json:"errorCode,omitempty"`
	ErrorStack string         `json:"errorStack,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// NonRetryable marks a failure that must not re-run even when its code
	// is normally retryable, e.g. a completed 4xx response on an http node.
	NonRetryable bool `json:"nonRetryable,omitempty"`
}

// Success reports whether the node completed successfully.
func (o *NodeOutput) Success() bool {
	return o.Status == StatusSuccess
}

// NewSuccess builds a successful NodeOutput for the node.
func NewSuccess(node *Node, now time.Time, output, variables map[string]any) *NodeOutput {
	return &NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.DisplayName(),
		Timestamp: now,
		Status:    StatusSuccess,
		Output:    output,
		Variables: variables,
	}
}

// NewFailure builds a failed NodeOutput carrying the error's canonical code.
func NewFailure(node *Node, now time.Time, err error) *NodeOutput {
	return &NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.DisplayName(),
		Timestamp: now,
		Status:    StatusFailed,
		Error:     err.Error(),
		ErrorCode: apperrors.CodeOf(err),
	}
}

// NewSkipped builds a skipped NodeOutput.
func NewSkipped(node *Node, now time.Time, reason string) *NodeOutput {
	return &NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.DisplayName(),
		Timestamp: now,
		Status:    StatusSkipped,
		Metadata:  map[string]any{"reason": reason},
	}
}
