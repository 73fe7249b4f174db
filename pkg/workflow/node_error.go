package workflow

import "fmt"

// NodeError wraps a node failure with identification and attempt information.
// The message carries the node name, kind and the underlying canonical code
// so user-visible failures are self-describing.
type NodeError struct {
	NodeID   string
	NodeName string
	Kind     string
	Attempt  int
	Err      error
}

func (e *NodeError) Error() string {
	if e.Attempt > 1 {
		return fmt.Sprintf("node '%s' (%s) failed on attempt %d: %v", e.NodeName, e.Kind, e.Attempt, e.Err)
	}
	return fmt.Sprintf("node '%s' (%s) failed: %v", e.NodeName, e.Kind, e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

func NewNodeError(node *Node, attempt int, err error) *NodeError {
	return &NodeError{
		NodeID:   node.ID,
		NodeName: node.DisplayName(),
		Kind:     node.Kind,
		Attempt:  attempt,
		Err:      err,
	}
}
