package ai

import "context"

// Static is a PromptProvider that returns a fixed response. It backs
// offline runs and demos where no model endpoint is configured.
type Static struct {
	Output string
}

// NewStatic creates a static provider with the given fixed output.
func NewStatic(output string) *Static {
	if output == "" {
		output = "static provider: no model configured"
	}
	return &Static{Output: output}
}

// ExecutePrompt returns the fixed output regardless of the prompt.
func (s *Static) ExecutePrompt(ctx context.Context, prompt, systemPrompt string) (*Result, error) {
	return &Result{
		Success: true,
		Output:  s.Output,
		Usage:   &Usage{},
	}, nil
}
