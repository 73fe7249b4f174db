package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/bridge"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

func inputNode(t *testing.T, cfg workflow.UserInputConfig) *workflow.Node {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &workflow.Node{ID: "input-node", Kind: workflow.KindUserInput, Config: raw}
}

// answer services bridge requests with the scripted values in order.
func answer(t *testing.T, br *bridge.Bridge, values ...any) {
	t.Helper()
	go func() {
		for _, v := range values {
			req, ok := <-br.Requests()
			if !ok {
				return
			}
			_ = br.Resolve(req.RequestID, v)
		}
	}()
}

func TestUserInputAcceptsValidValue(t *testing.T) {
	br := bridge.New(4)
	exec := NewUserInputExecutor(br, RealClock{}, testLogger())
	ec := state.New("wf", "", nil, time.Now())

	answer(t, br, "Ada")

	out := exec.Execute(context.Background(), inputNode(t, workflow.UserInputConfig{
		Prompt:    "Name?",
		InputType: workflow.InputTypeText,
		Required:  true,
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, "Ada", out.Variables["userInput"])
	assert.Equal(t, 1, out.Output["attempts"])
}

func TestUserInputRepromptsWithValidationError(t *testing.T) {
	br := bridge.New(4)
	exec := NewUserInputExecutor(br, RealClock{}, testLogger())
	ec := state.New("wf", "", nil, time.Now())

	seen := make(chan string, 2)
	go func() {
		for i := 0; i < 2; i++ {
			req := <-br.Requests()
			seen <- req.ValidationError
			if i == 0 {
				_ = br.Resolve(req.RequestID, "nope")
			} else {
				_ = br.Resolve(req.RequestID, "42")
			}
		}
	}()

	out := exec.Execute(context.Background(), inputNode(t, workflow.UserInputConfig{
		Prompt:    "Pick a number",
		InputType: workflow.InputTypeNumber,
		Required:  true,
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, float64(42), out.Variables["userInput"])
	assert.Equal(t, 2, out.Output["attempts"])

	assert.Empty(t, <-seen, "first prompt has no validation error")
	assert.Equal(t, "Please enter a valid number", <-seen)
}

func TestUserInputExhaustsAttempts(t *testing.T) {
	br := bridge.New(16)
	exec := NewUserInputExecutor(br, RealClock{}, testLogger())
	ec := state.New("wf", "", nil, time.Now())

	go func() {
		for req := range br.Requests() {
			_ = br.Resolve(req.RequestID, "not a number")
		}
	}()

	out := exec.Execute(context.Background(), inputNode(t, workflow.UserInputConfig{
		Prompt:    "Number?",
		InputType: workflow.InputTypeNumber,
		Required:  true,
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeInputExhausted, out.ErrorCode)
}

func TestUserInputDefaultValue(t *testing.T) {
	br := bridge.New(4)
	exec := NewUserInputExecutor(br, RealClock{}, testLogger())
	ec := state.New("wf", "", nil, time.Now())

	answer(t, br, "")

	out := exec.Execute(context.Background(), inputNode(t, workflow.UserInputConfig{
		Prompt:       "Region?",
		InputType:    workflow.InputTypeText,
		Required:     true,
		DefaultValue: "eu-west",
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, "eu-west", out.Variables["userInput"])
}

func TestUserInputCancelled(t *testing.T) {
	br := bridge.New(4)
	exec := NewUserInputExecutor(br, RealClock{}, testLogger())
	ec := state.New("wf", "", nil, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-br.Requests()
		cancel()
	}()

	out := exec.Execute(ctx, inputNode(t, workflow.UserInputConfig{
		Prompt: "Anything?",
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeCancelled, out.ErrorCode)
}

func TestValidateInput(t *testing.T) {
	minLen, maxLen := 2, 5
	minVal, maxVal := 1.0, 10.0

	tests := []struct {
		name    string
		cfg     workflow.UserInputConfig
		value   any
		want    any
		wantErr string
	}{
		{
			name:    "required empty",
			cfg:     workflow.UserInputConfig{InputType: workflow.InputTypeText, Required: true},
			value:   "  ",
			wantErr: "This field is required",
		},
		{
			name:  "optional empty",
			cfg:   workflow.UserInputConfig{InputType: workflow.InputTypeText},
			value: "",
			want:  "",
		},
		{
			name: "text too short",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeText,
				Validation: &workflow.InputValidation{MinLength: &minLen}},
			value:   "a",
			wantErr: "Input must be at least 2 characters",
		},
		{
			name: "text too long",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeText,
				Validation: &workflow.InputValidation{MaxLength: &maxLen}},
			value:   "abcdef",
			wantErr: "Input must be at most 5 characters",
		},
		{
			name: "multibyte text counts runes",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeText,
				Validation: &workflow.InputValidation{MaxLength: &maxLen}},
			value: "héllo",
			want:  "héllo",
		},
		{
			name: "pattern mismatch",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeText,
				Validation: &workflow.InputValidation{Pattern: `^[a-z]+$`}},
			value:   "ABC",
			wantErr: "Input does not match the required format",
		},
		{
			name:  "number from string",
			cfg:   workflow.UserInputConfig{InputType: workflow.InputTypeNumber},
			value: "3.5",
			want:  3.5,
		},
		{
			name: "number below min",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeNumber,
				Validation: &workflow.InputValidation{Min: &minVal}},
			value:   "0",
			wantErr: "Value must be at least 1",
		},
		{
			name: "number above max",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeNumber,
				Validation: &workflow.InputValidation{Max: &maxVal}},
			value:   "11",
			wantErr: "Value must be at most 10",
		},
		{
			name: "select valid option",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeSelect,
				Options: []workflow.SelectOption{{Label: "Dev", Value: "dev"}, {Label: "Prod", Value: "prod"}}},
			value: "prod",
			want:  "prod",
		},
		{
			name: "select unknown option",
			cfg: workflow.UserInputConfig{InputType: workflow.InputTypeSelect,
				Options: []workflow.SelectOption{{Label: "Dev", Value: "dev"}}},
			value:   "staging",
			wantErr: "Please choose one of the listed options",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, verr := validateInput(&tt.cfg, tt.value)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, verr)
				return
			}
			require.Empty(t, verr)
			assert.Equal(t, tt.want, got)
		})
	}
}
