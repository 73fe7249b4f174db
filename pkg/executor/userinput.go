package executor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/bridge"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// MaxInputAttempts caps re-prompts before the node fails with
// ERR_INPUT_EXHAUSTED.
const MaxInputAttempts = 10

// UserInputExecutor pauses the instance on a bridge request and validates
// the delivered value. Invalid values re-prompt with the validation error
// attached; after MaxInputAttempts the node fails.
type UserInputExecutor struct {
	bridge *bridge.Bridge
	clock  Clock
	logger *slog.Logger
}

// NewUserInputExecutor creates a user-input executor.
func NewUserInputExecutor(b *bridge.Bridge, clock Clock, logger *slog.Logger) *UserInputExecutor {
	return &UserInputExecutor{bridge: b, clock: clock, logger: logger}
}

func (e *UserInputExecutor) Kind() string { return workflow.KindUserInput }

func (e *UserInputExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.UserInputConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if cfg.InputType == "" {
		cfg.InputType = workflow.InputTypeText
	}

	validationError := ""
	for attempt := 1; attempt <= MaxInputAttempts; attempt++ {
		req := &bridge.Request{
			InstanceID:      ec.InstanceID,
			RequestID:       uuid.NewString(),
			NodeID:          node.ID,
			Prompt:          cfg.Prompt,
			InputType:       cfg.InputType,
			Required:        cfg.Required,
			Validation:      cfg.Validation,
			Options:         cfg.Options,
			DefaultValue:    cfg.DefaultValue,
			ValidationError: validationError,
		}

		value, err := e.bridge.Publish(ctx, req)
		if err != nil {
			return workflow.NewFailure(node, e.clock.Now(), err)
		}

		if isEmptyInput(value) && cfg.DefaultValue != nil {
			value = cfg.DefaultValue
		}

		coerced, verr := validateInput(&cfg, value)
		if verr != "" {
			validationError = verr
			e.logger.Debug("user input rejected",
				"node_id", node.ID, "attempt", attempt, "reason", verr)
			continue
		}

		output := map[string]any{"value": coerced, "attempts": attempt}
		variables := map[string]any{"userInput": coerced}
		return workflow.NewSuccess(node, e.clock.Now(), output, variables)
	}

	return workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
		apperrors.CodeInputExhausted, "executor",
		"no valid input after %d attempts", MaxInputAttempts))
}

func isEmptyInput(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

// validateInput checks a delivered value against the node's constraints.
// It returns the coerced value (numbers parse from strings) and an empty
// string, or a human-readable validation message.
func validateInput(cfg *workflow.UserInputConfig, value any) (any, string) {
	if isEmptyInput(value) {
		if cfg.Required {
			return nil, "This field is required"
		}
		return "", ""
	}

	switch cfg.InputType {
	case workflow.InputTypeNumber:
		return validateNumber(cfg.Validation, value)
	case workflow.InputTypeSelect:
		return validateSelect(cfg.Options, value)
	default:
		return validateText(cfg.Validation, value)
	}
}

func validateNumber(v *workflow.InputValidation, value any) (any, string) {
	var n float64
	switch raw := value.(type) {
	case float64:
		n = raw
	case int:
		n = float64(raw)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, "Please enter a valid number"
		}
		n = parsed
	default:
		return nil, "Please enter a valid number"
	}

	if v != nil {
		if v.Min != nil && n < *v.Min {
			return nil, fmt.Sprintf("Value must be at least %v", *v.Min)
		}
		if v.Max != nil && n > *v.Max {
			return nil, fmt.Sprintf("Value must be at most %v", *v.Max)
		}
	}
	return n, ""
}

func validateSelect(options []workflow.SelectOption, value any) (any, string) {
	s, ok := value.(string)
	if !ok {
		return nil, "Please choose one of the listed options"
	}
	for _, opt := range options {
		if opt.Value == s {
			return s, ""
		}
	}
	return nil, "Please choose one of the listed options"
}

func validateText(v *workflow.InputValidation, value any) (any, string) {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}

	if v != nil {
		// Length limits count characters, not bytes.
		length := utf8.RuneCountInString(s)
		if v.MinLength != nil && length < *v.MinLength {
			return nil, fmt.Sprintf("Input must be at least %d characters", *v.MinLength)
		}
		if v.MaxLength != nil && length > *v.MaxLength {
			return nil, fmt.Sprintf("Input must be at most %d characters", *v.MaxLength)
		}
		if v.Pattern != "" {
			matched, err := regexp.MatchString(v.Pattern, s)
			if err != nil || !matched {
				return nil, "Input does not match the required format"
			}
		}
	}
	return s, ""
}
