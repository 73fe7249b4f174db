package apperrors

// Code represents a canonical error code
type Code string

// Error codes surfaced in node outputs and instance results
const (
	CodeUnknown        Code = "ERR_UNKNOWN"          // Unclassified error
	CodeDefinition     Code = "ERR_DEFINITION"       // Malformed workflow, unknown node kind, missing required field
	CodeValidation     Code = "ERR_VALIDATION"       // Bad user input to a user-input node
	CodeTimeout        Code = "ERR_TIMEOUT"          // Per-attempt or per-instance timeout
	CodeCancelled      Code = "ERR_CANCELLED"        // Instance was cancelled
	CodeUnsafeCode     Code = "ERR_UNSAFE_CODE"      // Sandbox rejected the payload
	CodeEval           Code = "ERR_EVAL"             // Expression runtime error
	CodeIO             Code = "ERR_IO"               // File system failure
	CodeHTTP           Code = "ERR_HTTP"             // Network or status failure
	CodeProvider       Code = "ERR_PROVIDER"         // Prompt-provider failure
	CodeGate           Code = "ERR_GATE"             // Gate condition not met
	CodeInputExhausted Code = "ERR_INPUT_EXHAUSTED"  // Too many consecutive validation failures
	CodeNotFound       Code = "ERR_NOT_FOUND"        // Missing referenced workflow or file
	CodeAccessDenied   Code = "ERR_ACCESS_DENIED"    // Path escapes the project folder or OS denied access
	CodeMissingPrompt  Code = "ERR_MISSING_PROMPT"   // Agent node declared without a prompt
	CodeInternal       Code = "ERR_INTERNAL"         // Internal engine error
)

// Retryable reports whether a failure with the given code may be retried
// when the node declares a retry policy. Definition, security, gate and
// cancellation failures never retry.
func Retryable(code Code) bool {
	switch code {
	case CodeTimeout, CodeIO, CodeHTTP, CodeProvider:
		return true
	default:
		return false
	}
}
