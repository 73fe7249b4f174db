package workflow

// Kind-specific node config payloads. Each executor decodes the payload it
// owns via Node.DecodeConfig; unknown fields are ignored so definitions can
// carry authoring metadata.

// AgentConfig configures an agent node. Prompt is mandatory: the engine
// fails a prompt-less agent node rather than substituting a hidden prompt.
type AgentConfig struct {
	Agent         string `json:"agent"`
	Prompt        string `json:"prompt"`
	SystemPrompt  string `json:"systemPrompt,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Gate          bool   `json:"gate,omitempty"`
	GateCondition string `json:"gateCondition,omitempty"`
}

// User input types
const (
	InputTypeText     = "text"
	InputTypeTextarea = "textarea"
	InputTypeNumber   = "number"
	InputTypeSelect   = "select"
)

// UserInputConfig configures a user-input node.
type UserInputConfig struct {
	Prompt       string           `json:"prompt"`
	InputType    string           `json:"inputType"`
	Required     bool             `json:"required"`
	Validation   *InputValidation `json:"validation,omitempty"`
	Options      []SelectOption   `json:"options,omitempty"`
	DefaultValue any              `json:"defaultValue,omitempty"`
}

// InputValidation constrains an accepted user-input value.
type InputValidation struct {
	Pattern   string   `json:"pattern,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

// SelectOption is one choice of a select-typed user input.
type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Condition types
const (
	ConditionTypeJSONPath   = "jsonpath"
	ConditionTypeJavaScript = "javascript"
)

// ConditionalConfig configures a conditional node. Outgoing edges labelled
// "true"/"false" carry control after evaluation.
type ConditionalConfig struct {
	Condition     string `json:"condition"`
	ConditionType string `json:"conditionType"`
}

// Loop types
const (
	LoopTypeForEach = "forEach"
	LoopTypeWhile   = "while"
	LoopTypeCount   = "count"
)

// LoopConfig configures a loop node. LoopNodes enumerates the body subgraph.
type LoopConfig struct {
	LoopType         string   `json:"loopType"`
	IteratorVariable string   `json:"iteratorVariable"`
	IndexVariable    string   `json:"indexVariable,omitempty"`
	Collection       string   `json:"collection,omitempty"`
	WhileCondition   string   `json:"whileCondition,omitempty"`
	Count            int      `json:"count,omitempty"`
	MaxIterations    int      `json:"maxIterations,omitempty"`
	LoopNodes        []string `json:"loopNodes,omitempty"`
}

// File operations
const (
	FileOpRead   = "read"
	FileOpWrite  = "write"
	FileOpCopy   = "copy"
	FileOpMove   = "move"
	FileOpDelete = "delete"
	FileOpExists = "exists"
	FileOpList   = "list"
)

// FileConfig configures a file node. Paths and content are templated.
type FileConfig struct {
	Operation            string `json:"operation"`
	SourcePath           string `json:"sourcePath,omitempty"`
	TargetPath           string `json:"targetPath,omitempty"`
	Content              string `json:"content,omitempty"`
	Encoding             string `json:"encoding,omitempty"`
	Overwrite            bool   `json:"overwrite,omitempty"`
	RequireProjectFolder bool   `json:"requireProjectFolder,omitempty"`

	// list operation only
	MaxDepth       int      `json:"maxDepth,omitempty"`
	IgnorePatterns []string `json:"ignorePatterns,omitempty"`
	UseGitIgnore   bool     `json:"useGitIgnore,omitempty"`
}

// HTTP auth types
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthAPIKey = "api-key"
)

// HTTPConfig configures an http node.
type HTTPConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Auth    *HTTPAuth         `json:"auth,omitempty"`
	Retry   *RetryConfig      `json:"retry,omitempty"`
}

// HTTPAuth declares request authentication.
type HTTPAuth struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	Header   string `json:"header,omitempty"`
	Key      string `json:"key,omitempty"`
}

// Code languages
const (
	LanguageJavaScript = "javascript"
	LanguagePython     = "python"
)

// CodeConfig configures a code node.
type CodeConfig struct {
	Language string         `json:"language"`
	Code     string         `json:"code"`
	Sandbox  *SandboxConfig `json:"sandbox,omitempty"`
}

// SandboxConfig bounds code-node execution. Enabled defaults to true; a
// definition that disables it runs unguarded and the engine logs a warning.
type SandboxConfig struct {
	Enabled        *bool    `json:"enabled,omitempty"`
	AllowedModules []string `json:"allowedModules,omitempty"`
	CPUTimeoutMs   int      `json:"cpuTimeoutMs,omitempty"`
	MemoryLimitMb  int      `json:"memoryLimitMb,omitempty"`
}

// IsEnabled reports whether sandboxing applies (default true).
func (s *SandboxConfig) IsEnabled() bool {
	if s == nil || s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// SubWorkflowConfig configures a subworkflow node.
type SubWorkflowConfig struct {
	SubWorkflowID      string         `json:"subWorkflowId"`
	SubWorkflowVersion string         `json:"subWorkflowVersion,omitempty"`
	Context            *ContextConfig `json:"contextConfig,omitempty"`
}
