package state

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

// Resolver turns every dynamic string the engine encounters into a value:
// {{name}} substitution, $.path JSONPath lookups, condition strings and
// mapping sources. It is a small hand-written parser, not a general
// evaluator: only literals, JSONPath-resolved values, comparisons and
// boolean operators are recognized.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver. The logger receives warnings for
// unresolvable placeholders.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Substitute replaces every {{name}} occurrence with the string form of the
// variable (fall back: top-level context field). Structured values render
// as indented JSON. Missing variables leave the literal placeholder in
// place and emit a warning.
func (r *Resolver) Substitute(template string, ec *Context) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := ec.Lookup(name)
		if !ok {
			r.logger.Warn("unresolved template variable", "name", name, "instance_id", ec.InstanceID)
			return match
		}
		return Stringify(value)
	})
}

// Stringify renders a variable value for template substitution. Strings
// pass through; structured values serialize as indented JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		// JSON numbers decode as float64; keep integral values clean.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// EvaluateJSONPath resolves a $.a.b[0].c expression against the context's
// variables. Missing paths return nil; lookups never fail.
func (r *Resolver) EvaluateJSONPath(expr string, ec *Context) any {
	return JSONPathLookup(expr, ec.Variables)
}

// JSONPathLookup resolves a $.-rooted path against an arbitrary document.
// Supported syntax: dot access ($.a.b), numeric index ($.items[0]) and
// quoted key access ($.data["key"] / $.data['key']).
func JSONPathLookup(expr string, doc any) any {
	path := strings.TrimSpace(expr)
	if path == "$" {
		return doc
	}
	if !strings.HasPrefix(path, "$.") && !strings.HasPrefix(path, "$[") {
		return nil
	}

	segments, ok := parsePathSegments(path[1:])
	if !ok {
		return nil
	}

	current := doc
	for _, seg := range segments {
		switch cur := current.(type) {
		case map[string]any:
			if seg.index >= 0 {
				return nil
			}
			v, found := cur[seg.key]
			if !found {
				return nil
			}
			current = v
		case []any:
			if seg.index < 0 || seg.index >= len(cur) {
				return nil
			}
			current = cur[seg.index]
		default:
			return nil
		}
	}
	return current
}

type pathSegment struct {
	key   string
	index int // -1 for key segments
}

// parsePathSegments tokenizes the remainder of a JSONPath after "$".
func parsePathSegments(rest string) ([]pathSegment, bool) {
	var segments []pathSegment
	i := 0
	for i < len(rest) {
		switch rest[i] {
		case '.':
			i++
			start := i
			for i < len(rest) && rest[i] != '.' && rest[i] != '[' {
				i++
			}
			if i == start {
				return nil, false
			}
			segments = append(segments, pathSegment{key: rest[start:i], index: -1})
		case '[':
			end := strings.IndexByte(rest[i:], ']')
			if end < 0 {
				return nil, false
			}
			inner := rest[i+1 : i+end]
			i += end + 1
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				segments = append(segments, pathSegment{key: inner[1 : len(inner)-1], index: -1})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, false
			}
			segments = append(segments, pathSegment{index: idx})
		default:
			return nil, false
		}
	}
	return segments, true
}

var jsonPathTokenRe = regexp.MustCompile(`\$(?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\]|\["[^"]*"\]|\['[^']*'\])+`)

// EvaluateCondition evaluates a JSONPath-decorated comparison such as
// "$.score >= 70" against the context's variables. Each $.path token is
// substituted with the JSON literal of its resolved value before the
// expression is parsed.
func (r *Resolver) EvaluateCondition(expr string, ec *Context) (bool, error) {
	return r.EvaluateConditionIn(expr, ec.Variables)
}

// EvaluateConditionIn evaluates a condition against an explicit document.
// Used for gate conditions, which see the merged node result rather than
// the bare variable bag.
func (r *Resolver) EvaluateConditionIn(expr string, doc any) (bool, error) {
	rewritten := jsonPathTokenRe.ReplaceAllStringFunc(expr, func(token string) string {
		value := JSONPathLookup(token, doc)
		literal, err := json.Marshal(value)
		if err != nil {
			return "null"
		}
		return string(literal)
	})

	result, err := evalCondExpr(rewritten)
	if err != nil {
		return false, apperrors.New(apperrors.CodeEval, "state",
			"condition "+strconv.Quote(expr), err)
	}
	return result, nil
}

// EvaluateMapping resolves a mapping source: {{name}} reads a variable,
// $.path evaluates JSONPath, anything else is a literal string.
func (r *Resolver) EvaluateMapping(source string, ec *Context) any {
	trimmed := strings.TrimSpace(source)

	if m := placeholderRe.FindStringSubmatch(trimmed); m != nil && placeholderRe.FindString(trimmed) == trimmed {
		value, ok := ec.Lookup(m[1])
		if !ok {
			r.logger.Warn("unresolved mapping variable", "name", m[1], "instance_id", ec.InstanceID)
			return nil
		}
		return value
	}

	if strings.HasPrefix(trimmed, "$.") || strings.HasPrefix(trimmed, "$[") {
		return JSONPathLookup(trimmed, ec.Variables)
	}

	return source
}
