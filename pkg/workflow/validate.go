package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

// definitionSchema is the structural contract for a workflow definition.
// Kind-specific config payloads are validated by the owning executor at
// dispatch time; the schema covers the shared envelope.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "nodes", "edges"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "name": {"type": "string"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {
            "type": "string",
            "enum": ["agent", "user-input", "conditional", "loop", "file", "http", "code", "subworkflow"]
          },
          "name": {"type": "string"},
          "timeoutMs": {"type": "integer", "minimum": 0},
          "retryConfig": {
            "type": "object",
            "properties": {
              "maxRetries": {"type": "integer", "minimum": 0},
              "retryDelayMs": {"type": "integer", "minimum": 0},
              "backoffMultiplier": {"type": "number", "minimum": 0}
            }
          },
          "contextConfig": {
            "type": "object",
            "properties": {
              "mode": {"type": "string", "enum": ["simple", "advanced"]}
            }
          }
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["fromNodeId", "toNodeId"],
        "properties": {
          "fromNodeId": {"type": "string", "minLength": 1},
          "toNodeId": {"type": "string", "minLength": 1},
          "label": {"type": "string"}
        }
      }
    }
  }
}`

// Validate checks a definition against the schema and the graph rules:
// unique node ids, edges that reference declared nodes, a unique entry
// node, and unambiguous branching. All violations are reported together.
func (d *Definition) Validate() error {
	raw, err := json.Marshal(d)
	if err != nil {
		return apperrors.New(apperrors.CodeDefinition, "workflow", "definition not serializable", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return apperrors.New(apperrors.CodeDefinition, "workflow", "schema validation failed", err)
	}

	var problems []string
	if !result.Valid() {
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
	}

	problems = append(problems, d.graphProblems()...)

	if len(problems) > 0 {
		return apperrors.Newf(apperrors.CodeDefinition, "workflow",
			"invalid definition %s: %s", d.ID, strings.Join(problems, "; "))
	}
	return nil
}

// graphProblems collects structural violations beyond the schema.
func (d *Definition) graphProblems() []string {
	var problems []string

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if seen[n.ID] {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	for _, e := range d.Edges {
		if !seen[e.FromNodeID] {
			problems = append(problems, fmt.Sprintf("edge references unknown node %q", e.FromNodeID))
		}
		if !seen[e.ToNodeID] {
			problems = append(problems, fmt.Sprintf("edge references unknown node %q", e.ToNodeID))
		}
	}
	if len(problems) > 0 {
		// Entry and branching checks are meaningless on a broken node set.
		return problems
	}

	if _, ok := d.EntryNode(); !ok {
		problems = append(problems, "workflow must have exactly one entry node")
	}

	for _, n := range d.Nodes {
		out := d.OutgoingEdges(n.ID)
		if len(out) <= 1 {
			continue
		}
		switch n.Kind {
		case KindConditional:
			labels := make(map[string]bool, len(out))
			for _, e := range out {
				labels[e.Label] = true
			}
			if !labels["true"] || !labels["false"] {
				problems = append(problems, fmt.Sprintf(
					"conditional node %q must have outgoing edges labelled \"true\" and \"false\"", n.ID))
			}
		default:
			for _, e := range out {
				if e.Label == "" {
					problems = append(problems, fmt.Sprintf(
						"node %q has multiple outgoing edges but edge to %q is unlabelled", n.ID, e.ToNodeID))
				}
			}
		}
	}

	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Kind != KindLoop {
			continue
		}
		var cfg LoopConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		for _, id := range cfg.LoopNodes {
			if !seen[id] {
				problems = append(problems, fmt.Sprintf("loop node %q body references unknown node %q", n.ID, id))
			}
			if id == n.ID {
				problems = append(problems, fmt.Sprintf("loop node %q cannot contain itself", n.ID))
			}
		}
	}

	return problems
}
