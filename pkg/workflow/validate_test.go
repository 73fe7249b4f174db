package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

func validDefinition() *Definition {
	return &Definition{
		ID:      "wf-valid",
		Version: "1.0.0",
		Nodes: []Node{
			{ID: "start", Kind: KindCode, Config: json.RawMessage(`{"language":"javascript","code":"1"}`)},
			{ID: "check", Kind: KindConditional, Config: json.RawMessage(`{"condition":"$.x > 0"}`)},
			{ID: "yes", Kind: KindCode, Config: json.RawMessage(`{"language":"javascript","code":"2"}`)},
			{ID: "no", Kind: KindCode, Config: json.RawMessage(`{"language":"javascript","code":"3"}`)},
		},
		Edges: []Edge{
			{FromNodeID: "start", ToNodeID: "check"},
			{FromNodeID: "check", ToNodeID: "yes", Label: "true"},
			{FromNodeID: "check", ToNodeID: "no", Label: "false"},
		},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	require.NoError(t, validDefinition().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{
			name:   "empty id",
			mutate: func(d *Definition) { d.ID = "" },
		},
		{
			name:   "no nodes",
			mutate: func(d *Definition) { d.Nodes = nil },
		},
		{
			name: "unknown kind",
			mutate: func(d *Definition) {
				d.Nodes[0].Kind = "teleport"
			},
		},
		{
			name: "duplicate node id",
			mutate: func(d *Definition) {
				d.Nodes[3].ID = "start"
			},
		},
		{
			name: "dangling edge",
			mutate: func(d *Definition) {
				d.Edges = append(d.Edges, Edge{FromNodeID: "start", ToNodeID: "ghost"})
			},
		},
		{
			name: "two entry nodes",
			mutate: func(d *Definition) {
				d.Edges = d.Edges[1:]
			},
		},
		{
			name: "conditional missing false branch",
			mutate: func(d *Definition) {
				d.Edges[2].Label = "maybe"
			},
		},
		{
			name: "multi-out node with unlabelled edge",
			mutate: func(d *Definition) {
				d.Edges = append(d.Edges, Edge{FromNodeID: "start", ToNodeID: "no"})
			},
		},
		{
			name: "loop body references unknown node",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{
					ID: "loop", Kind: KindLoop,
					Config: json.RawMessage(`{"loopType":"count","count":2,"loopNodes":["ghost"]}`),
				})
				d.Edges = append(d.Edges, Edge{FromNodeID: "yes", ToNodeID: "loop"})
			},
		},
		{
			name: "loop containing itself",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{
					ID: "loop", Kind: KindLoop,
					Config: json.RawMessage(`{"loopType":"count","count":2,"loopNodes":["loop"]}`),
				})
				d.Edges = append(d.Edges, Edge{FromNodeID: "yes", ToNodeID: "loop"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			err := def.Validate()
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeDefinition, apperrors.CodeOf(err))
		})
	}
}

func TestEntryNodeIgnoresLoopBodies(t *testing.T) {
	def := &Definition{
		ID: "wf-loop",
		Nodes: []Node{
			{ID: "loop", Kind: KindLoop, Config: json.RawMessage(`{"loopType":"count","count":2,"loopNodes":["body"]}`)},
			{ID: "body", Kind: KindCode, Config: json.RawMessage(`{"language":"javascript","code":"1"}`)},
		},
		Edges: []Edge{},
	}

	entry, ok := def.EntryNode()
	require.True(t, ok)
	assert.Equal(t, "loop", entry.ID)
}
