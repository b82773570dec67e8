// Package hclspec loads graph definitions from HCL files, as an alternative
// to the JSON wire format.
//
// A definition file looks like:
//
//	graph "etl" {
//	  node "extract" {
//	    label = "Extract records"
//	  }
//	  node "transform" {}
//	  node "load" {}
//
//	  edge {
//	    from = "extract"
//	    to   = "transform"
//	  }
//	  edge {
//	    from = "transform"
//	    to   = "load"
//	  }
//	}
//
// Loading only decodes the structure; validation (unique IDs, acyclicity)
// happens in graph.Compile as for any other source.
package hclspec

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/dshills/graphrun-go/graph"
)

// hclFile is the top-level structure of a definition file for decoding.
type hclFile struct {
	Graphs []*hclGraph `hcl:"graph,block"`
}

type hclGraph struct {
	ID    string     `hcl:"id,label"`
	Nodes []*hclNode `hcl:"node,block"`
	Edges []*hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID    string `hcl:"id,label"`
	Label string `hcl:"label,optional"`
}

type hclEdge struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

// LoadFile parses one HCL file and returns the graphs defined in it.
func LoadFile(path string) ([]*graph.Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return decode(file.Body, path)
}

// Load parses HCL source from memory. The filename is used only for
// diagnostics.
func Load(src []byte, filename string) ([]*graph.Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL source %s: %w", filename, diags)
	}
	return decode(file.Body, filename)
}

func decode(body hcl.Body, filename string) ([]*graph.Graph, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode graph definition %s: %w", filename, diags)
	}
	if len(parsed.Graphs) == 0 {
		return nil, fmt.Errorf("no graph blocks in %s", filename)
	}

	graphs := make([]*graph.Graph, 0, len(parsed.Graphs))
	for _, gb := range parsed.Graphs {
		g := &graph.Graph{ID: gb.ID}
		for _, nb := range gb.Nodes {
			g.Nodes = append(g.Nodes, graph.Node{ID: nb.ID, Label: nb.Label})
		}
		for _, eb := range gb.Edges {
			g.Edges = append(g.Edges, graph.Edge{From: eb.From, To: eb.To})
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}
