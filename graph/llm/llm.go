// Package llm adapts LLM provider clients into node executors.
//
// The engine treats node work as opaque; these adapters make a common case
// concrete: each node renders a prompt template against the run's input and
// accumulated output, sends it to a provider, and stores the completion
// under the node's ID.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// Client is the minimal completion surface the executor needs from a
// provider. Implementations wrap the official SDKs (see anthropic.go,
// openai.go, google.go) and own their retry policy; the engine never
// retries.
type Client interface {
	// Complete sends a prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a plain function to the Client interface. Useful for
// tests and local models.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// promptData is the template context for prompt rendering.
type promptData struct {
	// Input is the run's caller-supplied input.
	Input map[string]any

	// Output is the run's accumulated output at dispatch time, so prompts
	// can reference upstream node results: {{index .Output "extract"}}.
	Output map[string]any
}

// Executor implements graph.Executor: one prompt template per node ID, all
// served by a single provider client. The completion for node "summarize"
// lands in the run output under key "summarize".
//
// Example:
//
//	client := llm.NewAnthropicClient(apiKey, "")
//	exec := llm.NewExecutor(client, map[string]string{
//	    "extract":   "List the entities in: {{index .Input \"text\"}}",
//	    "summarize": "Summarize: {{index .Output \"extract\"}}",
//	})
//	eng, err := graph.NewEngine(plan, exec)
type Executor struct {
	client  Client
	prompts map[string]*template.Template
}

// NewExecutor parses the per-node prompt templates (text/template syntax)
// and binds them to a client. Fails on any malformed template.
func NewExecutor(client Client, prompts map[string]string) (*Executor, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}

	compiled := make(map[string]*template.Template, len(prompts))
	for nodeID, text := range prompts {
		tmpl, err := template.New(nodeID).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt template for node %s: %w", nodeID, err)
		}
		compiled[nodeID] = tmpl
	}
	return &Executor{client: client, prompts: compiled}, nil
}

// Execute implements graph.Executor.
func (e *Executor) Execute(ctx context.Context, nodeID string, input, output map[string]any) (map[string]any, error) {
	tmpl, ok := e.prompts[nodeID]
	if !ok {
		return nil, fmt.Errorf("no prompt template for node %s", nodeID)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{Input: input, Output: output}); err != nil {
		return nil, fmt.Errorf("failed to render prompt for node %s: %w", nodeID, err)
	}

	text, err := e.client.Complete(ctx, buf.String())
	if err != nil {
		return nil, err
	}
	return map[string]any{nodeID: text}, nil
}
