package pipeline

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
)

// NewGeminiClient connects to the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, core.NewAuthenticationError("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, core.NewUpstreamError("gemini", err)
	}
	return client, nil
}

// Handoff declares a peer agent this agent may transfer the conversation to.
// The transfer surfaces to the model as one more function tool.
type Handoff struct {
	Agent       string
	Description string
}

// GeminiAgentConfig configures one agent persona.
type GeminiAgentConfig struct {
	Name         string
	Model        string
	Instructions string
	Tools        []ToolDefinition
	Handoffs     []Handoff
}

// GeminiAgent runs turns against the Gemini API. Handoff tools are
// intercepted locally and surfaced as handoff events instead of function
// calls.
type GeminiAgent struct {
	client       *genai.Client
	name         string
	model        string
	instructions string
	tools        []ToolDefinition
	handoffs     map[string]string // tool name -> target agent
}

func NewGeminiAgent(client *genai.Client, cfg GeminiAgentConfig) (*GeminiAgent, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("agent model is required")
	}

	a := &GeminiAgent{
		client:       client,
		name:         cfg.Name,
		model:        cfg.Model,
		instructions: cfg.Instructions,
		tools:        append([]ToolDefinition(nil), cfg.Tools...),
		handoffs:     make(map[string]string, len(cfg.Handoffs)),
	}
	for _, h := range cfg.Handoffs {
		toolName := handoffToolName(h.Agent)
		a.handoffs[toolName] = h.Agent
		a.tools = append(a.tools, ToolDefinition{
			Name:        toolName,
			Description: h.Description,
			Parameters:  &Schema{Type: "object"},
		})
	}
	return a, nil
}

func (a *GeminiAgent) Name() string            { return a.name }
func (a *GeminiAgent) Instructions() string    { return a.instructions }
func (a *GeminiAgent) Tools() []ToolDefinition { return append([]ToolDefinition(nil), a.tools...) }

func (a *GeminiAgent) StreamTurn(ctx context.Context, req TurnRequest) (EventStream, error) {
	contents := convertMessages(req.Messages)
	config := a.buildConfig(req)

	ctx, cancel := context.WithCancel(ctx)
	s := &geminiStream{
		events: make(chan TurnEvent, 16),
		cancel: cancel,
	}

	go func() {
		defer close(s.events)

		callSeq := 0
		for resp, err := range a.client.Models.GenerateContentStream(ctx, a.model, contents, config) {
			if err != nil {
				s.setErr(core.NewUpstreamError("gemini", err))
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					if !s.emit(ctx, TurnEvent{Type: EventTextDelta, Text: part.Text}) {
						return
					}
				}
				if part.FunctionCall == nil {
					continue
				}
				if target, ok := a.handoffs[part.FunctionCall.Name]; ok {
					if !s.emit(ctx, TurnEvent{Type: EventHandoff, Agent: target}) {
						return
					}
					continue
				}
				callSeq++
				call := &FunctionCall{
					// Gemini has no call ids; synthesize stable ones.
					ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, callSeq),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				}
				if !s.emit(ctx, TurnEvent{Type: EventFunctionCall, Call: call}) {
					return
				}
			}
		}
		s.emit(ctx, TurnEvent{Type: EventDone})
	}()

	return s, nil
}

func (a *GeminiAgent) buildConfig(req TurnRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	system := req.System
	if system == "" {
		system = a.instructions
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	tools := req.Tools
	if tools == nil {
		tools = a.tools
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, tool := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  convertSchema(tool.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

func convertMessages(messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		var parts []*genai.Part
		role := msg.Role

		switch {
		case msg.ToolCall != nil:
			role = "model"
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: msg.ToolCall.Name,
					Args: msg.ToolCall.Arguments,
				},
			})
		case msg.ToolReply != nil:
			role = "user"
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolReply.Name,
					Response: msg.ToolReply.Result,
				},
			})
		default:
			if role == "assistant" {
				role = "model"
			}
			parts = append(parts, &genai.Part{Text: msg.Content})
		}

		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func convertSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        convertSchemaType(s.Type),
		Description: s.Description,
		Required:    append([]string(nil), s.Required...),
		Items:       convertSchema(s.Items),
	}
	if len(s.Enum) > 0 {
		out.Enum = append([]string(nil), s.Enum...)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchema(prop)
		}
	}
	return out
}

func convertSchemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func handoffToolName(agent string) string {
	return "transfer_to_" + strings.ToLower(strings.Join(strings.Fields(agent), "_"))
}

type geminiStream struct {
	events chan TurnEvent
	err    error
	cancel context.CancelFunc
}

func (s *geminiStream) Next() (TurnEvent, bool) {
	ev, ok := <-s.events
	return ev, ok
}

func (s *geminiStream) Err() error { return s.err }

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}

// setErr runs in the producer goroutine before the channel closes, so Next
// observes it once ok is false.
func (s *geminiStream) setErr(err error) { s.err = err }

func (s *geminiStream) emit(ctx context.Context, ev TurnEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
