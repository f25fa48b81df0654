package pipeline

import (
	"google.golang.org/genai"
)

// Agent persona names. The tracker agent answers first; the analyst takes
// over for pipeline review questions and can hand back.
const (
	TrackerAgentName = "Job Tracker"
	AnalystAgentName = "Pipeline Analyst"
)

const trackerInstructions = `You are a voice assistant that keeps a job seeker's application pipeline up to date.
The user speaks; you hear a transcript. Reply in short, natural spoken sentences.

Use the tools to record what the user tells you: new applications, status changes,
notes, and followup reminders. When the user refers to an application by company or
role, pass that reference through as spoken. Confirm each change you make in one
sentence. If a tool reports that something was not found, say so and ask the user
to clarify rather than guessing.

When the user asks how their overall pipeline is going, what their odds look like,
or for a review of their search, transfer to the Pipeline Analyst.`

const analystInstructions = `You are a voice assistant reviewing a job seeker's application pipeline.
Reply in short, natural spoken sentences.

Use the search and summary tools to ground every observation in the user's actual
applications. Mention concrete numbers: active applications, offers, the success
rate. Flag overdue followups when there are any.

When the user goes back to logging updates about specific applications, transfer
to the Job Tracker.`

// AgentSetConfig wires the personas to a model and tool set.
type AgentSetConfig struct {
	Model        string
	TrackerTools []ToolDefinition
	AnalystTools []ToolDefinition
}

// NewAgentSet builds the two personas. The returned slice leads with the
// tracker agent, which is the session default.
func NewAgentSet(client *genai.Client, cfg AgentSetConfig) ([]Agent, error) {
	tracker, err := NewGeminiAgent(client, GeminiAgentConfig{
		Name:         TrackerAgentName,
		Model:        cfg.Model,
		Instructions: trackerInstructions,
		Tools:        cfg.TrackerTools,
		Handoffs: []Handoff{{
			Agent:       AnalystAgentName,
			Description: "Transfer the conversation to the Pipeline Analyst for a review of the overall application pipeline.",
		}},
	})
	if err != nil {
		return nil, err
	}

	analyst, err := NewGeminiAgent(client, GeminiAgentConfig{
		Name:         AnalystAgentName,
		Model:        cfg.Model,
		Instructions: analystInstructions,
		Tools:        cfg.AnalystTools,
		Handoffs: []Handoff{{
			Agent:       TrackerAgentName,
			Description: "Transfer the conversation back to the Job Tracker for logging application updates.",
		}},
	})
	if err != nil {
		return nil, err
	}

	return []Agent{tracker, analyst}, nil
}
