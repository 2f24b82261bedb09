package advisor

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"predictive-maintenance/machine"
	"predictive-maintenance/risk"
)

const DefaultModel = "gemini-2.5-flash"

const systemPrompt = `You are a maintenance planning assistant for a fleet of milling machines.
You receive one machine's sensor features and its predicted failure probability.
Explain in plain language which readings look concerning and what a technician
should check first. Do not invent readings. Keep the note under 120 words.`

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient generates text with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleModel),
		Temperature:       genai.Ptr(float32(0.3)),
		TopP:              genai.Ptr(float32(0.8)),
		MaxOutputTokens:   int32(300),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return resp.Text(), nil
}

// Advisor writes maintenance notes for scored machines.
type Advisor struct {
	gen Generator
}

func New(gen Generator) *Advisor {
	return &Advisor{gen: gen}
}

// Note is a generated maintenance recommendation.
type Note struct {
	MachineID string     `json:"machine_id"`
	Score     float64    `json:"risk_score"`
	Level     risk.Level `json:"level"`
	Text      string     `json:"text"`
}

// Advise asks the generator for a note about p given its score.
func (a *Advisor) Advise(ctx context.Context, p machine.Profile, score float64) (Note, error) {
	note := Note{MachineID: p.MachineID, Score: score, Level: risk.LevelOf(score)}

	text, err := a.gen.Generate(ctx, Prompt(p, score))
	if err != nil {
		return note, err
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "*", ""))
	if text == "" {
		text = "No recommendation could be generated for this machine."
	}
	note.Text = text
	return note, nil
}

// Prompt renders the user message for one machine.
func Prompt(p machine.Profile, score float64) string {
	f := p.Features
	var b strings.Builder
	fmt.Fprintf(&b, "Machine %s (type %s)\n", p.MachineID, p.MachineType)
	fmt.Fprintf(&b, "Air temperature: %.1f K\n", f.AirTemp)
	fmt.Fprintf(&b, "Process temperature: %.1f K\n", f.ProcessTemp)
	fmt.Fprintf(&b, "Rotational speed: %.0f rpm\n", f.RotationalSpeed)
	fmt.Fprintf(&b, "Torque: %.1f Nm\n", f.Torque)
	fmt.Fprintf(&b, "Tool wear: %.0f min\n", f.ToolWear)
	fmt.Fprintf(&b, "Recorded failure: %d\n", f.Failure)
	fmt.Fprintf(&b, "Predicted failure probability: %.1f%% (%s)\n", score*100, risk.LevelOf(score))
	return b.String()
}
