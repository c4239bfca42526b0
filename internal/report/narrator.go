package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Facts is the structured payload handed to a Narrator.
type Facts struct {
	Project   string                    `json:"project"`
	Outlet    [2]float64                `json:"outlet_lat_lon"`
	Watershed map[string]any            `json:"watershed,omitempty"`
	Analyses  map[string]map[string]any `json:"analyses"`
	Notes     map[string][]string       `json:"notes,omitempty"`
	Locale    string                    `json:"locale"`
}

// Narrator writes the interpretation section of a report.
type Narrator interface {
	Narrate(ctx context.Context, facts *Facts) (string, error)
}

const systemInstruction = `Você é um hidrólogo brasileiro experiente escrevendo a seção de
interpretação de um relatório técnico de bacia hidrográfica. Use apenas os dados fornecidos em
JSON. Comente forma da bacia e propensão a enchentes (Kc, Kf, Ic), relevo e declividade,
drenagem e tempo de concentração, clima e solos quando presentes. Escreva em Markdown, sem
títulos de nível 1 ou 2, em no máximo cinco parágrafos curtos, no idioma indicado em "locale".
Não invente valores.`

// GenAINarrator asks a Gemini model for the interpretation.
type GenAINarrator struct {
	client *genai.Client
	model  string
}

// NewGenAINarrator creates a narrator backed by the Gemini API.
func NewGenAINarrator(ctx context.Context, apiKey, model string) (*GenAINarrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAINarrator{client: client, model: model}, nil
}

// Narrate sends the facts as JSON and returns the model's Markdown text.
func (n *GenAINarrator) Narrate(ctx context.Context, facts *Facts) (string, error) {
	prompt, err := buildPrompt(facts)
	if err != nil {
		return "", err
	}
	resp, err := n.client.Models.GenerateContent(ctx, n.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.3),
	})
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("genai returned an empty interpretation")
	}
	return text, nil
}

func buildPrompt(facts *Facts) (string, error) {
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode facts: %w", err)
	}
	var b strings.Builder
	b.WriteString("Interprete os resultados da bacia hidrográfica abaixo.\n\n```json\n")
	b.Write(data)
	b.WriteString("\n```\n")
	return b.String(), nil
}
