// Package llm talks to a language model that judges whether a submitted
// identity belongs to a stored profile.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when the model reply holds no usable verdict.
var ErrMalformedResponse = errors.New("malformed model response")

// Attribute is one identifier known for a party.
type Attribute struct {
	Platform string `json:"platform"`
	Value    string `json:"value"`
}

// Party describes either the submitted identity or a stored profile.
type Party struct {
	Names       []string    `json:"names,omitempty"`
	Identifiers []Attribute `json:"identifiers"`
}

// Payload is the comparison sent to the model.
type Payload struct {
	Candidate Party `json:"candidate"`
	Profile   Party `json:"profile"`
}

// Verdict is the model judgement.
type Verdict struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// BuildPrompt renders the payload as an instruction that asks for JSON only.
func BuildPrompt(p Payload) string {
	var b strings.Builder
	b.WriteString("You are an identity resolution expert. Decide whether the new identity ")
	b.WriteString("belongs to the same real-world person as the existing profile.\n\n")
	b.WriteString("New identity:\n")
	writeParty(&b, p.Candidate)
	b.WriteString("\nExisting profile:\n")
	writeParty(&b, p.Profile)
	b.WriteString("\nConsider name similarity, username patterns and identifier overlap ")
	b.WriteString("across platforms. Respond ONLY with a JSON object of the form:\n")
	b.WriteString(`{"is_match": true or false, "confidence": number between 0 and 1, "reasoning": "short explanation"}`)
	b.WriteString("\n")
	return b.String()
}

func writeParty(b *strings.Builder, p Party) {
	if len(p.Names) > 0 {
		fmt.Fprintf(b, "- names: %s\n", strings.Join(p.Names, ", "))
	}
	for _, a := range p.Identifiers {
		fmt.Fprintf(b, "- %s: %s\n", a.Platform, a.Value)
	}
}

// ParseVerdict decodes the first JSON object in the reply. Anything after it is ignored.
func ParseVerdict(reply string) (Verdict, error) {
	start := strings.Index(reply, "{")
	if start < 0 {
		return Verdict{}, fmt.Errorf("%w: no json object", ErrMalformedResponse)
	}
	var raw struct {
		IsMatch    *bool    `json:"is_match"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.NewDecoder(strings.NewReader(reply[start:])).Decode(&raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if raw.IsMatch == nil || raw.Confidence == nil {
		return Verdict{}, fmt.Errorf("%w: missing is_match or confidence", ErrMalformedResponse)
	}
	return Verdict{IsMatch: *raw.IsMatch, Confidence: *raw.Confidence, Reasoning: strings.TrimSpace(raw.Reasoning)}, nil
}
