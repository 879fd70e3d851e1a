package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/rag"
)

// Limits applied to generated suggestions.
const (
	MaxTitleWords   = 10
	MaxTitleChars   = 120
	MaxSummaryWords = 80
	MinEdits        = 3
	MaxEdits        = 5
)

// Suggestions is the structured content the model must return.
type Suggestions struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Edits   []string `json:"edits"`
}

// Validate checks every field and returns all problems joined, one
// *apperr.ValidationError per offending field.
func (s Suggestions) Validate() error {
	var errs []error

	title := strings.TrimSpace(s.Title)
	switch {
	case title == "":
		errs = append(errs, &apperr.ValidationError{Field: "title", Message: "cannot be empty"})
	case wordCount(title) > MaxTitleWords:
		errs = append(errs, &apperr.ValidationError{Field: "title", Message: fmt.Sprintf("has %d words, max %d", wordCount(title), MaxTitleWords)})
	case utf8.RuneCountInString(title) > MaxTitleChars:
		errs = append(errs, &apperr.ValidationError{Field: "title", Message: fmt.Sprintf("longer than %d characters", MaxTitleChars)})
	}

	summary := strings.TrimSpace(s.Summary)
	switch {
	case summary == "":
		errs = append(errs, &apperr.ValidationError{Field: "summary", Message: "cannot be empty"})
	case wordCount(summary) > MaxSummaryWords:
		errs = append(errs, &apperr.ValidationError{Field: "summary", Message: fmt.Sprintf("has %d words, max %d", wordCount(summary), MaxSummaryWords)})
	}

	if n := len(s.Edits); n < MinEdits || n > MaxEdits {
		errs = append(errs, &apperr.ValidationError{Field: "edits", Message: fmt.Sprintf("has %d items, want %d to %d", n, MinEdits, MaxEdits)})
	} else {
		for i, edit := range s.Edits {
			if strings.TrimSpace(edit) == "" {
				errs = append(errs, &apperr.ValidationError{Field: fmt.Sprintf("edits[%d]", i), Message: "cannot be empty"})
			}
		}
	}

	return errors.Join(errs...)
}

// Improvement is the output of the improve_content stage.
type Improvement struct {
	Suggestions Suggestions
	References  []rag.Reference
}

// Metadata describes the repository for discovery: what it is and how it is documented.
type Metadata struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Keywords        []string `json:"keywords"`
	Topics          []string `json:"topics"`
	Audience        string   `json:"audience,omitempty"`
	Sections        []string `json:"sections"`
	MissingSections []string `json:"missing_sections"`
	Files           []string `json:"files"`
}

// metadataSuggestion is the model's part of Metadata.
type metadataSuggestion struct {
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Topics      []string `json:"topics"`
	Audience    string   `json:"audience"`
}

func (m metadataSuggestion) Validate() error {
	for _, k := range m.Keywords {
		if strings.TrimSpace(k) != "" {
			return nil
		}
	}
	return &apperr.ValidationError{Field: "keywords", Message: "at least one keyword is required"}
}

// decodeResponse parses a model reply into v. Replies wrapped in a markdown code
// fence are accepted.
func decodeResponse(reply string, v any) error {
	body := stripCodeFence(reply)
	if body == "" {
		return &apperr.ValidationError{Field: "response", Message: "empty response"}
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &apperr.ValidationError{Field: "response", Message: "not a valid JSON object: " + err.Error()}
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
