package service

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"repo-advisor/internal/apperr"
)

func TestSuggestions_Validate(t *testing.T) {
	edits := []string{"a", "b", "c"}
	tests := []struct {
		name       string
		s          Suggestions
		wantFields []string
	}{
		{
			name: "valid",
			s:    Suggestions{Title: "A Tool", Summary: "Does things.", Edits: edits},
		},
		{
			name:       "empty title and edits",
			s:          Suggestions{Title: "", Summary: "...", Edits: []string{}},
			wantFields: []string{"title", "edits"},
		},
		{
			name:       "title too many words",
			s:          Suggestions{Title: strings.Repeat("word ", 11), Summary: "ok", Edits: edits},
			wantFields: []string{"title"},
		},
		{
			name:       "title too long",
			s:          Suggestions{Title: strings.Repeat("x", 121), Summary: "ok", Edits: edits},
			wantFields: []string{"title"},
		},
		{
			name:       "summary too long",
			s:          Suggestions{Title: "ok", Summary: strings.Repeat("word ", 81), Edits: edits},
			wantFields: []string{"summary"},
		},
		{
			name:       "blank summary",
			s:          Suggestions{Title: "ok", Summary: " \n", Edits: edits},
			wantFields: []string{"summary"},
		},
		{
			name:       "too many edits",
			s:          Suggestions{Title: "ok", Summary: "ok", Edits: []string{"a", "b", "c", "d", "e", "f"}},
			wantFields: []string{"edits"},
		},
		{
			name:       "blank edit",
			s:          Suggestions{Title: "ok", Summary: "ok", Edits: []string{"a", " ", "c"}},
			wantFields: []string{"edits[1]"},
		},
		{
			name:       "everything wrong",
			s:          Suggestions{},
			wantFields: []string{"title", "summary", "edits"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantFields == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			if got := apperr.ValidationFields(err); !reflect.DeepEqual(got, tt.wantFields) {
				t.Errorf("ValidationFields() = %v, want %v", got, tt.wantFields)
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantTitle string
		wantErr   bool
	}{
		{name: "plain JSON", reply: `{"title": "T"}`, wantTitle: "T"},
		{name: "fenced JSON", reply: "```json\n{\"title\": \"T\"}\n```", wantTitle: "T"},
		{name: "bare fence", reply: "```\n{\"title\": \"T\"}\n```", wantTitle: "T"},
		{name: "empty", reply: "  ", wantErr: true},
		{name: "prose", reply: "Sure! Here you go.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Suggestions
			err := decodeResponse(tt.reply, &s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if fields := apperr.ValidationFields(err); !reflect.DeepEqual(fields, []string{"response"}) {
					t.Errorf("ValidationFields() = %v", fields)
				}
				return
			}
			if s.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", s.Title, tt.wantTitle)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 10); got != "héllo" {
		t.Errorf("truncateRunes() = %q", got)
	}
	if got := truncateRunes("héllo", 2); got != "hé\n[truncated]" {
		t.Errorf("truncateRunes() = %q", got)
	}
	if got := truncateRunes("abc", 3); got != "abc" {
		t.Errorf("truncateRunes() = %q", got)
	}
}

func TestBuildImproveMessages(t *testing.T) {
	msgs := buildImproveMessages("CTX", strings.Repeat("x", MaxPromptChars+10), Metadata{Title: "Tool", MissingSections: []string{"License"}})
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
	user := msgs[1].Content
	for _, want := range []string{"REPOSITORY METADATA & CONTEXT:\nCTX", "[truncated]", `"title": "Tool"`, "no section for: License", `"edits"`} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}
