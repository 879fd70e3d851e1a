package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"repo-advisor/internal/llm"
)

// ImprovementQuery is the retrieval query used to collect context for suggestions.
const ImprovementQuery = "summarize the repository and identify missing documentation sections"

// MaxPromptChars caps the repository content embedded in a prompt, in runes.
const MaxPromptChars = 12000

const metadataSystemPrompt = `You are an expert technical writer who tags GitHub repositories so people can find them. ` +
	`Reply with a single JSON object and nothing else.`

const improveSystemPrompt = `You are an expert GitHub repository analyst. Your task is to analyze the content and suggest improvements. ` +
	`The output must strictly adhere to the JSON schema you are given. Reply with a single JSON object and nothing else.`

func buildMetadataMessages(content string, meta Metadata) []llm.Message {
	var b strings.Builder
	b.WriteString("Suggest discovery metadata for the repository below.\n\n")
	b.WriteString("Respond with a JSON object with exactly these keys:\n")
	b.WriteString(`  "description": one sentence describing the project (max 30 words)` + "\n")
	b.WriteString(`  "keywords": 5 to 10 lowercase search keywords` + "\n")
	b.WriteString(`  "topics": 3 to 8 GitHub topics, lowercase and hyphen-separated` + "\n")
	b.WriteString(`  "audience": who the project is for (max 10 words)` + "\n\n")
	fmt.Fprintf(&b, "REPOSITORY: %s\n", meta.Title)
	fmt.Fprintf(&b, "FILES: %s\n\n", strings.Join(meta.Files, ", "))
	b.WriteString("CONTENT:\n")
	b.WriteString(truncateRunes(content, MaxPromptChars))

	return []llm.Message{
		{Role: "system", Content: metadataSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func buildImproveMessages(repoContext, content string, meta Metadata) []llm.Message {
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		metaJSON = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("REPOSITORY METADATA & CONTEXT:\n")
	b.WriteString(repoContext)
	b.WriteString("\n\nORIGINAL CONTENT:\n")
	b.WriteString(truncateRunes(content, MaxPromptChars))
	b.WriteString("\n\nEXTRACTED METADATA:\n")
	b.Write(metaJSON)
	b.WriteString("\n\nBased on the information, respond with a JSON object with exactly these keys:\n")
	fmt.Fprintf(&b, `  "title": a short, attention-grabbing, descriptive title (max %d words)`+"\n", MaxTitleWords)
	fmt.Fprintf(&b, `  "summary": a compelling one-paragraph summary for the repository description (max %d words)`+"\n", MaxSummaryWords)
	fmt.Fprintf(&b, `  "edits": a list of %d to %d concrete, actionable suggestions for improving the README content or structure`+"\n", MinEdits, MaxEdits)
	if len(meta.MissingSections) > 0 {
		fmt.Fprintf(&b, "The README has no section for: %s. Cover these in the edits.\n", strings.Join(meta.MissingSections, ", "))
	}

	return []llm.Message{
		{Role: "system", Content: improveSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "\n[truncated]"
		}
		count++
	}
	return s
}
