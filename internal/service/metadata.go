package service

import (
	"path"
	"strings"
	"unicode"

	"repo-advisor/internal/document"
	"repo-advisor/internal/indexer"
)

// Limits applied to suggested tags, matching what GitHub accepts for topics.
const (
	maxKeywords    = 10
	maxTopics      = 20
	maxTopicLength = 50
)

// standardSections are the README sections every repository is expected to have.
// Each lists the lowercase fragments that count as that section.
var standardSections = []struct {
	Name    string
	Aliases []string
}{
	{Name: "Installation", Aliases: []string{"install", "getting started", "setup", "set up"}},
	{Name: "Usage", Aliases: []string{"usage", "example", "quick start", "quickstart", "how to use"}},
	{Name: "License", Aliases: []string{"license", "licence"}},
	{Name: "Contributing", Aliases: []string{"contribut"}},
}

// findReadme returns the first document named README.*, case-insensitively.
func findReadme(docs []document.Document) (document.Document, bool) {
	for _, doc := range docs {
		base := strings.ToLower(path.Base(doc.Path))
		if base == "readme" || strings.HasPrefix(base, "readme.") {
			return doc, true
		}
	}
	return document.Document{}, false
}

// outlineMetadata fills the structural part of Metadata from the README outline.
func outlineMetadata(parser *indexer.OutlineParser, docs []document.Document, repoURL string) Metadata {
	meta := Metadata{
		Title:    repoName(repoURL),
		Sections: []string{},
		Files:    make([]string, 0, len(docs)),
	}
	for _, doc := range docs {
		meta.Files = append(meta.Files, doc.Path)
	}

	readme, ok := findReadme(docs)
	if !ok {
		meta.MissingSections = sectionNames()
		return meta
	}

	outline := parser.Parse([]byte(readme.Text), readme.Path)
	if outline.Title != "" && len(outline.Headings) > 0 {
		meta.Title = outline.Title
	}
	for _, h := range outline.Headings {
		if h.Level > 1 {
			meta.Sections = append(meta.Sections, h.Text)
		}
	}
	meta.MissingSections = missingSections(outline.Headings)
	return meta
}

func missingSections(headings []indexer.Heading) []string {
	missing := []string{}
	for _, section := range standardSections {
		found := false
		for _, h := range headings {
			text := strings.ToLower(h.Text)
			for _, alias := range section.Aliases {
				if strings.Contains(text, alias) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			missing = append(missing, section.Name)
		}
	}
	return missing
}

func sectionNames() []string {
	names := make([]string, len(standardSections))
	for i, s := range standardSections {
		names[i] = s.Name
	}
	return names
}

// repoName returns the last path element of a repository locator without ".git".
func repoName(locator string) string {
	locator = strings.TrimRight(strings.TrimSpace(locator), "/")
	if i := strings.LastIndexAny(locator, "/:\\"); i >= 0 {
		locator = locator[i+1:]
	}
	return strings.TrimSuffix(locator, ".git")
}

// normalizeKeywords lowercases, trims and de-duplicates keywords, keeping order.
func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.Join(strings.Fields(k), " "))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// normalizeTopics turns free text into GitHub topics: lowercase letters, digits and
// single hyphens, at most maxTopicLength characters.
func normalizeTopics(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		var b strings.Builder
		dash := false
		for _, r := range strings.ToLower(strings.TrimSpace(t)) {
			switch {
			case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
				b.WriteRune(r)
				dash = false
			case b.Len() > 0 && !dash:
				b.WriteByte('-')
				dash = true
			}
		}
		topic := strings.TrimRight(b.String(), "-")
		if len(topic) > maxTopicLength {
			topic = strings.TrimRight(topic[:maxTopicLength], "-")
		}
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		out = append(out, topic)
		if len(out) == maxTopics {
			break
		}
	}
	return out
}
