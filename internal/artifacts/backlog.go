package artifacts

import (
	"fmt"
	"strings"
)

// Section is a `## `-delimited block of backlog.md/status.md, e.g.
// "## 🔧 In progress" followed by its bullet lines.
type Section struct {
	Header string
	Lines  []string
}

// ParseSections splits markdown content into its "## " sections. Any
// content before the first "## " header is kept as a headerless preamble
// section.
func ParseSections(content string) []Section {
	var sections []Section
	cur := Section{}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			sections = append(sections, cur)
			cur = Section{Header: line}
			continue
		}
		cur.Lines = append(cur.Lines, line)
	}
	sections = append(sections, cur)
	return sections
}

// Render reassembles sections back into markdown text.
func Render(sections []Section) string {
	var b strings.Builder
	for i, s := range sections {
		if s.Header != "" {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(s.Header)
			b.WriteString("\n")
		}
		for _, line := range s.Lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	out := b.String()
	return strings.TrimRight(out, "\n") + "\n"
}

// yamlMarker returns the exact substring used to identify a WU's line
// (spec.md §6: "matched by the exact substring `(wu/<WU-N>.yaml)` to avoid
// prefix collisions between e.g. WU-208 and WU-2087").
func yamlMarker(wuID string) string {
	return fmt.Sprintf("(wu/%s.yaml)", wuID)
}

// SectionsContaining returns the headers of every section with a line
// referencing wuID.
func SectionsContaining(sections []Section, wuID string) []string {
	marker := yamlMarker(wuID)
	var headers []string
	for _, s := range sections {
		for _, line := range s.Lines {
			if strings.Contains(line, marker) {
				headers = append(headers, s.Header)
				break
			}
		}
	}
	return headers
}

// RemoveFromSection deletes wuID's line from the named section, returning
// whether anything was removed.
func RemoveFromSection(content, header, wuID string) (string, bool) {
	marker := yamlMarker(wuID)
	sections := ParseSections(content)
	removed := false
	for i, s := range sections {
		if s.Header != header {
			continue
		}
		var kept []string
		for _, line := range s.Lines {
			if strings.Contains(line, marker) {
				removed = true
				continue
			}
			kept = append(kept, line)
		}
		sections[i].Lines = kept
	}
	return Render(sections), removed
}

// MoveToSection removes wuID's line from fromHeader (if present) and
// appends entryLine under toHeader, unless toHeader already references
// wuID. Used for the happy-path "In progress" -> "Done" transition and for
// BACKLOG_DUAL_SECTION repair (spec.md §4.9: "keep Done").
func MoveToSection(content, fromHeader, toHeader, wuID, entryLine string) string {
	content, _ = RemoveFromSection(content, fromHeader, wuID)
	sections := ParseSections(content)

	marker := yamlMarker(wuID)
	for _, s := range sections {
		if s.Header != toHeader {
			continue
		}
		for _, line := range s.Lines {
			if strings.Contains(line, marker) {
				return Render(sections) // already present, no duplicate
			}
		}
	}

	found := false
	for i := range sections {
		if sections[i].Header == toHeader {
			sections[i].Lines = append(sections[i].Lines, entryLine)
			found = true
			break
		}
	}
	if !found {
		sections = append(sections, Section{Header: toHeader, Lines: []string{entryLine}})
	}
	return Render(sections)
}
