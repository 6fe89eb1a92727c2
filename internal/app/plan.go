package app

import (
	"regexp"
	"strconv"
	"strings"
)

// PlanDetail is one line of a plan section. Type is "detail" for
// bullet-prefixed lines and "text" otherwise.
type PlanDetail struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	Address    string `json:"address,omitempty"`
	Feature    string `json:"feature,omitempty"`
	ImageCount int    `json:"imageCount,omitempty"`
}

type PlanSection struct {
	Title      string       `json:"title"`
	Highlights []string     `json:"highlights"`
	Details    []PlanDetail `json:"details"`
}

const fallbackPlanTitle = "为你推荐"

var (
	numberedSplitRe = regexp.MustCompile(`(?m)^\s*\d+[.、．]\s*`)
	boldRe          = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	addressRe       = regexp.MustCompile(`地址\s*[:：]\s*(.+)`)
	featureRe       = regexp.MustCompile(`(?:特色|推荐理由)\s*[:：]\s*(.+)`)
	imageCountRe    = regexp.MustCompile(`(\d+)\s*张图`)
)

// FormatPlan splits the backend's free-text plan into display sections.
// The format is best effort and backend dependent, so this must never
// fail: an empty input yields nil and anything unsplittable is wrapped
// verbatim in a single generic section.
func FormatPlan(raw string) []PlanSection {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	locs := numberedSplitRe.FindAllStringIndex(raw, -1)
	if len(locs) == 0 {
		return []PlanSection{fallbackSection(raw)}
	}

	var sections []PlanSection
	// Text before the first enumerator is usually an intro line; keep it
	// rather than dropping plan content.
	if lead := strings.TrimSpace(raw[:locs[0][0]]); lead != "" {
		sections = append(sections, fallbackSection(lead))
	}

	var blocks []string
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if block := strings.TrimSpace(raw[loc[1]:end]); block != "" {
			blocks = append(blocks, block)
		}
	}
	if len(blocks) == 0 && len(sections) == 0 {
		return []PlanSection{fallbackSection(raw)}
	}

	for _, block := range blocks {
		sections = append(sections, parsePlanBlock(block))
	}
	return sections
}

func fallbackSection(raw string) PlanSection {
	return PlanSection{
		Title:      fallbackPlanTitle,
		Highlights: []string{},
		Details:    []PlanDetail{{Type: "text", Content: raw}},
	}
}

func parsePlanBlock(block string) PlanSection {
	lines := strings.Split(block, "\n")
	titleLine := strings.TrimSpace(lines[0])

	sec := PlanSection{
		Title:      stripEmphasis(titleLine),
		Highlights: extractHighlights(titleLine),
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		detail := PlanDetail{Type: "text", Content: stripEmphasis(line)}
		if trimmed, ok := stripBullet(line); ok {
			detail.Type = "detail"
			detail.Content = stripEmphasis(trimmed)
		}
		sec.Highlights = append(sec.Highlights, extractHighlights(line)...)
		if m := addressRe.FindStringSubmatch(detail.Content); m != nil {
			detail.Address = strings.TrimSpace(m[1])
		}
		if m := featureRe.FindStringSubmatch(detail.Content); m != nil {
			detail.Feature = strings.TrimSpace(m[1])
		}
		if m := imageCountRe.FindStringSubmatch(detail.Content); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				detail.ImageCount = n
			}
		}
		sec.Details = append(sec.Details, detail)
	}
	if sec.Title == "" {
		sec.Title = fallbackPlanTitle
	}
	return sec
}

func stripBullet(line string) (string, bool) {
	for _, prefix := range []string{"- ", "• ", "· ", "* "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return line, false
}

func stripEmphasis(s string) string {
	return strings.TrimSpace(boldRe.ReplaceAllString(s, "$1"))
}

func extractHighlights(s string) []string {
	var out []string
	for _, m := range boldRe.FindAllStringSubmatch(s, -1) {
		if h := strings.TrimSpace(m[1]); h != "" {
			out = append(out, h)
		}
	}
	return out
}
