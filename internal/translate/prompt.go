package translate

import (
	"fmt"
	"regexp"
	"strings"
)

const systemPrompt = `You are a professional document translator. You receive an HTML fragment and translate only its human-readable text.

Rules:
- Preserve every tag, attribute, and the element order exactly as given.
- Never translate or alter text between [[KEEP]] and [[/KEEP]] markers, and keep the markers in place.
- Do not translate numbers, identifiers, or code.
- Output only the translated HTML fragment. No explanations, no markdown fences, no commentary before or after.`

func userPrompt(sourceLang, targetLang, content string) string {
	if sourceLang == "" {
		sourceLang = "the source language"
	}
	return fmt.Sprintf("Translate the following fragment from %s to %s:\n\n%s", sourceLang, targetLang, content)
}

// Models wrap output in fences or preface it with chatter despite the
// instructions. These patterns cover the phrasings seen in practice.
var commentaryRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(sure|certainly|of course)[^\n]*\n`),
	regexp.MustCompile(`(?i)^here('s| is) the[^\n]*\n`),
	regexp.MustCompile(`(?i)^(the )?translat(ion|ed)[^\n<]*:\s*\n?`),
	regexp.MustCompile(`(?i)\n(note|disclaimer):[^\n]*$`),
}

// cleanResponse strips fences and commentary so validation sees only the
// fragment itself.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```html")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	for _, re := range commentaryRes {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
