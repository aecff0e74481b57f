package parser

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var promptStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "this": {},
	"that": {}, "into": {}, "onto": {}, "your": {}, "about": {}, "then": {},
	"than": {}, "have": {}, "has": {}, "had": {}, "were": {}, "was": {},
	"are": {}, "you": {}, "their": {}, "there": {}, "what": {}, "when": {},
	"where": {}, "while": {}, "over": {}, "under": {}, "inside": {},
	"outside": {}, "without": {}, "within": {}, "between": {}, "through": {},
	"using": {}, "make": {}, "made": {}, "just": {}, "also": {}, "very": {},
}

// ExtractTags derives a normalized tag set from a positive prompt.
//
// Comma-separated prompts keep each fragment as one tag; natural
// language prompts fall back to a per-word pass. LoRA references
// (<lora:name:weight>) become "lora:name" and textual inversion
// references become "embedding:name" in both modes. The result is
// deduplicated and sorted.
func ExtractTags(prompt string) []string {
	tags := make(map[string]struct{})

	if strings.Contains(prompt, ",") {
		for _, token := range strings.Split(prompt, ",") {
			if normalized, ok := normalizePromptToken(token); ok {
				tags[normalized] = struct{}{}
			}
		}
	} else {
		extractWordTags(prompt, tags)
	}

	extractLoraTags(prompt, tags)
	extractEmbeddingTags(prompt, tags)

	output := make([]string, 0, len(tags))
	for tag := range tags {
		output = append(output, tag)
	}
	sort.Strings(output)
	return output
}

func extractWordTags(prompt string, tags map[string]struct{}) {
	added := 0
	words := strings.FieldsFunc(prompt, func(c rune) bool {
		return !isTagRune(c)
	})
	for _, word := range words {
		if added >= 32 {
			break
		}

		lowered := strings.ToLower(strings.TrimSpace(word))
		if len(lowered) < 3 || len(lowered) > 48 {
			continue
		}
		if _, stop := promptStopwords[lowered]; stop {
			continue
		}
		if allDigits(lowered) {
			continue
		}

		if _, dup := tags[lowered]; !dup {
			tags[lowered] = struct{}{}
			added++
		}
	}
}

// normalizePromptToken turns one comma-delimited prompt fragment into
// a tag: quotes trimmed, a single wrapping paren pair removed, and a
// trailing :weight suffix dropped when it parses as a number.
func normalizePromptToken(token string) (string, bool) {
	trimmed := strings.TrimSpace(token)
	trimmed = strings.TrimSpace(strings.Trim(trimmed, `"`))
	if trimmed == "" {
		return "", false
	}

	// Raw LoRA tokens are handled by the dedicated pass.
	if strings.HasPrefix(strings.ToLower(trimmed), "<lora:") {
		return "", false
	}

	unwrapped := trimmed
	if strings.HasPrefix(trimmed, "(") && strings.HasSuffix(trimmed, ")") {
		unwrapped = trimmed[1 : len(trimmed)-1]
	}

	canonical := unwrapped
	if idx := strings.LastIndex(unwrapped, ":"); idx >= 0 {
		weight := strings.TrimSpace(unwrapped[idx+1:])
		if _, err := strconv.ParseFloat(weight, 32); err == nil {
			canonical = strings.TrimSpace(unwrapped[:idx])
		}
	}

	if len(canonical) < 2 || len(canonical) > 96 {
		return "", false
	}
	return strings.ToLower(canonical), true
}

func extractLoraTags(prompt string, tags map[string]struct{}) {
	lower := strings.ToLower(prompt)
	cursor := 0

	for {
		found := strings.Index(lower[cursor:], "<lora:")
		if found < 0 {
			break
		}
		start := cursor + found + len("<lora:")
		rest := prompt[start:]
		end := strings.IndexAny(rest, ":>")
		if end < 0 {
			end = len(rest)
		}
		name := strings.TrimSpace(rest[:end])

		if name != "" && len(name) <= 96 {
			tags["lora:"+strings.ToLower(name)] = struct{}{}
		}

		cursor = start + end + 1
		if cursor >= len(prompt) {
			break
		}
	}
}

func extractEmbeddingTags(prompt string, tags map[string]struct{}) {
	words := strings.FieldsFunc(prompt, func(c rune) bool {
		return c == ',' || c == ' ' || c == '\t' || c == '\n' || c == '\r'
	})
	for _, word := range words {
		lowered := strings.ToLower(word)
		name, ok := strings.CutPrefix(lowered, "embedding:")
		if !ok {
			continue
		}
		cleaned := strings.TrimSpace(strings.TrimFunc(name, func(c rune) bool {
			return !isTagRune(c)
		}))
		if cleaned != "" && len(cleaned) <= 96 {
			tags["embedding:"+cleaned] = struct{}{}
		}
	}
}

func isTagRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-'
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
