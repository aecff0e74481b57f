package parser

import (
	"strconv"
	"strings"
)

// normalizeKey maps key synonyms to canonical names (Forge Neo, FLUX
// variants, etc.)
func normalizeKey(key string) string {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "guidance", "distilled_cfg_scale":
		return "cfg_scale"
	case "model", "checkpoint":
		return "model"
	case "schedule":
		return "schedule_type"
	default:
		return strings.TrimSpace(key)
	}
}

// parseA1111 parses a raw A1111/Forge metadata string into Params.
//
// Format: `{prompt}\nNegative prompt: {neg}\nSteps: N, Sampler: X, ...`
//
// Handles edge cases:
//   - colons in prompt weights like `(masterpiece:1.2)`
//   - commas within prompt text
//   - missing negative prompt section
//   - metadata with only a parameter block (no prompt text)
func parseA1111(raw string) Params {
	params := Params{RawMetadata: raw}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return params
	}

	// Phase 1: split into sections using "Negative prompt:" as boundary.
	var promptSection string
	var negAndRest string
	hasNegative := false
	if negIdx := strings.Index(raw, "Negative prompt:"); negIdx >= 0 {
		promptSection = strings.TrimSpace(raw[:negIdx])
		negAndRest = strings.TrimSpace(raw[negIdx+len("Negative prompt:"):])
		hasNegative = true
	} else {
		promptSection = raw
	}

	// Phase 2: extract negative prompt and parameter block.
	var negativePrompt, paramBlock string
	hasParamBlock := false
	if hasNegative {
		if stepsIdx := strings.Index(negAndRest, "\nSteps:"); stepsIdx >= 0 {
			negativePrompt = strings.TrimSpace(negAndRest[:stepsIdx])
			paramBlock = strings.TrimSpace(negAndRest[stepsIdx+1:])
			hasParamBlock = true
		} else if stepsIdx := strings.Index(negAndRest, "Steps:"); stepsIdx >= 0 {
			// Sometimes on the same line
			negativePrompt = strings.TrimSpace(negAndRest[:stepsIdx])
			paramBlock = strings.TrimSpace(negAndRest[stepsIdx:])
			hasParamBlock = true
		} else {
			negativePrompt = negAndRest
		}
	} else {
		// No negative prompt; check if Steps: appears in the prompt section.
		if stepsIdx := strings.Index(promptSection, "\nSteps:"); stepsIdx >= 0 {
			params.Prompt = strings.TrimSpace(promptSection[:stepsIdx])
			paramBlock = strings.TrimSpace(promptSection[stepsIdx+1:])
			hasParamBlock = true
		} else if strings.HasPrefix(promptSection, "Steps:") {
			// Entire text is a parameter block
			paramBlock = promptSection
			hasParamBlock = true
		} else {
			params.Prompt = promptSection
			return params
		}
	}

	if params.Prompt == "" && promptSection != "" && hasNegative {
		params.Prompt = promptSection
	}
	params.NegativePrompt = negativePrompt

	// Phase 3: parse comma-separated key-value pairs.
	if hasParamBlock {
		parseParameterBlock(paramBlock, &params)
	}

	return params
}

// parseParameterBlock parses the `Steps: 20, Sampler: Euler a, ...` block.
//
// Splitting happens only on commas followed by a known key pattern
// (capitalized word + colon) so commas inside values like
// `Lora hashes: "name: hash, name2: hash2"` survive intact.
func parseParameterBlock(block string, params *Params) {
	for _, pair := range splitParameterPairs(block) {
		colonPos := strings.Index(pair, ":")
		if colonPos < 0 {
			continue
		}
		key := strings.TrimSpace(pair[:colonPos])
		value := strings.TrimSpace(pair[colonPos+1:])
		normalized := normalizeKey(key)

		switch strings.ToLower(normalized) {
		case "steps":
			params.Steps = value
		case "sampler":
			params.Sampler = value
		case "schedule type":
			params.ScheduleType = value
		case "cfg scale", "cfg_scale":
			params.CfgScale = value
		case "seed":
			params.Seed = value
		case "model hash":
			params.ModelHash = value
		case "model":
			params.ModelName = value
		case "size":
			// Format: "WxH"
			if w, h, ok := strings.Cut(value, "x"); ok {
				if width, err := strconv.Atoi(strings.TrimSpace(w)); err == nil {
					params.Width = width
				}
				if height, err := strconv.Atoi(strings.TrimSpace(h)); err == nil {
					params.Height = height
				}
			}
		default:
			if params.ExtraParams == nil {
				params.ExtraParams = make(map[string]string)
			}
			params.ExtraParams[key] = value
		}
	}
}

// splitParameterPairs splits on commas that look like true `Key: Value`
// boundaries. A comma is a boundary only when followed by a key that
// starts with an uppercase ASCII letter, has a valid key body, and
// terminates with `:` before any comma or newline. Quoted spans are
// never split.
func splitParameterPairs(block string) []string {
	var pairs []string
	start := 0
	inQuotes := false

	for idx := 0; idx < len(block); idx++ {
		switch block[idx] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes && isKeyBoundaryAfterComma(block, idx+1) {
				if segment := strings.TrimSpace(block[start:idx]); segment != "" {
					pairs = append(pairs, segment)
				}
				start = idx + 1
			}
		}
	}

	if tail := strings.TrimSpace(block[start:]); tail != "" {
		pairs = append(pairs, tail)
	}

	return pairs
}

func isKeyBoundaryAfterComma(block string, fromIdx int) bool {
	idx := fromIdx

	for idx < len(block) && isASCIIWhitespace(block[idx]) {
		idx++
	}
	if idx >= len(block) || block[idx] < 'A' || block[idx] > 'Z' {
		return false
	}

	keyStart := idx
	for idx < len(block) {
		b := block[idx]
		if b == ':' {
			return idx > keyStart
		}
		if b == ',' || b == '\n' || b == '\r' {
			return false
		}
		if !isKeyChar(b) {
			return false
		}
		idx++
	}

	return false
}

func isASCIIWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func isKeyChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case ' ', '_', '-', '/', '.', '(', ')':
		return true
	}
	return false
}
