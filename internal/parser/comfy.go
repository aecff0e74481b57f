package parser

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// nodeRole classifies a workflow-graph node by what it contributes to
// the extracted parameters.
type nodeRole int

const (
	roleUnknown nodeRole = iota
	roleSampler
	roleCheckpointLoader
	roleTextEncode
)

// graphNode is one classified node of a ComfyUI prompt graph.
type graphNode struct {
	id        string
	role      nodeRole
	inputs    map[string]json.RawMessage
	metaTitle string
}

// parseJSONMetadata attempts to interpret raw metadata as JSON. The
// second return value is false when the payload is not JSON or carries
// no recognizable generation content.
func parseJSONMetadata(raw string) (Params, bool) {
	var value json.RawMessage
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return Params{}, false
	}

	var object map[string]json.RawMessage
	objectOK := json.Unmarshal(value, &object) == nil

	params := Params{RawMetadata: raw}

	if objectOK {
		params.Prompt = firstStringField(object, []string{"prompt", "Prompt", "description", "Description", "caption"})
		params.NegativePrompt = firstStringField(object, []string{"negative_prompt", "negativePrompt", "negative", "uc", "Negative prompt"})
		params.Steps = firstScalarField(object, []string{"steps", "num_inference_steps"})
		params.Sampler = firstScalarField(object, []string{"sampler", "sampler_name", "samplerName"})
		params.ScheduleType = firstScalarField(object, []string{"scheduler", "schedule_type", "schedule"})
		params.CfgScale = firstScalarField(object, []string{"cfg", "cfg_scale", "guidance", "distilled_cfg_scale", "scale"})
		params.Seed = firstScalarField(object, []string{"seed"})
		params.ModelName = firstScalarField(object, []string{"model", "model_name", "checkpoint", "ckpt_name", "unet_name"})
		params.Width = firstIntField(object, []string{"width", "w"})
		params.Height = firstIntField(object, []string{"height", "h"})

		if ordered, byID := classifyGraphNodes(object); len(ordered) > 0 {
			mergeGraphParams(ordered, byID, &params)
		}
	}

	if strings.TrimSpace(params.Prompt) == "" {
		var leaves []string
		collectStringLeaves(value, &leaves)
		var reduced []string
		for _, text := range leaves {
			if isLikelyPromptText(text) {
				reduced = append(reduced, text)
				if len(reduced) == 6 {
					break
				}
			}
		}
		if len(reduced) > 0 {
			params.Prompt = strings.Join(reduced, ", ")
		}
	}

	if !params.hasContent() {
		return Params{}, false
	}
	return params, true
}

// classifyGraphNodes detects a ComfyUI prompt graph (an object whose
// values carry class_type + inputs) and classifies every node in one
// pass. Nodes come back ordered by id so merging stays deterministic.
func classifyGraphNodes(object map[string]json.RawMessage) ([]graphNode, map[string]graphNode) {
	type rawNode struct {
		ClassType string                     `json:"class_type"`
		Inputs    map[string]json.RawMessage `json:"inputs"`
		Meta      struct {
			Title string `json:"title"`
		} `json:"_meta"`
	}

	var ordered []graphNode
	for id, rawValue := range object {
		var node rawNode
		if err := json.Unmarshal(rawValue, &node); err != nil {
			continue
		}
		if node.ClassType == "" || node.Inputs == nil {
			continue
		}

		classLower := strings.ToLower(node.ClassType)
		role := roleUnknown
		switch {
		case strings.Contains(classLower, "ksampler"),
			strings.Contains(classLower, "sampler") && strings.Contains(classLower, "advanced"):
			role = roleSampler
		case strings.Contains(classLower, "checkpointloader"):
			role = roleCheckpointLoader
		case strings.Contains(classLower, "textencode"):
			role = roleTextEncode
		}

		ordered = append(ordered, graphNode{
			id:        id,
			role:      role,
			inputs:    node.Inputs,
			metaTitle: node.Meta.Title,
		})
	}

	if len(ordered) == 0 {
		return nil, nil
	}

	// ComfyUI node ids are numeric strings; sort them as numbers when
	// possible so "10" lands after "2".
	sort.Slice(ordered, func(i, j int) bool {
		a, errA := strconv.Atoi(ordered[i].id)
		b, errB := strconv.Atoi(ordered[j].id)
		if errA == nil && errB == nil {
			return a < b
		}
		return ordered[i].id < ordered[j].id
	})

	byID := make(map[string]graphNode, len(ordered))
	for _, node := range ordered {
		byID[node.id] = node
	}
	return ordered, byID
}

// mergeGraphParams fills params from classified graph nodes: sampler
// nodes contribute the numeric settings and positive/negative node
// references, which resolve to text-encode nodes by id.
func mergeGraphParams(nodes []graphNode, byID map[string]graphNode, params *Params) {
	var positiveRefs, negativeRefs []string
	var fallbackPositive, fallbackNegative []string

	for _, node := range nodes {
		if node.role == roleSampler {
			if params.Steps == "" {
				params.Steps = scalarFromInputs(node.inputs, []string{"steps"})
			}
			if params.Sampler == "" {
				params.Sampler = scalarFromInputs(node.inputs, []string{"sampler_name", "sampler"})
			}
			if params.ScheduleType == "" {
				params.ScheduleType = scalarFromInputs(node.inputs, []string{"scheduler", "schedule_type"})
			}
			if params.CfgScale == "" {
				params.CfgScale = scalarFromInputs(node.inputs, []string{"cfg", "guidance", "distilled_cfg_scale"})
			}
			if params.Seed == "" {
				params.Seed = scalarFromInputs(node.inputs, []string{"seed", "noise_seed"})
			}
			if ref, ok := nodeReference(node.inputs["positive"]); ok {
				positiveRefs = append(positiveRefs, ref)
			}
			if ref, ok := nodeReference(node.inputs["negative"]); ok {
				negativeRefs = append(negativeRefs, ref)
			}
		}

		if params.Width == 0 {
			params.Width = intFromInputs(node.inputs, []string{"width"})
		}
		if params.Height == 0 {
			params.Height = intFromInputs(node.inputs, []string{"height"})
		}
		if params.ModelName == "" {
			params.ModelName = scalarFromInputs(node.inputs, []string{"ckpt_name", "model_name", "unet_name"})
		}

		if text := stringFromInput(node.inputs["text"]); text != "" {
			if strings.Contains(strings.ToLower(node.metaTitle), "negative") {
				fallbackNegative = append(fallbackNegative, text)
			} else {
				fallbackPositive = append(fallbackPositive, text)
			}
		}
	}

	positiveTexts := resolveReferencedTexts(byID, positiveRefs)
	negativeTexts := resolveReferencedTexts(byID, negativeRefs)

	if strings.TrimSpace(params.Prompt) == "" {
		if len(positiveTexts) > 0 {
			params.Prompt = joinUniqueTexts(positiveTexts)
		} else {
			params.Prompt = joinUniqueTexts(fallbackPositive)
		}
	}

	if strings.TrimSpace(params.NegativePrompt) == "" {
		if len(negativeTexts) > 0 {
			params.NegativePrompt = joinUniqueTexts(negativeTexts)
		} else {
			params.NegativePrompt = joinUniqueTexts(fallbackNegative)
		}
	}
}

func resolveReferencedTexts(nodes map[string]graphNode, refs []string) []string {
	var texts []string
	for _, nodeID := range refs {
		node, ok := nodes[nodeID]
		if !ok {
			continue
		}
		if text := stringFromInput(node.inputs["text"]); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

func joinUniqueTexts(texts []string) string {
	seen := make(map[string]struct{})
	var ordered []string
	for _, text := range texts {
		normalized := strings.TrimSpace(text)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, normalized)
	}
	return strings.Join(ordered, ", ")
}

// nodeReference extracts a node id from a sampler input, which is
// either a plain string or a ["node_id", slot] array.
func nodeReference(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed, true
		}
		return "", false
	}

	var array []json.RawMessage
	if err := json.Unmarshal(raw, &array); err != nil || len(array) == 0 {
		return "", false
	}
	if err := json.Unmarshal(array[0], &text); err == nil {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed, true
		}
		return "", false
	}
	var number int64
	if err := json.Unmarshal(array[0], &number); err == nil {
		return strconv.FormatInt(number, 10), true
	}
	return "", false
}

func stringFromInput(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func scalarFromInputs(inputs map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := inputs[key]
		if !ok {
			continue
		}
		if value := scalarString(raw); value != "" {
			return value
		}
	}
	return ""
}

func intFromInputs(inputs map[string]json.RawMessage, keys []string) int {
	for _, key := range keys {
		raw, ok := inputs[key]
		if !ok {
			continue
		}
		if value := intValue(raw); value > 0 {
			return value
		}
	}
	return 0
}

func firstStringField(object map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := object[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstScalarField(object map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := object[key]
		if !ok {
			continue
		}
		if value := scalarString(raw); value != "" {
			return value
		}
	}
	return ""
}

func firstIntField(object map[string]json.RawMessage, keys []string) int {
	for _, key := range keys {
		raw, ok := object[key]
		if !ok {
			continue
		}
		if value := intValue(raw); value > 0 {
			return value
		}
	}
	return 0
}

// scalarString renders a JSON string, number or bool as a raw string.
// Numbers keep their source formatting (a json.Number, not a float).
func scalarString(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "true" || trimmed == "false" {
		return trimmed
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

func intValue(raw json.RawMessage) int {
	var number int64
	if err := json.Unmarshal(raw, &number); err == nil && number >= 0 {
		return int(number)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(text)); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}

// collectStringLeaves gathers every non-empty string leaf of a JSON
// value in document order. Object keys are skipped; only values count.
func collectStringLeaves(raw json.RawMessage, output *[]string) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	expectKey := false
	var nesting []json.Delim
	for {
		token, err := decoder.Token()
		if err != nil {
			return
		}
		switch value := token.(type) {
		case json.Delim:
			switch value {
			case '{':
				nesting = append(nesting, '{')
				expectKey = true
			case '[':
				nesting = append(nesting, '[')
				expectKey = false
			case '}', ']':
				nesting = nesting[:len(nesting)-1]
				expectKey = len(nesting) > 0 && nesting[len(nesting)-1] == '{'
			}
		case string:
			if expectKey {
				expectKey = false
				continue
			}
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				*output = append(*output, trimmed)
			}
			if len(nesting) > 0 && nesting[len(nesting)-1] == '{' {
				expectKey = true
			}
		default:
			if len(nesting) > 0 && nesting[len(nesting)-1] == '{' {
				expectKey = true
			}
		}
	}
}

// isLikelyPromptText filters string leaves to plausible prompt
// fragments: short human text, no paths, no checkpoint filenames.
func isLikelyPromptText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 3 || len(trimmed) > 280 {
		return false
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return false
	}
	if strings.Contains(trimmed, ".ckpt") || strings.Contains(trimmed, ".safetensors") {
		return false
	}
	for _, ch := range trimmed {
		if ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') {
			return true
		}
	}
	return false
}
