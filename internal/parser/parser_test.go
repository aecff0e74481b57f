package parser

import (
	"strings"
	"testing"
)

const sampleMetadata = `<lora:norman_rockwell_style_pony_v6-000040:0.6> <lora:Higashiyama_Shou_PonyXL_Style:0.7>  zPDXL3 zPDXLxxx,brown_eyes brown_hair,flat_chest highres,medium_hair,petite,wispy_bangs,hair_over_one_eye,<lora:Age Slider V2_alpha1.0_rank4_noxattn_last:-3.6> <lora:BetterFaces:0.7>,open_jacket,anime_coloring
Steps: 30, Sampler: Euler a, Schedule type: Karras, CFG scale: 5, Seed: 87358210, Size: 896x1152, Model hash: 747bbe7d2d, Model: SuzannesSnowRainFissionTernaryponyRealism, ADetailer model: face_yolov8n.pt, ADetailer confidence: 0.8, Version: f2.0.1v1.10.1-previous-659-gc055f2d4`

const sampleWithNegative = `masterpiece, best quality, 1girl, solo
Negative prompt: worst quality, low quality, normal quality
Steps: 20, Sampler: DPM++ 2M Karras, CFG scale: 7, Seed: 12345, Size: 512x768, Model hash: abc123, Model: anything-v5`

func TestParseA1111Metadata(t *testing.T) {
	t.Parallel()

	params := parseA1111(sampleMetadata)

	if !strings.Contains(params.Prompt, "norman_rockwell_style_pony") {
		t.Errorf("prompt missing lora reference, got %q", params.Prompt)
	}
	if !strings.Contains(params.Prompt, "anime_coloring") {
		t.Errorf("prompt missing trailing fragment, got %q", params.Prompt)
	}
	if params.Steps != "30" {
		t.Errorf("Steps = %q, want 30", params.Steps)
	}
	if params.Sampler != "Euler a" {
		t.Errorf("Sampler = %q, want Euler a", params.Sampler)
	}
	if params.ScheduleType != "Karras" {
		t.Errorf("ScheduleType = %q, want Karras", params.ScheduleType)
	}
	if params.CfgScale != "5" {
		t.Errorf("CfgScale = %q, want 5", params.CfgScale)
	}
	if params.Seed != "87358210" {
		t.Errorf("Seed = %q, want 87358210", params.Seed)
	}
	if params.Width != 896 || params.Height != 1152 {
		t.Errorf("Size = %dx%d, want 896x1152", params.Width, params.Height)
	}
	if params.ModelHash != "747bbe7d2d" {
		t.Errorf("ModelHash = %q, want 747bbe7d2d", params.ModelHash)
	}
	if params.ModelName != "SuzannesSnowRainFissionTernaryponyRealism" {
		t.Errorf("ModelName = %q", params.ModelName)
	}
}

func TestParseA1111WithNegativePrompt(t *testing.T) {
	t.Parallel()

	params := parseA1111(sampleWithNegative)

	if params.Prompt != "masterpiece, best quality, 1girl, solo" {
		t.Errorf("Prompt = %q", params.Prompt)
	}
	if params.NegativePrompt != "worst quality, low quality, normal quality" {
		t.Errorf("NegativePrompt = %q", params.NegativePrompt)
	}
	if params.Steps != "20" {
		t.Errorf("Steps = %q, want 20", params.Steps)
	}
	if params.Sampler != "DPM++ 2M Karras" {
		t.Errorf("Sampler = %q, want DPM++ 2M Karras", params.Sampler)
	}
	if params.Seed != "12345" {
		t.Errorf("Seed = %q, want 12345", params.Seed)
	}
	if params.Width != 512 || params.Height != 768 {
		t.Errorf("Size = %dx%d, want 512x768", params.Width, params.Height)
	}
}

func TestParseWeightedPrompts(t *testing.T) {
	t.Parallel()

	raw := "(masterpiece:1.2), (best quality:1.4), 1girl\nSteps: 15, Sampler: Euler, CFG scale: 7.5, Seed: 999, Size: 512x512"
	params := parseA1111(raw)

	if !strings.Contains(params.Prompt, "(masterpiece:1.2)") {
		t.Errorf("weighted token lost from prompt: %q", params.Prompt)
	}
	if !strings.Contains(params.Prompt, "(best quality:1.4)") {
		t.Errorf("weighted token lost from prompt: %q", params.Prompt)
	}
	if params.Steps != "15" {
		t.Errorf("Steps = %q, want 15", params.Steps)
	}
	if params.CfgScale != "7.5" {
		t.Errorf("CfgScale = %q, want 7.5", params.CfgScale)
	}
}

// Commas inside quoted values and list-valued extension keys must not
// split the parameter block.
func TestParseParameterValuesWithCommas(t *testing.T) {
	t.Parallel()

	raw := "portrait of a cat\nSteps: 20, Sampler: Euler a, Lora hashes: \"foo:111, bar:222\", ADetailer prompt: face, eyes, smile, CFG scale: 7, Seed: 42"
	params := parseA1111(raw)

	if params.Steps != "20" {
		t.Errorf("Steps = %q, want 20", params.Steps)
	}
	if params.Sampler != "Euler a" {
		t.Errorf("Sampler = %q, want Euler a", params.Sampler)
	}
	if params.CfgScale != "7" {
		t.Errorf("CfgScale = %q, want 7", params.CfgScale)
	}
	if params.Seed != "42" {
		t.Errorf("Seed = %q, want 42", params.Seed)
	}
	if got := params.ExtraParams["Lora hashes"]; got != `"foo:111, bar:222"` {
		t.Errorf("Lora hashes = %q", got)
	}
	if got := params.ExtraParams["ADetailer prompt"]; got != "face, eyes, smile" {
		t.Errorf("ADetailer prompt = %q", got)
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	params := parseA1111("")
	if params.Prompt != "" {
		t.Errorf("Prompt = %q, want empty", params.Prompt)
	}
	if params.Steps != "" {
		t.Errorf("Steps = %q, want empty", params.Steps)
	}
}

func TestExtractTags(t *testing.T) {
	t.Parallel()

	prompt := "(masterpiece:1.2), 1girl, cinematic lighting, <lora:MyStyle:0.7>, embedding:EasyNegative"
	tags := ExtractTags(prompt)

	for _, want := range []string{
		"masterpiece",
		"1girl",
		"cinematic lighting",
		"lora:mystyle",
		"embedding:easynegative",
	} {
		if !containsTag(tags, want) {
			t.Errorf("tags missing %q, got %v", want, tags)
		}
	}
}

func TestExtractTagsFromNaturalLanguagePrompt(t *testing.T) {
	t.Parallel()

	prompt := "Portrait of Donald Trump standing in Times Square with dramatic lighting"
	tags := ExtractTags(prompt)

	for _, want := range []string{"trump", "portrait", "times"} {
		if !containsTag(tags, want) {
			t.Errorf("tags missing %q, got %v", want, tags)
		}
	}
	if containsTag(tags, "with") {
		t.Errorf("stopword leaked into tags: %v", tags)
	}
}

func TestParseComfyPromptGraph(t *testing.T) {
	t.Parallel()

	raw := `{
		"3": {
			"class_type": "KSampler",
			"inputs": {
				"seed": 987654,
				"steps": 30,
				"cfg": 4.5,
				"sampler_name": "euler",
				"scheduler": "karras",
				"positive": ["6", 0],
				"negative": ["7", 0]
			}
		},
		"4": {
			"class_type": "CheckpointLoaderSimple",
			"inputs": {
				"ckpt_name": "flux1-dev.safetensors"
			}
		},
		"6": {
			"class_type": "CLIPTextEncode",
			"inputs": {
				"text": "Donald Trump giving a speech in New York"
			}
		},
		"7": {
			"class_type": "CLIPTextEncode",
			"_meta": {
				"title": "CLIP Text Encode (Negative Prompt)"
			},
			"inputs": {
				"text": "low quality, blurry"
			}
		}
	}`

	params := Parse(raw)

	if !strings.Contains(params.Prompt, "Donald Trump") {
		t.Errorf("Prompt = %q", params.Prompt)
	}
	if params.NegativePrompt != "low quality, blurry" {
		t.Errorf("NegativePrompt = %q", params.NegativePrompt)
	}
	if params.Steps != "30" {
		t.Errorf("Steps = %q, want 30", params.Steps)
	}
	if params.CfgScale != "4.5" {
		t.Errorf("CfgScale = %q, want 4.5", params.CfgScale)
	}
	if params.Sampler != "euler" {
		t.Errorf("Sampler = %q, want euler", params.Sampler)
	}
	if params.ScheduleType != "karras" {
		t.Errorf("ScheduleType = %q, want karras", params.ScheduleType)
	}
	if params.Seed != "987654" {
		t.Errorf("Seed = %q, want 987654", params.Seed)
	}
	if params.ModelName != "flux1-dev.safetensors" {
		t.Errorf("ModelName = %q", params.ModelName)
	}
}

func TestInferGenerationType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "   ", "unknown"},
		{"plain txt2img", sampleWithNegative, "txt2img"},
		{"xyz grid", "something\nScript: X/Y/Z plot, X Values: 1,2,3", "grid"},
		{"inpaint via mask blur", "a scene\nSteps: 20, Mask blur: 4", "inpaint"},
		{"upscale", "a scene\nSteps: 20, Postprocess upscaler: R-ESRGAN", "upscale"},
		{"img2img via denoising", "a scene\nSteps: 20, Denoising strength: 0.5", "img2img"},
		{
			"hires fix stays txt2img",
			"a scene\nSteps: 20, Hires upscale: 2, Hires steps: 10, Denoising strength: 0.4",
			"txt2img",
		},
		{
			"comfy load image is img2img",
			`{"1": {"class_type":"LoadImage", "inputs": {"image": "input.png"}}}`,
			"img2img",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferGenerationType(tt.raw); got != tt.want {
				t.Errorf("InferGenerationType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSetsGenerationType(t *testing.T) {
	t.Parallel()

	params := Parse(sampleMetadata)
	if params.GenerationType != "txt2img" {
		t.Errorf("GenerationType = %q, want txt2img", params.GenerationType)
	}
	if params.RawMetadata != sampleMetadata {
		t.Error("RawMetadata was not preserved")
	}
}

func TestParseJSONSimpleObject(t *testing.T) {
	t.Parallel()

	raw := `{"prompt": "a red fox", "negative_prompt": "blurry", "steps": 28, "cfg_scale": 6.5, "seed": 42, "width": 1024, "height": 768, "model": "sdxl-base"}`
	params, ok := parseJSONMetadata(raw)
	if !ok {
		t.Fatal("parseJSONMetadata rejected a valid payload")
	}
	if params.Prompt != "a red fox" {
		t.Errorf("Prompt = %q", params.Prompt)
	}
	if params.NegativePrompt != "blurry" {
		t.Errorf("NegativePrompt = %q", params.NegativePrompt)
	}
	if params.Steps != "28" {
		t.Errorf("Steps = %q, want 28", params.Steps)
	}
	if params.CfgScale != "6.5" {
		t.Errorf("CfgScale = %q, want 6.5", params.CfgScale)
	}
	if params.Width != 1024 || params.Height != 768 {
		t.Errorf("Size = %dx%d, want 1024x768", params.Width, params.Height)
	}
	if params.ModelName != "sdxl-base" {
		t.Errorf("ModelName = %q", params.ModelName)
	}
}

func TestParseJSONRejectsNonMetadata(t *testing.T) {
	t.Parallel()

	if _, ok := parseJSONMetadata("not json at all"); ok {
		t.Error("plain text accepted as JSON metadata")
	}
	if _, ok := parseJSONMetadata(`{"unrelated": 5}`); ok {
		t.Error("object with no generation content accepted")
	}
}

func TestNormalizePromptToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token  string
		want   string
		wantOK bool
	}{
		{"  masterpiece ", "masterpiece", true},
		{"(masterpiece:1.2)", "masterpiece", true},
		{"(detailed background)", "detailed background", true},
		{"artist:somename", "artist:somename", true},
		{"<lora:style:0.5>", "", false},
		{"", "", false},
		{"a", "", false},
	}

	for _, tt := range tests {
		got, ok := normalizePromptToken(tt.token)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("normalizePromptToken(%q) = %q, %v; want %q, %v",
				tt.token, got, ok, tt.want, tt.wantOK)
		}
	}
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
