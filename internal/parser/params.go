package parser

// Params is the structured representation of generation parameters
// extracted from image metadata.
//
// Steps, Sampler, ScheduleType, CfgScale and Seed are deliberately
// string-typed; empty means absent. Width and Height use 0 for absent.
type Params struct {
	Prompt         string            `json:"prompt"`
	NegativePrompt string            `json:"negative_prompt"`
	Steps          string            `json:"steps,omitempty"`
	Sampler        string            `json:"sampler,omitempty"`
	ScheduleType   string            `json:"schedule_type,omitempty"`
	CfgScale       string            `json:"cfg_scale,omitempty"`
	Seed           string            `json:"seed,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	ModelHash      string            `json:"model_hash,omitempty"`
	ModelName      string            `json:"model_name,omitempty"`
	GenerationType string            `json:"generation_type,omitempty"`
	// ExtraParams holds every key-value parameter not explicitly mapped.
	ExtraParams map[string]string `json:"extra_params,omitempty"`
	// RawMetadata is the unparsed metadata string, kept as backup.
	RawMetadata string `json:"raw_metadata"`
}

// hasContent reports whether any generation field was extracted.
func (p *Params) hasContent() bool {
	return p.Prompt != "" ||
		p.NegativePrompt != "" ||
		p.Steps != "" ||
		p.Sampler != "" ||
		p.CfgScale != "" ||
		p.Seed != "" ||
		p.Width != 0 ||
		p.Height != 0 ||
		p.ModelName != ""
}
