package parser

import "strings"

// Parse extracts generation parameters from both A1111/Forge-style text
// and JSON graph formats (e.g. ComfyUI prompt metadata).
func Parse(raw string) Params {
	params, ok := parseJSONMetadata(raw)
	if !ok {
		params = parseA1111(raw)
	}

	params.GenerationType = InferGenerationType(raw)
	return params
}

// InferGenerationType classifies raw metadata into one of
// grid, inpaint, upscale, img2img, txt2img or unknown.
//
// Order matters: grid markers win over inpaint, inpaint over upscale,
// and hires-fix-only img2img markers count as txt2img.
func InferGenerationType(rawMetadata string) string {
	metadata := strings.ToLower(rawMetadata)

	isGrid := strings.Contains(metadata, "script: x/y/z plot") ||
		strings.Contains(metadata, "script: xyz plot") ||
		strings.Contains(metadata, "x values:") ||
		strings.Contains(metadata, "y values:")
	if isGrid {
		return "grid"
	}

	isInpaint := strings.Contains(metadata, "inpaint") ||
		strings.Contains(metadata, "mask blur") ||
		strings.Contains(metadata, "inpaint area") ||
		strings.Contains(metadata, "masked content") ||
		strings.Contains(metadata, `"class_type":"inpaintmodelconditioning"`) ||
		strings.Contains(metadata, `"class_type":"loadimagemask"`)
	if isInpaint {
		return "inpaint"
	}

	isUpscale := strings.Contains(metadata, "upscaler") ||
		strings.Contains(metadata, "upscale by") ||
		strings.Contains(metadata, "postprocess upscaler") ||
		strings.Contains(metadata, `"class_type":"imageupscalewithmodel"`)
	if isUpscale {
		return "upscale"
	}

	hasImg2ImgMarkers := strings.Contains(metadata, "img2img") ||
		strings.Contains(metadata, "denoising strength") ||
		strings.Contains(metadata, "init image") ||
		strings.Contains(metadata, `"class_type":"loadimage"`)
	if hasImg2ImgMarkers {
		hasHiresMarkers := strings.Contains(metadata, "hires upscale") ||
			strings.Contains(metadata, "hires steps") ||
			strings.Contains(metadata, "hires upscaler") ||
			strings.Contains(metadata, "hires resize")
		if hasHiresMarkers &&
			!strings.Contains(metadata, "init image") &&
			!strings.Contains(metadata, "img2img") &&
			!isInpaint {
			return "txt2img"
		}
		return "img2img"
	}

	if strings.TrimSpace(metadata) == "" {
		return "unknown"
	}
	return "txt2img"
}
