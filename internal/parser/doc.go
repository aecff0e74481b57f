// Package parser extracts structured generation parameters from the
// metadata text embedded in AI-generated images.
//
// Two families of input are recognized: A1111/Forge-style text blocks
// ("prompt\nNegative prompt: ...\nSteps: 20, Sampler: ...") and JSON
// payloads, including ComfyUI workflow graphs and flat key/value forms
// emitted by NovelAI and InvokeAI.
//
// Numeric-looking fields (steps, cfg, seed) are kept as raw strings:
// upstream tools format numbers inconsistently, and converting would
// silently drop or mis-round values. Parsing never fails — unrecognized
// shapes yield a partial or empty Params so the file still indexes by
// filename and tags.
//
// All functions are pure and safe for concurrent use.
package parser
