// Package scanner discovers image files on disk and pulls generation
// metadata out of them without decoding pixel data.
//
// PNG files are read chunk by chunk: tEXt, zTXt and iTXt payloads are
// collected, IDAT is skipped entirely, so even multi-megabyte images
// cost only a few small reads. The best metadata payload is chosen by
// a fixed key priority, with NovelAI's Software/Description/Comment
// triple synthesized into a single A1111-style block. Non-PNG formats
// fall back to a .txt sidecar next to the image.
//
// The package also provides the sampled content fingerprint used for
// duplicate-candidate grouping: SHA-256 over the file size plus the
// first and last 64 KiB, truncated to 24 hex characters.
package scanner
