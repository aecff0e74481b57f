// Package thumbs maintains the content-addressed thumbnail cache.
//
// Cache entries are 400px JPEG files in a flat directory, named by a
// versioned SHA-256 hash of the source path. Generation decodes with
// libvips when available and falls back to pure-Go decoding, fitting
// the image into a 400x400 box with Lanczos resampling. A prior cache
// format used WebP; legacy entries are served when the source is gone
// and migrated to JPEG otherwise.
package thumbs
