package scanner

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/soficis/forge-meta-link/internal/filesystem"
	"github.com/soficis/forge-meta-link/internal/logging"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

const pngReaderCapacity = 128 * 1024

// Metadata keys checked in priority order when a PNG carries several
// text chunks.
var primaryMetadataKeys = []string{
	"parameters",
	"Parameters",
	"prompt",
	"Prompt",
	"Description",
	"description",
	"Comment",
	"comment",
	"workflow",
	"Workflow",
	"invokeai_metadata",
	"invokeai_metadata_v2",
}

// ExtractTextChunks reads all PNG text chunks as key/value pairs. The
// image data itself is never decoded; only chunk headers and text
// payloads are read.
func ExtractTextChunks(path string) (map[string]string, error) {
	file, err := filesystem.Open(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, pngReaderCapacity)
	chunks := make(map[string]string)

	sig := make([]byte, 8)
	if _, err := io.ReadFull(reader, sig); err != nil {
		return nil, fmt.Errorf("reading PNG signature from %s: %w", path, err)
	}
	if !bytes.Equal(sig, pngSignature) {
		return nil, fmt.Errorf("not a valid PNG file: %s", path)
	}

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			break // EOF
		}
		length := binary.BigEndian.Uint32(header[:4])
		chunkType := string(header[4:8])

		switch chunkType {
		case "tEXt", "zTXt", "iTXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(reader, data); err != nil {
				return nil, fmt.Errorf("reading %s chunk from %s: %w", chunkType, path, err)
			}
			if _, err := reader.Discard(4); err != nil { // CRC
				return chunks, nil
			}

			var key, value string
			var ok bool
			switch chunkType {
			case "tEXt":
				key, value, ok = parseTextChunk(data)
			case "zTXt":
				key, value, ok = parseZTXtChunk(data)
			case "iTXt":
				key, value, ok = parseITXtChunk(data)
			}
			if ok {
				chunks[key] = value
			}
		case "IEND":
			return chunks, nil
		default:
			if _, err := reader.Discard(int(length) + 4); err != nil {
				return chunks, nil
			}
		}
	}

	return chunks, nil
}

// ExtractMetadata returns the best available metadata payload from a
// PNG's text chunks, or "" when the file is not a PNG or carries none.
func ExtractMetadata(path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return "", nil
	}
	chunks, err := ExtractTextChunks(path)
	if err != nil {
		return "", err
	}
	return selectPrimaryMetadata(chunks), nil
}

// ExtractParameters resolves the raw metadata for an image: embedded
// PNG text chunks first, then a .txt sidecar next to the file.
func ExtractParameters(path string) string {
	metadata, err := ExtractMetadata(path)
	if err != nil {
		logging.Warn("PNG metadata read failed for %s: %v", path, err)
		return readSidecarTxt(path)
	}
	if metadata != "" {
		return metadata
	}
	return readSidecarTxt(path)
}

func readSidecarTxt(path string) string {
	txtPath := replaceExt(path, ".txt")
	data, err := os.ReadFile(txtPath)
	if err != nil {
		return ""
	}
	return string(data)
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func selectPrimaryMetadata(chunks map[string]string) string {
	if novelai := buildNovelAIMetadata(chunks); novelai != "" {
		return novelai
	}

	for _, key := range primaryMetadataKeys {
		if trimmed := strings.TrimSpace(chunks[key]); trimmed != "" {
			return trimmed
		}
	}

	// Deterministic fallback: pick the largest non-empty text payload.
	best := ""
	for _, value := range chunks {
		trimmed := strings.TrimSpace(value)
		if len(trimmed) > len(best) {
			best = trimmed
		}
	}
	return best
}

// buildNovelAIMetadata synthesizes an A1111-style metadata block from
// NovelAI's Software/Description/Comment chunk layout, so the rest of
// the pipeline parses it with the usual text path.
func buildNovelAIMetadata(chunks map[string]string) string {
	if !strings.EqualFold(chunks["Software"], "novelai") {
		return ""
	}

	description := strings.TrimSpace(firstChunk(chunks, "Description", "description"))
	comment := strings.TrimSpace(firstChunk(chunks, "Comment", "comment"))
	if description == "" && comment == "" {
		return ""
	}

	var lines []string
	if description != "" {
		lines = append(lines, description)
	}

	var commentJSON map[string]json.RawMessage
	if err := json.Unmarshal([]byte(comment), &commentJSON); err == nil {
		var negative string
		if raw, ok := commentJSON["uc"]; ok {
			_ = json.Unmarshal(raw, &negative)
		}
		if negative = strings.TrimSpace(negative); negative != "" {
			lines = append(lines, "Negative prompt: "+negative)
		}

		var params []string
		appendCommentParam(&params, "Steps", commentJSON["steps"])
		appendCommentParam(&params, "Sampler", commentJSON["sampler"])
		appendCommentParam(&params, "CFG scale", commentJSON["scale"])
		appendCommentParam(&params, "Seed", commentJSON["seed"])

		width, widthOK := commentUint(commentJSON["width"])
		height, heightOK := commentUint(commentJSON["height"])
		if widthOK && heightOK {
			params = append(params, fmt.Sprintf("Size: %dx%d", width, height))
		}

		if len(params) > 0 {
			lines = append(lines, strings.Join(params, ", "))
		}
	}

	return strings.Join(lines, "\n")
}

func firstChunk(chunks map[string]string, keys ...string) string {
	for _, key := range keys {
		if value, ok := chunks[key]; ok {
			return value
		}
	}
	return ""
}

func appendCommentParam(params *[]string, key string, raw json.RawMessage) {
	if raw == nil {
		return
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text = strings.TrimSpace(text); text != "" {
			*params = append(*params, key+": "+text)
		}
		return
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "true" || trimmed == "false" {
		*params = append(*params, key+": "+trimmed)
		return
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		*params = append(*params, key+": "+number.String())
	}
}

func commentUint(raw json.RawMessage) (uint64, bool) {
	if raw == nil {
		return 0, false
	}
	var value uint64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false
	}
	return value, true
}

func parseTextChunk(data []byte) (string, string, bool) {
	nullPos := bytes.IndexByte(data, 0)
	if nullPos < 0 {
		return "", "", false
	}
	return string(data[:nullPos]), string(data[nullPos+1:]), true
}

func parseZTXtChunk(data []byte) (string, string, bool) {
	nullPos := bytes.IndexByte(data, 0)
	if nullPos < 0 {
		return "", "", false
	}
	keyword := string(data[:nullPos])

	cursor := nullPos + 1
	if cursor >= len(data) {
		return "", "", false
	}

	compressionMethod := data[cursor]
	cursor++
	if compressionMethod != 0 {
		return "", "", false
	}

	// Some tools include an extra separator byte before the payload.
	if cursor < len(data) && data[cursor] == 0 {
		cursor++
	}

	value, ok := decompressZlib(data[cursor:])
	if !ok {
		return "", "", false
	}
	return keyword, value, true
}

func parseITXtChunk(data []byte) (string, string, bool) {
	nullPos := bytes.IndexByte(data, 0)
	if nullPos < 0 {
		return "", "", false
	}
	keyword := string(data[:nullPos])

	rest := data[nullPos+1:]
	if len(rest) < 2 {
		return "", "", false
	}

	compressionFlag := rest[0]
	compressionMethod := rest[1]
	if compressionFlag != 0 && compressionFlag != 1 {
		return "", "", false
	}

	afterCompression := rest[2:]
	langEnd := bytes.IndexByte(afterCompression, 0)
	if langEnd < 0 {
		return "", "", false
	}
	afterLang := afterCompression[langEnd+1:]
	translatedEnd := bytes.IndexByte(afterLang, 0)
	if translatedEnd < 0 {
		return "", "", false
	}
	text := afterLang[translatedEnd+1:]

	if compressionFlag == 1 {
		if compressionMethod != 0 {
			return "", "", false
		}
		value, ok := decompressZlib(text)
		if !ok {
			return "", "", false
		}
		return keyword, value, true
	}

	return keyword, string(text), true
}

func decompressZlib(data []byte) (string, bool) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	defer reader.Close()

	output, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	return string(output), true
}
