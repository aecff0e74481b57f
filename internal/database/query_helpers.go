package database

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// sortConfig maps a sort_by name to its column, direction and keyset
// comparison operator.
type sortConfig struct {
	field      string
	descending bool
}

func sortConfigFor(sortBy string) sortConfig {
	switch sortBy {
	case "oldest":
		return sortConfig{field: "id", descending: false}
	case "name_asc":
		return sortConfig{field: "filename", descending: false}
	case "name_desc":
		return sortConfig{field: "filename", descending: true}
	case "model":
		return sortConfig{field: "model_name", descending: false}
	case "generation_type":
		return sortConfig{field: "generation_type", descending: false}
	default: // "newest"
		return sortConfig{field: "id", descending: true}
	}
}

func (s sortConfig) orderClause() string {
	dir := "ASC"
	if s.descending {
		dir = "DESC"
	}
	if s.field == "id" {
		return "id " + dir
	}
	return fmt.Sprintf("%s %s, id %s", s.sortExpr(), dir, dir)
}

func (s sortConfig) cursorOp() string {
	if s.descending {
		return "<"
	}
	return ">"
}

// sortExpr coalesces NULLs to a sentinel that sorts last in the
// chosen direction.
func (s sortConfig) sortExpr() string {
	if s.field == "id" {
		return "id"
	}
	sentinel := "~"
	if s.descending {
		sentinel = ""
	}
	return fmt.Sprintf("COALESCE(%s, '%s')", s.field, sentinel)
}

// cursorToken is the decoded form of the opaque pagination cursor.
type cursorToken struct {
	ID   int64   `json:"id"`
	Sort *string `json:"sort,omitempty"`
}

func decodeCursor(cursor string) (cursorToken, bool) {
	if cursor == "" {
		return cursorToken{}, false
	}
	var token cursorToken
	if err := json.Unmarshal([]byte(cursor), &token); err != nil {
		return cursorToken{}, false
	}
	return token, true
}

func encodeCursor(id int64, sortValue *string) string {
	token := cursorToken{ID: id, Sort: sortValue}
	encoded, err := json.Marshal(token)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// appendCursorPredicate adds the keyset WHERE clause for a decoded
// cursor. idColumn is "id" or "images.id" depending on the query.
func appendCursorPredicate(sql *strings.Builder, args *[]any, sort sortConfig, token cursorToken, idColumn string) {
	if sort.field == "id" || token.Sort == nil {
		fmt.Fprintf(sql, " AND %s %s ?", idColumn, sort.cursorOp())
		*args = append(*args, token.ID)
		return
	}

	op := sort.cursorOp()
	expr := sort.sortExpr()
	fmt.Fprintf(sql, " AND (%s %s ? OR (%s = ? AND %s %s ?))", expr, op, expr, idColumn, op)
	*args = append(*args, *token.Sort, *token.Sort, token.ID)
}

func normalizeGenerationType(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "txt2img", "txt2image":
		return "txt2img", true
	case "img2img", "image2image":
		return "img2img", true
	case "inpaint", "inpainting":
		return "inpaint", true
	case "grid", "grids":
		return "grid", true
	case "upscale", "extras":
		return "upscale", true
	case "unknown":
		return "unknown", true
	default:
		return "", false
	}
}

func normalizeGenerationTypes(values []string) []string {
	seen := make(map[string]struct{})
	var normalized []string
	for _, value := range values {
		canonical, ok := normalizeGenerationType(value)
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	return normalized
}

func appendGenerationTypeFilter(sql *strings.Builder, args *[]any, generationTypes []string) {
	if len(generationTypes) == 0 {
		return
	}

	sql.WriteString(" AND (")
	for index, generationType := range generationTypes {
		if index > 0 {
			sql.WriteString(" OR ")
		}

		if generationType == "grid" {
			// Some Forge/A1111 grid outputs are stored under *-grids
			// folders and can be misclassified in older scans. Keep grid
			// filtering reliable by including path/filename/metadata
			// fallbacks.
			sql.WriteString(
				`(images.generation_type = ?
				  OR LOWER(images.directory) LIKE ?
				  OR LOWER(images.directory) LIKE ?
				  OR LOWER(images.directory) LIKE ?
				  OR LOWER(images.directory) LIKE ?
				  OR LOWER(images.filename) LIKE ?
				  OR LOWER(images.filename) LIKE ?
				  OR LOWER(images.raw_metadata) LIKE ?
				  OR LOWER(images.raw_metadata) LIKE ?
				  OR LOWER(images.raw_metadata) LIKE ?
				  OR LOWER(images.raw_metadata) LIKE ?)`,
			)
			*args = append(*args,
				"grid",
				"%txt2img-grids%",
				"%img2img-grids%",
				"%/grids/%",
				`%\grids\%`,
				"grid-%",
				"%_grid-%",
				"%script: x/y/z plot%",
				"%script: xyz plot%",
				"%x values:%",
				"%y values:%",
			)
		} else {
			sql.WriteString("images.generation_type = ?")
			*args = append(*args, generationType)
		}
	}
	sql.WriteString(")")
}

func appendModelFilter(sql *strings.Builder, args *[]any, modelFilter, tablePrefix string) {
	normalized := strings.TrimSpace(modelFilter)
	if normalized == "" {
		return
	}

	if tablePrefix != "" {
		fmt.Fprintf(sql, " AND %s.model_name = ? COLLATE NOCASE", tablePrefix)
	} else {
		sql.WriteString(" AND model_name = ? COLLATE NOCASE")
	}
	*args = append(*args, normalized)
}

var modelFamilyPatterns = map[string][]string{
	"ponyxl":       {"%ponyxl%", "%pony xl%", "%pony diffusion%", "%pony%"},
	"sdxl":         {"%sdxl%", "%stable diffusion xl%"},
	"flux":         {"%flux%"},
	"zimage_turbo": {"%z-image turbo%", "%zimage turbo%", "%z-image%", "%zimage%"},
	"sd15":         {"%sd1.5%", "%sd15%", "%stable diffusion 1.5%"},
	"sd21":         {"%sd2.1%", "%sd21%", "%stable diffusion 2.1%"},
	"chroma":       {"%chroma%"},
	"vace":         {"%vace%"},
}

func normalizeModelFamily(value string) (string, bool) {
	var compact strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(value)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			compact.WriteRune(ch)
		}
	}

	switch compact.String() {
	case "pony", "ponyxl":
		return "ponyxl", true
	case "sdxl":
		return "sdxl", true
	case "flux":
		return "flux", true
	case "zimage", "zimageturbo":
		return "zimage_turbo", true
	case "sd15", "stablediffusion15", "sdv15":
		return "sd15", true
	case "sd21", "stablediffusion21", "sdv21":
		return "sd21", true
	case "chroma":
		return "chroma", true
	case "vace":
		return "vace", true
	default:
		return "", false
	}
}

func normalizeModelFamilyFilters(filters []string) []string {
	seen := make(map[string]struct{})
	var normalized []string
	for _, filter := range filters {
		canonical, ok := normalizeModelFamily(filter)
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	return normalized
}

func appendModelFamilyFilter(sql *strings.Builder, args *[]any, families []string, tablePrefix string) {
	if len(families) == 0 {
		return
	}

	column := "LOWER(model_name)"
	if tablePrefix != "" {
		column = fmt.Sprintf("LOWER(%s.model_name)", tablePrefix)
	}

	var groups [][]string
	for _, family := range families {
		if patterns := modelFamilyPatterns[family]; len(patterns) > 0 {
			groups = append(groups, patterns)
		}
	}
	if len(groups) == 0 {
		return
	}

	sql.WriteString(" AND (")
	for groupIdx, patterns := range groups {
		if groupIdx > 0 {
			sql.WriteString(" OR ")
		}
		sql.WriteString("(")
		for patternIdx, pattern := range patterns {
			if patternIdx > 0 {
				sql.WriteString(" OR ")
			}
			sql.WriteString(column)
			sql.WriteString(" LIKE ?")
			*args = append(*args, pattern)
		}
		sql.WriteString(")")
	}
	sql.WriteString(")")
}

func appendTagPredicates(sql *strings.Builder, args *[]any, includeTags, excludeTags []string) {
	for _, tag := range includeTags {
		sql.WriteString(
			` AND EXISTS (
				SELECT 1 FROM image_tags it JOIN tags t ON t.id = it.tag_id
				WHERE it.image_id = images.id AND t.tag = ?
			)`,
		)
		*args = append(*args, strings.ToLower(strings.TrimSpace(tag)))
	}
	for _, tag := range excludeTags {
		sql.WriteString(
			` AND NOT EXISTS (
				SELECT 1 FROM image_tags it JOIN tags t ON t.id = it.tag_id
				WHERE it.image_id = images.id AND t.tag = ?
			)`,
		)
		*args = append(*args, strings.ToLower(strings.TrimSpace(tag)))
	}
}

// sanitizeFTSQuery converts user input into safe FTS5 MATCH syntax:
// quoted phrases are kept as phrase queries, bare words become prefix
// terms (word*), explicit wildcards are preserved, and terms are
// implicitly ANDed.
func sanitizeFTSQuery(query string) string {
	var parts []string
	remaining := strings.TrimSpace(query)

	for {
		start := strings.IndexByte(remaining, '"')
		if start < 0 {
			processUnquotedWords(remaining, &parts)
			break
		}

		processUnquotedWords(remaining[:start], &parts)

		end := strings.IndexByte(remaining[start+1:], '"')
		if end < 0 {
			// Unmatched quote: treat the rest as regular text
			remaining = remaining[start+1:]
			continue
		}

		phrase := remaining[start+1 : start+1+end]
		var cleaned strings.Builder
		for _, ch := range phrase {
			if unicode.IsLetter(ch) || unicode.IsDigit(ch) || unicode.IsSpace(ch) || ch == '_' {
				cleaned.WriteRune(ch)
			}
		}
		joined := strings.Join(strings.Fields(cleaned.String()), " ")
		if joined != "" {
			parts = append(parts, `"`+strings.ToLower(joined)+`"`)
		}
		remaining = remaining[start+1+end+1:]
	}

	return strings.Join(parts, " ")
}

func processUnquotedWords(text string, parts *[]string) {
	for _, word := range strings.Fields(text) {
		hasWildcard := strings.Contains(word, "*")
		var cleaned strings.Builder
		for _, ch := range word {
			if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '*' {
				cleaned.WriteRune(ch)
			}
		}

		term := cleaned.String()
		if term == "" || term == "*" {
			continue
		}

		if hasWildcard {
			*parts = append(*parts, strings.ToLower(term))
		} else {
			*parts = append(*parts, strings.ToLower(term)+"*")
		}
	}
}

func containsSearchToken(text string) bool {
	for _, ch := range text {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			return true
		}
	}
	return false
}

// trigramMatchExpr wraps a raw query as a single quoted FTS5 phrase
// for substring matching against the trigram table.
func trigramMatchExpr(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
