package corpus

import (
	"html"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	titleTag      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headTag       = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockBoundary = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|ul|ol|tr|table|blockquote|pre|section|article|header|footer)[^>]*>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	multiSpaces   = regexp.MustCompile(`[ \t]+`)
)

// extractTitle finds a human-readable title for the document: the first h1
// heading for markdown, the <title> tag for HTML, and the cleaned filename
// otherwise.
func extractTitle(name, raw string) string {
	if isMarkdown(name) {
		if title := markdownHeading(raw); title != "" {
			return title
		}
	}
	if isHTML(name) {
		if matches := titleTag.FindStringSubmatch(raw); len(matches) > 1 {
			if title := strings.TrimSpace(html.UnescapeString(matches[1])); title != "" {
				return title
			}
		}
	}
	return filenameTitle(name)
}

func markdownHeading(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}

func filenameTitle(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return base
}

// stripHTML reduces an HTML page to readable text. Script, style, head, and
// comment regions are dropped entirely; block element boundaries become line
// breaks so headings and paragraphs stay separated for the chunker.
func stripHTML(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")
	content = blockBoundary.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = multiSpaces.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
