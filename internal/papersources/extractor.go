package papersources

import (
	"regexp"
	"strconv"
	"strings"
)

// SnippetExtractor pulls author names and a publication year out of a free-text
// search snippet. Implementations must never fail: anything they cannot find is
// left empty.
type SnippetExtractor interface {
	Extract(snippet string) (authors []string, year *int)
}

var (
	defaultAuthorPattern = regexp.MustCompile(`([A-Z][a-z]+ [A-Z][a-z]+(?:, [A-Z][a-z]+ [A-Z][a-z]+)*)`)
	defaultYearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// RegexExtractor is the default SnippetExtractor. It takes the first run of
// comma-separated "First Last" names as the author list and the first
// four-digit year between 1900 and 2099.
type RegexExtractor struct {
	AuthorPattern *regexp.Regexp
	YearPattern   *regexp.Regexp
}

// NewRegexExtractor returns an extractor with the default patterns.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{
		AuthorPattern: defaultAuthorPattern,
		YearPattern:   defaultYearPattern,
	}
}

// Extract implements SnippetExtractor.
func (e *RegexExtractor) Extract(snippet string) ([]string, *int) {
	authors := []string{}
	if m := e.AuthorPattern.FindString(snippet); m != "" {
		for _, name := range strings.Split(m, ",") {
			if name = strings.TrimSpace(name); name != "" {
				authors = append(authors, name)
			}
		}
	}

	var year *int
	if m := e.YearPattern.FindString(snippet); m != "" {
		if y, err := strconv.Atoi(m); err == nil {
			year = &y
		}
	}
	return authors, year
}

var _ SnippetExtractor = (*RegexExtractor)(nil)
