package arxiv

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// journalName is stored when an entry has no journal reference.
const journalName = "arXiv"

// arxivNamespace is the prefix gofeed files arXiv's own elements under.
const arxivNamespace = "arxiv"

// entryToRecord converts an Atom entry to a PaperRecord. Entries without an
// ID are dropped.
func entryToRecord(entry *atom.Entry, category string, now time.Time) *domain.PaperRecord {
	if entry == nil {
		return nil
	}
	id := externalID(entry.ID)
	if id == "" {
		return nil
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if a == nil {
			continue
		}
		if name := domain.NormalizeWhitespace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	keywords := make([]string, 0, len(entry.Categories))
	for _, cat := range entry.Categories {
		if cat != nil {
			keywords = append(keywords, cat.Term)
		}
	}

	journal := journalName
	if ref := extensionValue(entry.Extensions, "journal_ref"); ref != "" {
		journal = ref
	}

	return &domain.PaperRecord{
		Title:          domain.NormalizeWhitespace(entry.Title),
		Authors:        authors,
		Abstract:       strings.TrimSpace(entry.Summary),
		Link:           pdfLink(entry, id),
		Published:      utc(entry.PublishedParsed),
		Updated:        utc(entry.UpdatedParsed),
		ExternalID:     id,
		Category:       category,
		Keywords:       domain.NormalizeKeywords(keywords),
		Journal:        journal,
		Source:         domain.SourceTypeArXiv,
		FetchTimestamp: now,
		LastUpdated:    now,
	}
}

// externalID returns the trailing path segment of an entry ID such as
// "http://arxiv.org/abs/2401.12345v2". The version suffix is kept.
func externalID(entryID string) string {
	entryID = strings.TrimRight(strings.TrimSpace(entryID), "/")
	if entryID == "" {
		return ""
	}
	if i := strings.Index(entryID, "/abs/"); i >= 0 {
		return entryID[i+len("/abs/"):]
	}
	return entryID[strings.LastIndex(entryID, "/")+1:]
}

// pdfLink picks the link titled "pdf", then any PDF-typed link, then builds
// the canonical PDF URL from the ID.
func pdfLink(entry *atom.Entry, id string) string {
	for _, l := range entry.Links {
		if l != nil && l.Title == "pdf" && l.Href != "" {
			return l.Href
		}
	}
	for _, l := range entry.Links {
		if l != nil && l.Type == "application/pdf" && l.Href != "" {
			return l.Href
		}
	}
	return "https://arxiv.org/pdf/" + id
}

func extensionValue(exts ext.Extensions, name string) string {
	values := exts[arxivNamespace][name]
	if len(values) == 0 {
		return ""
	}
	return domain.NormalizeWhitespace(values[0].Value)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
