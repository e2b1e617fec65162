package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdentityKind names which field of a record determines its identity.
type IdentityKind string

const (
	IdentityKindExternalID IdentityKind = "external_id"
	IdentityKindLink       IdentityKind = "link"
	IdentityKindTitle      IdentityKind = "title"
)

// IdentityKey is the tuple that decides whether two fetched records refer to
// the same stored entity. At most one stored record exists per key.
type IdentityKey struct {
	Source SourceType
	Kind   IdentityKind
	Value  string
}

// IsZero reports whether the key carries no usable identity.
func (k IdentityKey) IsZero() bool {
	return k.Value == ""
}

// String returns a printable form such as "arxiv/external_id:2001.00001".
func (k IdentityKey) String() string {
	return string(k.Source) + "/" + string(k.Kind) + ":" + k.Value
}

// PaperRecord is the canonical bibliographic record shared by all providers.
type PaperRecord struct {
	ID             uuid.UUID
	Title          string
	Authors        []string
	Abstract       string
	Link           string
	Published      *time.Time
	Updated        *time.Time
	ExternalID     string
	Category       string
	Keywords       []string
	Journal        string
	Source         SourceType
	FetchTimestamp time.Time
	LastUpdated    time.Time
	CitationCount  *int
}

// IdentityKey returns the record's identity: the external ID when present,
// then the link, then the title.
func (p *PaperRecord) IdentityKey() IdentityKey {
	switch {
	case strings.TrimSpace(p.ExternalID) != "":
		return IdentityKey{Source: p.Source, Kind: IdentityKindExternalID, Value: strings.TrimSpace(p.ExternalID)}
	case strings.TrimSpace(p.Link) != "":
		return IdentityKey{Source: p.Source, Kind: IdentityKindLink, Value: strings.TrimSpace(p.Link)}
	default:
		return IdentityKey{Source: p.Source, Kind: IdentityKindTitle, Value: NormalizeTitle(p.Title)}
	}
}

// LookupKeys returns every key under which an existing record may match this
// one. Providers without an external ID match on link and title independently.
func (p *PaperRecord) LookupKeys() []IdentityKey {
	if id := strings.TrimSpace(p.ExternalID); id != "" {
		return []IdentityKey{{Source: p.Source, Kind: IdentityKindExternalID, Value: id}}
	}

	keys := make([]IdentityKey, 0, 2)
	if link := strings.TrimSpace(p.Link); link != "" {
		keys = append(keys, IdentityKey{Source: p.Source, Kind: IdentityKindLink, Value: link})
	}
	if title := NormalizeTitle(p.Title); title != "" {
		keys = append(keys, IdentityKey{Source: p.Source, Kind: IdentityKindTitle, Value: title})
	}
	return keys
}

// MutableFieldsEqual reports whether the fields a merge may change are the
// same on both records: title, abstract, authors, link and updated.
func (p *PaperRecord) MutableFieldsEqual(other *PaperRecord) bool {
	if other == nil {
		return false
	}
	if p.Title != other.Title || p.Abstract != other.Abstract || p.Link != other.Link {
		return false
	}
	if len(p.Authors) != len(other.Authors) {
		return false
	}
	for i := range p.Authors {
		if p.Authors[i] != other.Authors[i] {
			return false
		}
	}
	return timesEqual(p.Updated, other.Updated)
}

// ApplyChanges copies the mutable fields from incoming and stamps LastUpdated.
// FetchTimestamp and ID are left untouched.
func (p *PaperRecord) ApplyChanges(incoming *PaperRecord, now time.Time) {
	p.Title = incoming.Title
	p.Abstract = incoming.Abstract
	p.Authors = append([]string(nil), incoming.Authors...)
	p.Link = incoming.Link
	p.Updated = incoming.Updated
	p.LastUpdated = now
}

// Clone returns a deep copy of the record.
func (p *PaperRecord) Clone() *PaperRecord {
	c := *p
	c.Authors = append([]string(nil), p.Authors...)
	c.Keywords = append([]string(nil), p.Keywords...)
	if p.Published != nil {
		t := *p.Published
		c.Published = &t
	}
	if p.Updated != nil {
		t := *p.Updated
		c.Updated = &t
	}
	if p.CitationCount != nil {
		n := *p.CitationCount
		c.CitationCount = &n
	}
	return &c
}

// NormalizeKeywords trims, deduplicates and sorts keywords so they behave as a set.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// NormalizeTitle lowercases and collapses whitespace for title matching.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// NormalizeWhitespace trims and collapses runs of whitespace into single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
