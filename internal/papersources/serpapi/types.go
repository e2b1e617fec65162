package serpapi

// searchResponse is the subset of the SerpAPI Google Scholar response the
// adapter reads.
type searchResponse struct {
	Error             string          `json:"error,omitempty"`
	OrganicResults    []organicResult `json:"organic_results"`
	SerpAPIPagination *pagination     `json:"serpapi_pagination,omitempty"`
	SearchMetadata    *searchMetadata `json:"search_metadata,omitempty"`
}

type organicResult struct {
	Position        int              `json:"position"`
	Title           string           `json:"title"`
	ResultID        string           `json:"result_id"`
	Link            string           `json:"link"`
	Snippet         string           `json:"snippet"`
	PublicationInfo *publicationInfo `json:"publication_info,omitempty"`
	InlineLinks     *inlineLinks     `json:"inline_links,omitempty"`
	CitedBy         *citedBy         `json:"cited_by,omitempty"`
}

// citationCount reads cited_by.total from either place SerpAPI has used.
func (r *organicResult) citationCount() *int {
	if r.InlineLinks != nil && r.InlineLinks.CitedBy != nil && r.InlineLinks.CitedBy.Total != nil {
		return r.InlineLinks.CitedBy.Total
	}
	if r.CitedBy != nil {
		return r.CitedBy.Total
	}
	return nil
}

type publicationInfo struct {
	Summary string `json:"summary"`
}

type inlineLinks struct {
	CitedBy *citedBy `json:"cited_by,omitempty"`
}

type citedBy struct {
	Total *int `json:"total,omitempty"`
}

type pagination struct {
	Current       int    `json:"current"`
	Next          string `json:"next,omitempty"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

type searchMetadata struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
