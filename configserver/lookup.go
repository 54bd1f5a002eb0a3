package configserver

// Specific finds a specific document by id, then by host, then by url. The
// id lookup falls through to the scan when it misses. Empty criteria are
// ignored.
func (s *Store) Specific(id, host, rawURL string) (Document, bool) {
	if id != "" {
		if doc, err := s.Get(FamilySpecific, id); err == nil {
			return doc, true
		}
	}
	for _, doc := range s.List(FamilySpecific) {
		if host != "" {
			if _, ok := doc.Datasource("hosts")[host]; ok {
				return doc, true
			}
		}
		if rawURL != "" {
			if _, ok := doc.Datasource("urls")[rawURL]; ok {
				return doc, true
			}
		}
	}
	return nil, false
}

// Resolution is the answer of a pages lookup.
type Resolution struct {
	Config       Document `json:"config"`
	MatchedBy    string   `json:"matched_by"`
	MatchedValue string   `json:"matched_value"`
	ConfigRef    any      `json:"config_ref"`
}

// ResolvePages scans pages documents in file order and returns the first
// one whose datasource names page, url or host. Within a document page wins
// over url, and url over host.
func (s *Store) ResolvePages(host, rawURL, page string) (*Resolution, bool) {
	criteria := []struct{ key, by, value string }{
		{"pages", "page", page},
		{"urls", "url", rawURL},
		{"hosts", "host", host},
	}
	for _, doc := range s.List(FamilyPages) {
		for _, c := range criteria {
			if c.value == "" {
				continue
			}
			if ref, ok := doc.Datasource(c.key)[c.value]; ok {
				return &Resolution{Config: doc, MatchedBy: c.by, MatchedValue: c.value, ConfigRef: ref}, true
			}
		}
	}
	return nil, false
}
