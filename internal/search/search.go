// Package search provides the optional Meilisearch index for form titles.
// When the index is unconfigured or unhealthy, callers fall back to the SQL
// ILIKE filter in the store.
package search

// FormRecord is the data indexed for one form.
type FormRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
	CreatedAt   int64  `json:"createdAt"`
}

// Query describes a form search request. An empty OwnerID means all owners.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
	Offset  int
}
