package search

import "log"

// Service fronts the optional Meilisearch index. A nil or unhealthy index
// disables it and callers use their SQL fallback instead.
type Service struct {
	meili *Meili
}

func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Enabled reports whether indexed search can serve queries right now.
func (s *Service) Enabled() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

func (s *Service) Search(q Query) ([]string, int, error) {
	return s.meili.Search(q)
}

// IndexForm is best-effort: indexing failures are logged, never surfaced, so
// the write path does not depend on search availability.
func (s *Service) IndexForm(record FormRecord) {
	if s == nil || s.meili == nil {
		return
	}
	if err := s.meili.IndexForm(record); err != nil {
		log.Printf("search: index form %s: %v", record.ID, err)
	}
}

// DeleteForm is best-effort, like IndexForm.
func (s *Service) DeleteForm(id string) {
	if s == nil || s.meili == nil {
		return
	}
	if err := s.meili.DeleteForm(id); err != nil {
		log.Printf("search: delete form %s: %v", id, err)
	}
}
