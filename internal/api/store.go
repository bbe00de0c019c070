package api

import "sync"

// defaultStoreLimit bounds how many translation objects stay resident.
const defaultStoreLimit = 256

// TranslationStore keeps recently served translation objects in memory
// so they can be fetched and deleted by id.
type TranslationStore struct {
	mu    sync.Mutex
	limit int
	byID  map[string]TranslationObject
	order []string
}

func NewTranslationStore() *TranslationStore {
	return &TranslationStore{
		limit: defaultStoreLimit,
		byID:  make(map[string]TranslationObject),
	}
}

// Save retains obj, evicting the oldest entries once the limit is hit.
func (s *TranslationStore) Save(obj TranslationObject) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[obj.ID]; !ok {
		s.order = append(s.order, obj.ID)
	}
	s.byID[obj.ID] = obj
	for len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
}

func (s *TranslationStore) Get(id string) (TranslationObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.byID[id]
	return obj, ok
}

func (s *TranslationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, got := range s.order {
		if got == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *TranslationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
