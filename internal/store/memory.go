package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pavelanni/ecd/internal/model"
)

type memDoc struct {
	seq  int64
	body []byte
}

type memSession struct {
	seq int64
	rec sessionRecord
}

type memoryBackend struct {
	mu       sync.Mutex
	seq      int64
	docs     map[string]map[string]memDoc
	sessions map[string]memSession
}

// NewMemory returns a Store that keeps everything in process memory.
func NewMemory(opts ...Option) *Store {
	return newStore(&memoryBackend{
		docs:     make(map[string]map[string]memDoc),
		sessions: make(map[string]memSession),
	}, opts...)
}

func (m *memoryBackend) close() error { return nil }

func (m *memoryBackend) putDoc(_ context.Context, kind, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.docs[kind]
	if !ok {
		byID = make(map[string]memDoc)
		m.docs[kind] = byID
	}
	d, exists := byID[id]
	if !exists {
		m.seq++
		d.seq = m.seq
	}
	d.body = append([]byte(nil), body...)
	byID[id] = d
	return nil
}

func (m *memoryBackend) getDoc(_ context.Context, kind, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[kind][id]
	if !ok {
		return nil, model.NotFoundf("%s %s", kind, id)
	}
	return append([]byte(nil), d.body...), nil
}

func (m *memoryBackend) listDocs(_ context.Context, kind string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]memDoc, 0, len(m.docs[kind]))
	for _, d := range m.docs[kind] {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].seq < docs[j].seq })
	out := make([][]byte, len(docs))
	for i, d := range docs {
		out[i] = append([]byte(nil), d.body...)
	}
	return out, nil
}

func (m *memoryBackend) deleteDoc(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[kind][id]; !ok {
		return model.NotFoundf("%s %s", kind, id)
	}
	delete(m.docs[kind], id)
	return nil
}

func (m *memoryBackend) insertSession(_ context.Context, rec sessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rec.ID]; ok {
		return model.Conflictf("session %s already exists", rec.ID)
	}
	m.seq++
	rec.Body = append([]byte(nil), rec.Body...)
	m.sessions[rec.ID] = memSession{seq: m.seq, rec: rec}
	return nil
}

func (m *memoryBackend) getSession(_ context.Context, id string) (sessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return sessionRecord{}, model.NotFoundf("session %s", id)
	}
	rec := s.rec
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, nil
}

func (m *memoryBackend) listSessions(_ context.Context, f SessionFilter) ([]sessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []memSession
	for _, s := range m.sessions {
		if f.StudentID != "" && s.rec.StudentID != f.StudentID {
			continue
		}
		if f.Status != "" && s.rec.Status != f.Status {
			continue
		}
		if f.ExcludeStatus != "" && s.rec.Status == f.ExcludeStatus {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	out := make([]sessionRecord, len(matched))
	for i, s := range matched {
		rec := s.rec
		rec.Body = append([]byte(nil), rec.Body...)
		out[i] = rec
	}
	return out, nil
}

func (m *memoryBackend) updateSession(_ context.Context, rec sessionRecord, expect int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[rec.ID]
	if !ok {
		return model.NotFoundf("session %s", rec.ID)
	}
	if s.rec.Version != expect {
		return model.Conflictf("session %s changed since version %d", rec.ID, expect)
	}
	rec.Body = append([]byte(nil), rec.Body...)
	s.rec = rec
	m.sessions[rec.ID] = s
	return nil
}
