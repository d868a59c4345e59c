package codestore

import (
	"context"
	"sync"
)

// InMemStore implements Store with an in-process map. Intended for tests and
// single-process deployments; all conditional operations hold the store
// mutex, so they are atomic relative to each other.
type InMemStore struct {
	mutex   sync.RWMutex
	records map[Key]Record
}

// NewInMemStore creates an empty in-memory store.
func NewInMemStore() *InMemStore {
	return &InMemStore{
		records: make(map[Key]Record),
	}
}

func (s *InMemStore) Get(ctx context.Context, key Key) (Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, exists := s.records[key]
	if !exists {
		return Record{}, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *InMemStore) Put(ctx context.Context, key Key, value []byte) (Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record := Record{
		Key:     key,
		Value:   cloneValue(value),
		Version: s.records[key].Version + 1,
	}
	s.records[key] = record
	return cloneRecord(record), nil
}

func (s *InMemStore) PutIfAbsent(ctx context.Context, key Key, value []byte) (Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.records[key]; exists {
		return Record{}, ErrConflict
	}

	record := Record{
		Key:     key,
		Value:   cloneValue(value),
		Version: 1,
	}
	s.records[key] = record
	return cloneRecord(record), nil
}

func (s *InMemStore) CompareAndSwap(ctx context.Context, key Key, value []byte, expectedVersion int64) (Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.records[key]
	if !exists {
		return Record{}, ErrNotFound
	}
	if current.Version != expectedVersion {
		return Record{}, ErrConflict
	}

	record := Record{
		Key:     key,
		Value:   cloneValue(value),
		Version: current.Version + 1,
	}
	s.records[key] = record
	return cloneRecord(record), nil
}

func (s *InMemStore) CompareAndDelete(ctx context.Context, key Key, expectedVersion int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.records[key]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrConflict
	}

	delete(s.records, key)
	return nil
}

func (s *InMemStore) Delete(ctx context.Context, key Key) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.records, key)
	return nil
}

func (s *InMemStore) List(ctx context.Context, identity string, kind Kind) ([]Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var records []Record
	for key, record := range s.records {
		if key.Identity == identity && key.Kind == kind {
			records = append(records, cloneRecord(record))
		}
	}
	return records, nil
}

func (s *InMemStore) DeleteAll(ctx context.Context, identity string, kinds ...Kind) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for key := range s.records {
		if key.Identity != identity {
			continue
		}
		for _, kind := range kinds {
			if key.Kind == kind {
				delete(s.records, key)
				break
			}
		}
	}
	return nil
}

func cloneValue(value []byte) []byte {
	cloned := make([]byte, len(value))
	copy(cloned, value)
	return cloned
}

func cloneRecord(record Record) Record {
	record.Value = cloneValue(record.Value)
	return record
}
