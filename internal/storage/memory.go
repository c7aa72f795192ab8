package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"nervesim/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type axonKey struct {
	fascicleID string
	axonID     int
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	fascicles   map[string]model.Fascicle
	records     map[axonKey]model.AxonRecord
	results     map[string]model.FascicleResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.fascicles = make(map[string]model.Fascicle)
	s.records = make(map[axonKey]model.AxonRecord)
	s.results = make(map[string]model.FascicleResult)
	return nil
}

func (s *MemoryStore) SaveFascicle(_ context.Context, fascicle model.Fascicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	fascicle.VersionedRecord = CurrentVersion()
	fascicle.Axons = append([]model.Axon(nil), fascicle.Axons...)
	s.fascicles[fascicle.ID] = fascicle
	return nil
}

func (s *MemoryStore) GetFascicle(_ context.Context, id string) (model.Fascicle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fascicle, ok := s.fascicles[id]
	return fascicle, ok, nil
}

func (s *MemoryStore) ListFascicles(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.fascicles))
	for id := range s.fascicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveAxonRecord(_ context.Context, record model.AxonRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	record.VersionedRecord = CurrentVersion()
	s.records[axonKey{record.FascicleID, record.Result.ID}] = record
	return nil
}

func (s *MemoryStore) GetAxonRecord(_ context.Context, fascicleID string, axonID int) (model.AxonRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[axonKey{fascicleID, axonID}]
	return record, ok, nil
}

func (s *MemoryStore) ListAxonRecords(_ context.Context, fascicleID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int
	for key := range s.records {
		if key.fascicleID == fascicleID {
			ids = append(ids, key.axonID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result model.FascicleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	result.VersionedRecord = CurrentVersion()
	axons := make(map[int]model.AxonResult, len(result.Axons))
	for id, axon := range result.Axons {
		axons[id] = axon
	}
	result.Axons = axons
	s.results[result.FascicleID] = result
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, fascicleID string) (model.FascicleResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[fascicleID]
	return result, ok, nil
}
