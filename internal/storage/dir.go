package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"nervesim/internal/model"
)

// File names of the on-disk layout, one directory per fascicle.
const (
	FascicleConfigFile = "00_Fascicle_config.json"
	ResultFile         = "fascicle_result.json"
	axonRecordPrefix   = "sim_axon_"
	axonRecordSuffix   = ".json"
)

// DirStore keeps every document as a JSON file below root:
//
//	<root>/<fascicle id>/00_Fascicle_config.json
//	<root>/<fascicle id>/sim_axon_<id>.json
//	<root>/<fascicle id>/fascicle_result.json
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) Init(_ context.Context) error {
	if s.root == "" {
		return errors.New("directory store root is required")
	}
	return os.MkdirAll(s.root, 0o755)
}

// AxonRecordFile is the file name of the record of one axon.
func AxonRecordFile(axonID int) string {
	return axonRecordPrefix + strconv.Itoa(axonID) + axonRecordSuffix
}

func (s *DirStore) fasciclePath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid fascicle id %q", id)
	}
	return filepath.Join(s.root, id), nil
}

func (s *DirStore) SaveFascicle(_ context.Context, fascicle model.Fascicle) error {
	dir, err := s.fasciclePath(fascicle.ID)
	if err != nil {
		return err
	}
	payload, err := EncodeFascicle(fascicle)
	if err != nil {
		return err
	}
	return writeFile(dir, FascicleConfigFile, payload)
}

func (s *DirStore) GetFascicle(_ context.Context, id string) (model.Fascicle, bool, error) {
	dir, err := s.fasciclePath(id)
	if err != nil {
		return model.Fascicle{}, false, err
	}
	payload, ok, err := readFile(filepath.Join(dir, FascicleConfigFile))
	if err != nil || !ok {
		return model.Fascicle{}, ok, err
	}
	fascicle, err := DecodeFascicle(payload)
	if err != nil {
		return model.Fascicle{}, false, fmt.Errorf("decode fascicle %s: %w", id, err)
	}
	return fascicle, true, nil
}

func (s *DirStore) ListFascicles(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), FascicleConfigFile)); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *DirStore) SaveAxonRecord(_ context.Context, record model.AxonRecord) error {
	dir, err := s.fasciclePath(record.FascicleID)
	if err != nil {
		return err
	}
	payload, err := EncodeAxonRecord(record)
	if err != nil {
		return err
	}
	return writeFile(dir, AxonRecordFile(record.Result.ID), payload)
}

func (s *DirStore) GetAxonRecord(_ context.Context, fascicleID string, axonID int) (model.AxonRecord, bool, error) {
	dir, err := s.fasciclePath(fascicleID)
	if err != nil {
		return model.AxonRecord{}, false, err
	}
	payload, ok, err := readFile(filepath.Join(dir, AxonRecordFile(axonID)))
	if err != nil || !ok {
		return model.AxonRecord{}, ok, err
	}
	record, err := DecodeAxonRecord(payload)
	if err != nil {
		return model.AxonRecord{}, false, fmt.Errorf("decode axon %d of %s: %w", axonID, fascicleID, err)
	}
	return record, true, nil
}

func (s *DirStore) ListAxonRecords(_ context.Context, fascicleID string) ([]int, error) {
	dir, err := s.fasciclePath(fascicleID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, axonRecordPrefix) || !strings.HasSuffix(name, axonRecordSuffix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, axonRecordPrefix), axonRecordSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *DirStore) SaveResult(_ context.Context, result model.FascicleResult) error {
	dir, err := s.fasciclePath(result.FascicleID)
	if err != nil {
		return err
	}
	payload, err := EncodeResult(result)
	if err != nil {
		return err
	}
	return writeFile(dir, ResultFile, payload)
}

func (s *DirStore) GetResult(_ context.Context, fascicleID string) (model.FascicleResult, bool, error) {
	dir, err := s.fasciclePath(fascicleID)
	if err != nil {
		return model.FascicleResult{}, false, err
	}
	payload, ok, err := readFile(filepath.Join(dir, ResultFile))
	if err != nil || !ok {
		return model.FascicleResult{}, ok, err
	}
	result, err := DecodeResult(payload)
	if err != nil {
		return model.FascicleResult{}, false, fmt.Errorf("decode result %s: %w", fascicleID, err)
	}
	return result, true, nil
}

// writeFile replaces dir/name through a rename so readers never observe a
// partially written document.
func writeFile(dir, name string, payload []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

func readFile(path string) ([]byte, bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}
