package storage

import (
	"encoding/json"
	"errors"

	"nervesim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is stamped on every record written by this package.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeFascicle(f model.Fascicle) ([]byte, error) {
	f.VersionedRecord = CurrentVersion()
	return json.MarshalIndent(f, "", "  ")
}

func DecodeFascicle(data []byte) (model.Fascicle, error) {
	var fascicle model.Fascicle
	if err := json.Unmarshal(data, &fascicle); err != nil {
		return model.Fascicle{}, err
	}
	if err := checkVersion(fascicle.VersionedRecord); err != nil {
		return model.Fascicle{}, err
	}
	return fascicle, nil
}

func EncodeAxonRecord(r model.AxonRecord) ([]byte, error) {
	r.VersionedRecord = CurrentVersion()
	if r.Record != nil {
		rec := *r.Record
		rec.VersionedRecord = CurrentVersion()
		r.Record = &rec
	}
	return json.Marshal(r)
}

func DecodeAxonRecord(data []byte) (model.AxonRecord, error) {
	var record model.AxonRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.AxonRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.AxonRecord{}, err
	}
	if record.Record != nil {
		if err := checkVersion(record.Record.VersionedRecord); err != nil {
			return model.AxonRecord{}, err
		}
	}
	return record, nil
}

func EncodeResult(r model.FascicleResult) ([]byte, error) {
	r.VersionedRecord = CurrentVersion()
	return json.MarshalIndent(r, "", "  ")
}

func DecodeResult(data []byte) (model.FascicleResult, error) {
	var result model.FascicleResult
	if err := json.Unmarshal(data, &result); err != nil {
		return model.FascicleResult{}, err
	}
	if err := checkVersion(result.VersionedRecord); err != nil {
		return model.FascicleResult{}, err
	}
	if result.Axons == nil {
		result.Axons = make(map[int]model.AxonResult)
	}
	return result, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
