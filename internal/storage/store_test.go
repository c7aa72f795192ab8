package storage

import (
	"context"
	"reflect"
	"testing"

	"nervesim/internal/model"
)

func sampleFascicle(id string) model.Fascicle {
	return model.Fascicle{
		ID:            id,
		Contour:       model.CircleContour(100, model.Point{}),
		TargetFVF:     0.5,
		AxonLength:    10000,
		GravityCenter: model.Point{Y: 1, Z: -1},
		Axons: []model.Axon{
			{ID: 0, Diameter: 6, Myelinated: true, Y: 3, Z: 4, Length: 10000, NodeShift: 0.1},
			{ID: 1, Diameter: 1, Y: -5, Z: 2, Length: 10000},
		},
	}
}

// exerciseStore runs the behaviour every backend has to share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, ok, err := store.GetFascicle(ctx, "absent"); err != nil || ok {
		t.Fatalf("expected missing fascicle, got ok=%v err=%v", ok, err)
	}

	fascicle := sampleFascicle("f1")
	if err := store.SaveFascicle(ctx, fascicle); err != nil {
		t.Fatalf("save fascicle: %v", err)
	}
	if err := store.SaveFascicle(ctx, sampleFascicle("f0")); err != nil {
		t.Fatalf("save fascicle: %v", err)
	}
	loaded, ok, err := store.GetFascicle(ctx, "f1")
	if err != nil || !ok {
		t.Fatalf("get fascicle: ok=%v err=%v", ok, err)
	}
	if loaded.SchemaVersion != CurrentSchemaVersion || !reflect.DeepEqual(loaded.Axons, fascicle.Axons) || loaded.Contour.Diameter != 100 {
		t.Fatalf("unexpected fascicle: %+v", loaded)
	}
	ids, err := store.ListFascicles(ctx)
	if err != nil {
		t.Fatalf("list fascicles: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"f0", "f1"}) {
		t.Fatalf("unexpected fascicle ids: %v", ids)
	}

	for _, id := range []int{12, 2, 7} {
		record := model.AxonRecord{
			FascicleID: "f1",
			Result:     model.AxonResult{ID: id, Diameter: 6, Recruited: id == 7, Block: model.NotBlocked},
		}
		if err := store.SaveAxonRecord(ctx, record); err != nil {
			t.Fatalf("save axon %d: %v", id, err)
		}
	}
	if err := store.SaveAxonRecord(ctx, model.AxonRecord{FascicleID: "f0", Result: model.AxonResult{ID: 99}}); err != nil {
		t.Fatalf("save foreign axon: %v", err)
	}
	axonIDs, err := store.ListAxonRecords(ctx, "f1")
	if err != nil {
		t.Fatalf("list axons: %v", err)
	}
	if !reflect.DeepEqual(axonIDs, []int{2, 7, 12}) {
		t.Fatalf("unexpected axon ids: %v", axonIDs)
	}
	record, ok, err := store.GetAxonRecord(ctx, "f1", 7)
	if err != nil || !ok {
		t.Fatalf("get axon: ok=%v err=%v", ok, err)
	}
	if !record.Result.Recruited || record.Result.Block != model.NotBlocked {
		t.Fatalf("unexpected axon record: %+v", record)
	}
	if _, ok, err := store.GetAxonRecord(ctx, "f1", 3); err != nil || ok {
		t.Fatalf("expected missing axon, got ok=%v err=%v", ok, err)
	}

	result := model.NewFascicleResult("f1")
	result.Requested = []int{2, 7, 12, 13}
	result.Axons[7] = model.AxonResult{ID: 7, Myelinated: true, Recruited: true}
	result.Missing = []int{13}
	result.Statuses = []model.WorkerStatus{model.StatusSuccess, model.StatusError}
	result.Tally()
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("save result: %v", err)
	}
	loadedResult, ok, err := store.GetResult(ctx, "f1")
	if err != nil || !ok {
		t.Fatalf("get result: ok=%v err=%v", ok, err)
	}
	if loadedResult.Counts != result.Counts || !reflect.DeepEqual(loadedResult.Missing, []int{13}) || !loadedResult.Axons[7].Recruited {
		t.Fatalf("unexpected result: %+v", loadedResult)
	}
	if !reflect.DeepEqual(loadedResult.Statuses, result.Statuses) {
		t.Fatalf("unexpected statuses: %v", loadedResult.Statuses)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveFascicle(context.Background(), sampleFascicle("f")); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewStoreDir(t *testing.T) {
	if _, err := NewStore("dir", ""); err == nil {
		t.Fatal("expected error without a root directory")
	}
	store, err := NewStore("dir", t.TempDir())
	if err != nil {
		t.Fatalf("new dir store: %v", err)
	}
	if _, ok := store.(*DirStore); !ok {
		t.Fatalf("expected *DirStore, got %T", store)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}
