package subscription

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/host/hosttest"
	"confwatch/internal/storage"
	logx "confwatch/pkg/logx"
)

func newStore(kv storage.KV) *Store {
	return New(kv, hosttest.NewClock(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)), nil, logx.Nop())
}

var iclr = conference.Subscription{ID: "iclr-2025", Title: "ICLR", Year: 2025, Deadline: "2024-09-27", Date: "2025-05-01"}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(storage.NewMemory())
	for i := 0; i < 2; i++ {
		if err := s.Add(ctx, iclr); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if got := s.List(ctx); len(got) != 1 || got[0] != iclr {
		t.Fatalf("List = %+v", got)
	}
}

func TestAddReplacesInPlace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(storage.NewMemory())
	dac := conference.Subscription{ID: "DAC-2025", Title: "DAC", Year: 2025}
	_ = s.Add(ctx, iclr)
	_ = s.Add(ctx, dac)

	moved := iclr
	moved.Deadline = "2024-10-02"
	_ = s.Add(ctx, moved)

	got := s.List(ctx)
	want := []conference.Subscription{moved, dac}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %+v, want %+v", got, want)
	}
}

func TestRoundTripLeavesEmptySet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(storage.NewMemory())
	before := s.List(ctx)

	_ = s.Add(ctx, iclr)
	if !s.Has(ctx, iclr.ID) {
		t.Fatal("Has after Add = false")
	}
	if err := s.Remove(ctx, iclr.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, iclr.ID); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
	if after := s.List(ctx); !reflect.DeepEqual(before, after) {
		t.Fatalf("before=%v after=%v", before, after)
	}
	if s.Has(ctx, iclr.ID) {
		t.Fatal("Has after Remove = true")
	}
}

func TestMalformedBlobDegradesToEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Set(ctx, storage.KeySubscriptions, []byte(`{"not":"a list"}`))
	s := newStore(kv)
	if got := s.List(ctx); len(got) != 0 {
		t.Fatalf("List = %+v", got)
	}
	if err := s.Add(ctx, iclr); err != nil {
		t.Fatalf("Add over malformed blob: %v", err)
	}
	if got := s.List(ctx); len(got) != 1 {
		t.Fatalf("List after Add = %+v", got)
	}
}

func TestLastUpdatedWritten(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(storage.NewMemory())
	if _, ok := s.LastUpdated(ctx); ok {
		t.Fatal("LastUpdated on empty store")
	}
	_ = s.Add(ctx, iclr)
	got, ok := s.LastUpdated(ctx)
	if !ok || !got.Equal(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("LastUpdated = %v %v", got, ok)
	}
}

type failingKV struct{ storage.KV }

func (failingKV) Set(context.Context, string, []byte) error {
	return &storage.Error{Op: "set", Key: storage.KeySubscriptions, Err: errors.New("disk full")}
}

func TestAddSurfacesWriteFailure(t *testing.T) {
	t.Parallel()
	s := newStore(failingKV{storage.NewMemory()})
	err := s.Add(context.Background(), iclr)
	if !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
}
