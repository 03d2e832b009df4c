package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	logx "confwatch/pkg/logx"

	"github.com/spf13/afero"
)

func openAll(t *testing.T) map[string]KV {
	t.Helper()
	out := map[string]KV{}

	out["memory"] = NewMemory()

	fileKV, err := Open(Config{Driver: "file", Path: "/data/state.json", Fs: afero.NewMemMapFs()}, logx.Nop())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	out["file"] = fileKV

	sqlKV, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	out["sqlite"] = sqlKV

	t.Cleanup(func() {
		for _, kv := range out {
			_ = kv.Close()
		}
	})
	return out
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := kv.Get(ctx, "missing"); ok || err != nil {
				t.Fatalf("Get(missing) ok=%v err=%v", ok, err)
			}
			if err := kv.Set(ctx, "subscriptions", []byte(`[{"id":"a"}]`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := kv.Set(ctx, KeyStoragePath, []byte("/srv/papers")); err != nil {
				t.Fatalf("Set raw: %v", err)
			}
			got, ok, err := kv.Get(ctx, "subscriptions")
			if err != nil || !ok || string(got) != `[{"id":"a"}]` {
				t.Fatalf("Get = %q ok=%v err=%v", got, ok, err)
			}
			got, _, _ = kv.Get(ctx, KeyStoragePath)
			if string(got) != "/srv/papers" {
				t.Fatalf("raw value = %q", got)
			}

			for i := 0; i < 3; i++ {
				_ = kv.Set(ctx, fmt.Sprintf("%sk%d", PrefixDedup, i), []byte("1"))
			}
			keys, err := kv.Keys(ctx, PrefixDedup)
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			want := []string{PrefixDedup + "k0", PrefixDedup + "k1", PrefixDedup + "k2"}
			if !reflect.DeepEqual(keys, want) {
				t.Fatalf("Keys = %v, want %v", keys, want)
			}

			if err := kv.Remove(ctx, "subscriptions"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := kv.Remove(ctx, "subscriptions"); err != nil {
				t.Fatalf("Remove absent: %v", err)
			}
			if _, ok, _ := kv.Get(ctx, "subscriptions"); ok {
				t.Fatalf("key still present after Remove")
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	cfg := Config{Driver: "file", Path: "/var/lib/confwatch/state.json", Fs: fs, CompactEvery: 2}

	kv, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = kv.Set(ctx, "a", []byte("1"))
	_ = kv.Set(ctx, "b", []byte("2")) // triggers compaction
	_ = kv.Set(ctx, "c", []byte("3")) // journal only
	_ = kv.Remove(ctx, "a")

	// Simulate a crash: reopen without Close so the journal must be replayed.
	kv2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv2.Close()

	keys, _ := kv2.Keys(ctx, "")
	if !reflect.DeepEqual(keys, []string{"b", "c"}) {
		t.Fatalf("keys after reopen = %v", keys)
	}
	if ok, _ := afero.Exists(fs, "/var/lib/confwatch/state.snapshot.json"); !ok {
		t.Fatalf("snapshot not written")
	}
}

func TestFileStoreCompactsLargeJournal(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	cfg := Config{Driver: "file", Path: "/data/state.json", Fs: fs, CompactEvery: 1000, CompactBytes: 4096}
	kv, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer kv.Close()

	// Each refresh rewrites the whole cache blob.
	blob := []byte(`{"conferences":[` + strings.Repeat(`{"title":"ISCA"},`, 180) + `{}],"timestamp":1}`)
	for i := 0; i < 20; i++ {
		if err := kv.Set(ctx, KeyConferenceCache, blob); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
		fi, err := fs.Stat("/data/state.journal.jsonl")
		if err != nil {
			t.Fatalf("stat journal: %v", err)
		}
		if limit := int64(3 * len(blob)); fi.Size() > limit {
			t.Fatalf("journal %d bytes after %d writes, limit %d", fi.Size(), i+1, limit)
		}
	}

	kv2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv2.Close()
	if got, ok, _ := kv2.Get(ctx, KeyConferenceCache); !ok || string(got) != string(blob) {
		t.Fatalf("cache blob lost across compaction")
	}
}

func TestClosedStoreErrors(t *testing.T) {
	kv := NewMemory()
	_ = kv.Close()
	err := kv.Set(context.Background(), "k", []byte("v"))
	if !errors.Is(err, ErrStorage) || !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrStorage+ErrClosed", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Op != "set" || se.Key != "k" {
		t.Fatalf("err = %#v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v", err)
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	type entry struct {
		ID string `json:"id"`
	}
	if err := SetJSON(ctx, kv, "x", []entry{{ID: "iclr-2025"}}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got []entry
	ok, err := GetJSON(ctx, kv, "x", &got)
	if !ok || err != nil || len(got) != 1 || got[0].ID != "iclr-2025" {
		t.Fatalf("GetJSON = %v %v %v", got, ok, err)
	}

	_ = kv.Set(ctx, "bad", []byte("{"))
	ok, err = GetJSON(ctx, kv, "bad", &got)
	if !ok || !errors.Is(err, ErrStorage) {
		t.Fatalf("malformed: ok=%v err=%v", ok, err)
	}
}
