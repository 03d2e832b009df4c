package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "confwatch/pkg/logx"

	"github.com/spf13/afero"
)

const (
	defaultCompactEvery = 200
	defaultCompactBytes = 1 << 20
)

// fileStore keeps the whole namespace in memory and persists it as
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (append-only mutations since the snapshot)
//
// The journal is folded into the snapshot every CompactEvery writes, whenever
// it outgrows max(CompactBytes, snapshot size), and on Close.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu sync.Mutex

	snapshotPath string
	journal      afero.File
	data         map[string]string

	writes       int
	compactEvery int

	journalBytes  int64
	snapshotBytes int64
	compactBytes  int64
}

type journalRecord struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (KV, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, wrap("open", "", errors.New("storage.path is required for file driver"))
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap("open", "", err)
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	data := map[string]string{}
	if err := loadSnapshot(fs, snapPath, data); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; starting from journal", logx.Err(err))
	}
	n, err := replayJournal(fs, journalPath, data)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay incomplete", logx.Err(err))
	}

	jf, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, wrap("open", "", err)
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	maxBytes := cfg.CompactBytes
	if maxBytes <= 0 {
		maxBytes = defaultCompactBytes
	}
	var jsize, ssize int64
	if fi, err := jf.Stat(); err == nil {
		jsize = fi.Size()
	}
	if fi, err := fs.Stat(snapPath); err == nil {
		ssize = fi.Size()
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("keys", len(data)), logx.Int("replayed", n))
	return &fileStore{
		log:          log,
		fs:           fs,
		snapshotPath: snapPath,
		journal:      jf,
		data:         data,
		compactEvery: every,

		journalBytes:  jsize,
		snapshotBytes: ssize,
		compactBytes:  maxBytes,
	}, nil
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, false, wrap("get", key, ErrClosed)
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (s *fileStore) Set(ctx context.Context, key string, value []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return wrap("set", key, s.appendLocked(journalRecord{Op: "set", Key: key, Value: string(value)}))
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok && s.journal != nil {
		return nil
	}
	return wrap("remove", key, s.appendLocked(journalRecord{Op: "del", Key: key}))
}

func (s *fileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, wrap("keys", prefix, ErrClosed)
	}
	return sortedKeys(s.data, prefix), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err1 := s.compactLocked()
	err2 := s.journal.Close()
	s.journal = nil
	if err1 != nil {
		return wrap("close", "", err1)
	}
	return wrap("close", "", err2)
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	n, err := s.journal.Write(append(b, '\n'))
	s.journalBytes += int64(n)
	if err != nil {
		return err
	}
	apply(s.data, r)

	s.writes++
	if s.writes%s.compactEvery == 0 || s.journalBytes > max(s.compactBytes, s.snapshotBytes) {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	b, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	s.snapshotBytes = int64(len(b))
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.journalBytes = 0
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func apply(m map[string]string, r journalRecord) {
	switch r.Op {
	case "set":
		m[r.Key] = r.Value
	case "del":
		delete(m, r.Key)
	}
}

func loadSnapshot(fs afero.Fs, path string, out map[string]string) error {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(fs afero.Fs, path string, out map[string]string) (int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		apply(out, r)
		n++
	}
	return n, sc.Err()
}
