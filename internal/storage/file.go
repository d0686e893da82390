package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "bgrefresh/pkg/logx"
)

// fileStore is a dependency-free backend.
//
// Files:
//   - <prefix>.runs.jsonl          (append-only JSON Lines)
//   - <prefix>.notifications.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	runs      *os.File
	notes     *os.File
	runsPath  string
	notesPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		runsPath:  prefix + ".runs.jsonl",
		notesPath: prefix + ".notifications.jsonl",
	}
	var err error
	if s.runs, err = openAppend(s.runsPath); err != nil {
		return nil, err
	}
	if s.notes, err = openAppend(s.notesPath); err != nil {
		_ = s.runs.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return s, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
		s.runs = nil
	}
	if s.notes != nil {
		errs = append(errs, s.notes.Close())
		s.notes = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	return s.append(ctx, func() *os.File { return s.runs }, r)
}

func (s *fileStore) AppendNotification(ctx context.Context, n NotificationRecord) error {
	return s.append(ctx, func() *os.File { return s.notes }, n)
}

func (s *fileStore) append(ctx context.Context, file func() *os.File, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := file()
	if f == nil {
		return ErrClosed
	}
	return json.NewEncoder(f).Encode(v)
}

func (s *fileStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	return readTail[RunRecord](ctx, s, s.runsPath, n)
}

func (s *fileStore) RecentNotifications(ctx context.Context, n int) ([]NotificationRecord, error) {
	return readTail[NotificationRecord](ctx, s, s.notesPath, n)
}

// readTail decodes the last n lines of a JSON Lines file. Corrupt lines
// (e.g. a torn final write) are skipped.
func readTail[T any](ctx context.Context, s *fileStore, path string, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	closed := s.runs == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([][]byte, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := append([]byte(nil), sc.Bytes()...)
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(ring))
	for _, line := range ring {
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			s.log.Warn("skipping corrupt ledger line", logx.String("path", path), logx.Err(err))
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
