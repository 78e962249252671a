package surfaced

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one newline-delimited file per identity. Appends use
// O_APPEND so that several processes writing the same file union their ids.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create surfaced dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(identity string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, identity)
	return filepath.Join(f.dir, "surfaced-"+safe+".ids")
}

func (f *FileStore) Load(ctx context.Context, identity string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path(identity))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open surfaced file: %w", err)
	}
	defer file.Close()

	seen := make(map[string]struct{})
	var ids []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read surfaced file: %w", err)
	}
	return ids, nil
}

func (f *FileStore) Append(ctx context.Context, identity string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path(identity), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open surfaced file: %w", err)
	}
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if _, err := file.WriteString(b.String()); err != nil {
		file.Close()
		return fmt.Errorf("append surfaced ids: %w", err)
	}
	return file.Close()
}

func (f *FileStore) Reset(ctx context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(identity))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reset surfaced file: %w", err)
	}
	return nil
}
