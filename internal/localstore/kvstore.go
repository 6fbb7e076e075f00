// Package localstore はローカルファイルに永続化する文字列キー・値ストアを提供する。
// ブラウザのローカルストレージと同じく、キー単位の読み書きのみを扱う。
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrKeyNotFound はキーが存在しない場合に返す。
	ErrKeyNotFound = errors.New("key not found")
	// ErrCorruptFile はストアファイルがJSONとして読めない場合に返す。
	ErrCorruptFile = errors.New("corrupt store file")
)

// Store はキー・値ストアのインターフェース。
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// entry はファイル上の1エントリ。
type entry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// file はディスク上のJSONのルート構造。
type file struct {
	Entries map[string]entry `json:"entries"`
}

// KVStore はJSONファイルを使ったStore実装。
// プロセス内はmutex、プロセス間はflockで排他する。
// 書き込みは一時ファイルからのrenameで置き換える。
type KVStore struct {
	path string
	mu   sync.RWMutex
}

// NewKVStore は指定パスのKVStoreを生成する。ファイルは最初の書き込みで作られる。
func NewKVStore(path string) *KVStore {
	return &KVStore{path: path}
}

// Get はキーの値を返す。存在しない場合はErrKeyNotFoundを返す。
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		value string
		found bool
	)
	err := s.withFileLock(syscall.LOCK_SH, func() error {
		f, err := s.load()
		if err != nil {
			return err
		}
		e, ok := f.Entries[key]
		value, found = e.Value, ok
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Set はキーの値を無条件に上書きする。
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(syscall.LOCK_EX, func() error {
		f, err := s.load()
		if err != nil {
			return err
		}
		f.Entries[key] = entry{Value: value, UpdatedAt: time.Now()}
		return s.save(f)
	})
}

// Delete はキーを削除する。存在しない場合はErrKeyNotFoundを返す。
func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notFound := false
	err := s.withFileLock(syscall.LOCK_EX, func() error {
		f, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := f.Entries[key]; !ok {
			notFound = true
			return nil
		}
		delete(f.Entries, key)
		return s.save(f)
	})
	if err != nil {
		return err
	}
	if notFound {
		return ErrKeyNotFound
	}
	return nil
}

// withFileLock はロックファイルにflockを取得してfnを実行する。
func (s *KVStore) withFileLock(lockType int, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	lf, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lf.Close()

	if err := syscall.Flock(int(lf.Fd()), lockType); err != nil {
		return fmt.Errorf("failed to acquire file lock: %w", err)
	}
	defer syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)

	return fn()
}

// load はストアファイルを読み込む。ファイルがない・空の場合は空のストアを返す。
func (s *KVStore) load() (file, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return file{Entries: map[string]entry{}}, nil
	}
	if err != nil {
		return file{}, fmt.Errorf("failed to read store file: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return file{}, fmt.Errorf("%w: %s: %v", ErrCorruptFile, s.path, err)
	}
	if f.Entries == nil {
		f.Entries = map[string]entry{}
	}
	return f, nil
}

// save はストアファイルをアトミックに書き込む。
func (s *KVStore) save(f file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*KVStore)(nil)
