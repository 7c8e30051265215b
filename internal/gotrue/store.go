package gotrue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/aifa/directorio/internal/model"
)

// Store はセッションのローカル永続化のインターフェース。
type Store interface {
	// Load は保存済みセッションを返す。存在しない場合はnilを返す。
	Load() (*model.AuthSession, error)
	// Save はセッションを保存する。
	Save(session *model.AuthSession) error
	// Clear は保存済みセッションを削除する。存在しない場合もエラーにしない。
	Clear() error
}

// FileStore はJSONファイルにセッションを保存するStore。
// 同じファイルを複数のプロセスが共有するため、読み書きはファイルロックで排他する。
// 同一のflock.Flockは再ロックしてもブロックしないので、プロセス内はmuで排他する。
type FileStore struct {
	path string
	mu   sync.RWMutex
	lock *flock.Flock
}

// NewFileStore はFileStoreを生成する。
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Load は保存済みセッションを読み込む。
func (s *FileStore) Load() (*model.AuthSession, error) {
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock session file: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session model.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		// 壊れたファイルは未ログインとして扱う
		return nil, nil
	}
	if session.AccessToken == "" {
		return nil, nil
	}
	return &session, nil
}

// Save はセッションを一時ファイル経由でアトミックに書き込む。
func (s *FileStore) Save(session *model.AuthSession) error {
	if session == nil {
		return s.Clear()
	}
	if err := s.ensureDir(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer s.lock.Unlock()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear は保存済みセッションを削除する。
func (s *FileStore) Clear() error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *FileStore) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return nil
}

// MemoryStore はプロセス内にのみセッションを保持するStore。
type MemoryStore struct {
	mu      sync.Mutex
	session *model.AuthSession
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load は保持しているセッションのコピーを返す。
func (s *MemoryStore) Load() (*model.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

// Save はセッションのコピーを保持する。
func (s *MemoryStore) Save(session *model.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == nil {
		s.session = nil
		return nil
	}
	cp := *session
	s.session = &cp
	return nil
}

// Clear は保持しているセッションを破棄する。
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// compile-time interface check
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
