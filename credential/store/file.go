package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/BaSui01/credpool/credential"
)

// FileStore 把用量与状态写成两个 JSON 文件
type FileStore struct {
	usagePath  string
	statusPath string
	logger     *zap.Logger
	mu         sync.Mutex
}

var _ credential.Store = (*FileStore)(nil)

// NewFileStore 创建文件后端，目录不存在时自动创建
func NewFileStore(usagePath, statusPath string, logger *zap.Logger) (*FileStore, error) {
	if usagePath == "" || statusPath == "" {
		return nil, fmt.Errorf("usage and status file paths are required")
	}
	if usagePath == statusPath {
		return nil, fmt.Errorf("usage and status files must differ: %s", usagePath)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, p := range []string{usagePath, statusPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return &FileStore{
		usagePath:  usagePath,
		statusPath: statusPath,
		logger:     logger.With(zap.String("component", "file_store")),
	}, nil
}

// Load 文件不存在时返回空快照
func (s *FileStore) Load(ctx context.Context) (*credential.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := credential.NewSnapshot()
	if err := readJSON(s.usagePath, &snap.Usage); err != nil {
		return nil, err
	}
	if err := readJSON(s.statusPath, &snap.Status); err != nil {
		return nil, err
	}
	return snap.Normalize(), nil
}

// Save 先写用量再写状态，每个文件都是临时文件 + rename
func (s *FileStore) Save(ctx context.Context, snap *credential.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.usagePath, snap.Usage); err != nil {
		return err
	}
	return writeJSON(s.statusPath, snap.Status)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // rename 成功后为空操作

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
