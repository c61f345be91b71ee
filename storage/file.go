package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore 以 {root}/{bucket}/{key} 目录树模拟对象存储，用于本地开发
type FileStore struct {
	root   string
	bucket string
	logger *zap.Logger
}

// NewFileStore 创建文件存储，root 不存在时自动创建
func NewFileStore(root, bucket string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &FileStore{
		root:   root,
		bucket: bucket,
		logger: logger.With(zap.String("component", "file_store")),
	}, nil
}

// Bucket 返回写入使用的桶
func (f *FileStore) Bucket() string { return f.bucket }

// Put 写入文件，先写临时文件再 rename
func (f *FileStore) Put(ctx context.Context, key string, data []byte, _ string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	loc := Location{Bucket: f.bucket, Key: key}
	path, err := f.pathFor(loc)
	if err != nil {
		return Location{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Location{}, fmt.Errorf("put %s: %w", loc, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Location{}, fmt.Errorf("put %s: %w", loc, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Location{}, fmt.Errorf("put %s: %w", loc, err)
	}

	f.logger.Debug("object written", zap.String("location", loc.String()), zap.String("path", path))
	return loc, nil
}

// Get 读取文件；文件不存在映射为 ErrNotFound
func (f *FileStore) Get(ctx context.Context, loc Location) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.pathFor(loc)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("get %s: %w", loc, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	return data, nil
}

// pathFor 拒绝逃逸出 root 的 key
func (f *FileStore) pathFor(loc Location) (string, error) {
	if loc.Bucket == "" || loc.Key == "" {
		return "", fmt.Errorf("invalid location %q", loc.String())
	}
	rel := filepath.Join(loc.Bucket, filepath.FromSlash(loc.Key))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("location %q escapes store root", loc.String())
	}
	return filepath.Join(f.root, rel), nil
}
