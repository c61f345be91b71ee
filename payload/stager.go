package payload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BaSui01/svdflow/types"
)

// Stager 把请求按标题落盘到暂存目录，供后续重新提交
type Stager struct {
	dir string
}

// NewStager 创建暂存器
func NewStager(dir string) *Stager {
	return &Stager{dir: dir}
}

// Path 返回标题对应的暂存文件路径
func (s *Stager) Path(title string) string {
	return filepath.Join(s.dir, title+".json")
}

// Stage 写入 {dir}/{title}.json 并返回路径与序列化内容
func (s *Stager) Stage(req *Request) (string, []byte, error) {
	if err := ValidateTitle(req.MovieTitle); err != nil {
		return "", nil, types.NewError(types.ErrInvalidRequest, err.Error())
	}
	data, err := req.Marshal()
	if err != nil {
		return "", nil, fmt.Errorf("marshal request: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	path := s.Path(req.MovieTitle)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("write staged request: %w", err)
	}
	return path, data, nil
}

// Load 读取已暂存的请求
func (s *Stager) Load(title string) (*Request, error) {
	data, err := os.ReadFile(s.Path(title))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.Errorf(types.ErrNotFound, "no staged request for %q", title)
		}
		return nil, fmt.Errorf("read staged request: %w", err)
	}
	return Unmarshal(data)
}
