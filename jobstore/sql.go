package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/svdflow/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRow 表结构
type jobRow struct {
	ID              string `gorm:"primaryKey;size:64"`
	Title           string `gorm:"size:200;index"`
	Status          string `gorm:"size:16;index"`
	InputLocation   string `gorm:"size:1024"`
	OutputLocation  string `gorm:"size:1024"`
	FailureLocation string `gorm:"size:1024"`
	TimeoutMS       int64
	ExpectedFrames  int
	FPS             int
	Attempts        int
	Error           string `gorm:"type:text"`
	VideoPath       string `gorm:"size:1024"`
	SubmittedAt     time.Time
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

func (jobRow) TableName() string { return "svdflow_jobs" }

func toRow(r *Record) *jobRow {
	return &jobRow{
		ID:              r.ID,
		Title:           r.Title,
		Status:          string(r.Status),
		InputLocation:   r.InputLocation,
		OutputLocation:  r.OutputLocation,
		FailureLocation: r.FailureLocation,
		TimeoutMS:       r.Timeout.Milliseconds(),
		ExpectedFrames:  r.ExpectedFrames,
		FPS:             r.FPS,
		Attempts:        r.Attempts,
		Error:           r.Error,
		VideoPath:       r.VideoPath,
		SubmittedAt:     r.SubmittedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (row *jobRow) record() *Record {
	return &Record{
		ID:              row.ID,
		Title:           row.Title,
		Status:          Status(row.Status),
		InputLocation:   row.InputLocation,
		OutputLocation:  row.OutputLocation,
		FailureLocation: row.FailureLocation,
		Timeout:         time.Duration(row.TimeoutMS) * time.Millisecond,
		ExpectedFrames:  row.ExpectedFrames,
		FPS:             row.FPS,
		Attempts:        row.Attempts,
		Error:           row.Error,
		VideoPath:       row.VideoPath,
		SubmittedAt:     row.SubmittedAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// SQLStore 基于 GORM 的台账，支持 sqlite、postgres、mysql
type SQLStore struct {
	pool *database.PoolManager
	now  func() time.Time
}

// NewSQLStore 建表并返回台账
func NewSQLStore(pool *database.PoolManager) (*SQLStore, error) {
	if err := pool.DB().AutoMigrate(&jobRow{}); err != nil {
		return nil, fmt.Errorf("migrate jobs table: %w", err)
	}
	return &SQLStore{pool: pool, now: time.Now}, nil
}

// Save upsert；已存在的记录保留原 CreatedAt
func (s *SQLStore) Save(ctx context.Context, r *Record) error {
	if err := validate(r); err != nil {
		return err
	}
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if r.CreatedAt.IsZero() {
			var existing jobRow
			err := tx.Select("created_at").Where("id = ?", r.ID).Take(&existing).Error
			switch {
			case err == nil:
				r.CreatedAt = existing.CreatedAt
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}
		touch(r, s.now())
		row := toRow(r)
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(row).Error
	})
}

// Get 读取记录
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var row jobRow
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return row.record(), nil
}

// List 过滤、排序与限制都下推到数据库
func (s *SQLStore) List(ctx context.Context, f Filter) ([]*Record, error) {
	q := s.pool.DB().WithContext(ctx).Model(&jobRow{})
	if f.Title != "" {
		q = q.Where("title = ?", f.Title)
	}
	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, st := range f.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	q = q.Order("created_at DESC").Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []jobRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]*Record, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

// Ping 检查数据库
func (s *SQLStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close 关闭连接池
func (s *SQLStore) Close() error { return s.pool.Close() }
