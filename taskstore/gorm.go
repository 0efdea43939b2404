package taskstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/taskbridge/types"
)

// GormStore 数据库任务记录存储（sqlite 用于开发/测试，postgres 用于生产）
// 每次状态迁移在单事务内完成单行读-改-写
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建数据库存储并迁移表结构
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&types.TaskRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("store", "gorm_task_record")),
	}, nil
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) Create(ctx context.Context, record *types.TaskRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = record.CreatedAt

	err := s.db.WithContext(ctx).Create(record).Error
	if err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err)) {
		return ErrAlreadyExists
	}
	return err
}

func (s *GormStore) Get(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	var record types.TaskRecord
	err := s.db.WithContext(ctx).First(&record, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *GormStore) GetByWorkflowID(ctx context.Context, workflowID string) (*types.TaskRecord, error) {
	var record types.TaskRecord
	err := s.db.WithContext(ctx).First(&record, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *GormStore) List(ctx context.Context, filter Filter) ([]*types.TaskRecord, error) {
	query := s.db.WithContext(ctx).Model(&types.TaskRecord{}).Order("created_at DESC")

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.TargetAgent != "" {
		query = query.Where("target_agent = ?", filter.TargetAgent)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status IN ?", filter.Status)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []*types.TaskRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *GormStore) AttachHandle(ctx context.Context, taskID string, handle types.WorkflowHandle) error {
	result := s.db.WithContext(ctx).Model(&types.TaskRecord{}).
		Where("task_id = ?", taskID).
		Updates(map[string]any{
			"workflow_id": handle.WorkflowID,
			"run_id":      handle.RunID,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdateProgress(ctx context.Context, taskID string, percent float64, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record types.TaskRecord
		if err := tx.First(&record, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if record.IsTerminal() {
			return ErrIllegalTransition
		}

		return tx.Model(&record).Updates(map[string]any{
			"percent_complete": percent,
			"last_message":     message,
			"updated_at":       time.Now(),
		}).Error
	})
}

func (s *GormStore) Transition(ctx context.Context, taskID string, to types.TaskStatus, mutate func(*types.TaskRecord)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record types.TaskRecord
		if err := tx.First(&record, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := applyTransition(&record, to, mutate); err != nil {
			return err
		}

		s.logger.Debug("task status transition",
			zap.String("task_id", taskID),
			zap.String("status", string(to)),
		)
		return tx.Save(&record).Error
	})
}

// isUniqueViolation 各数据库驱动对唯一约束冲突没有统一错误类型，
// 退化为消息匹配
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
