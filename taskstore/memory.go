package taskstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/taskbridge/types"
)

// MemoryStore 内存任务记录存储，开发与测试用，重启即失
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.TaskRecord
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.TaskRecord)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, record *types.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.TaskID]; ok {
		return ErrAlreadyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = record.CreatedAt
	s.records[record.TaskID] = record.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryStore) GetByWorkflowID(ctx context.Context, workflowID string) (*types.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.WorkflowID == workflowID {
			return record.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*types.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.TaskRecord, 0)
	for _, record := range s.records {
		if matches(record, filter) {
			result = append(result, record.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*types.TaskRecord{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryStore) AttachHandle(ctx context.Context, taskID string, handle types.WorkflowHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[taskID]
	if !ok {
		return ErrNotFound
	}
	record.WorkflowID = handle.WorkflowID
	record.RunID = handle.RunID
	record.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, taskID string, percent float64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[taskID]
	if !ok {
		return ErrNotFound
	}
	if record.IsTerminal() {
		return ErrIllegalTransition
	}

	record.PercentComplete = percent
	record.LastMessage = message
	record.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, taskID string, to types.TaskStatus, mutate func(*types.TaskRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[taskID]
	if !ok {
		return ErrNotFound
	}
	return applyTransition(record, to, mutate)
}

func matches(record *types.TaskRecord, filter Filter) bool {
	if filter.UserID != "" && record.UserID != filter.UserID {
		return false
	}
	if filter.TargetAgent != "" && record.TargetAgent != filter.TargetAgent {
		return false
	}
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if record.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
