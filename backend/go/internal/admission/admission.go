// Package admission 实现提交前的准入检查和管线并发闸门。
package admission

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limits 是同步执行的准入规则，违反时不会创建任何任务。
type Limits struct {
	MaxFileSize   int64 // 单文件以及批量累计大小上限
	MaxBatchFiles int   // 单次批量提交的文件数上限
}

// LimitsFromConfig 从管线配置构造 Limits。
func LimitsFromConfig(cfg config.PipelineConfig) Limits {
	return Limits{MaxFileSize: cfg.MaxFileSize, MaxBatchFiles: cfg.MaxBatchFiles}
}

// CheckFile 校验单个文件的大小。
func (l Limits) CheckFile(size int64) error {
	if size < 0 {
		return faults.Rejected("invalid file size %d", size)
	}
	if l.MaxFileSize > 0 && size > l.MaxFileSize {
		return faults.Rejected("file size %d exceeds limit %d", size, l.MaxFileSize)
	}
	return nil
}

// CheckBatch 校验批量提交：文件数、每个文件的大小以及累计大小。
func (l Limits) CheckBatch(sizes []int64) error {
	if len(sizes) == 0 {
		return faults.Rejected("batch is empty")
	}
	if l.MaxBatchFiles > 0 && len(sizes) > l.MaxBatchFiles {
		return faults.Rejected("batch of %d files exceeds limit %d", len(sizes), l.MaxBatchFiles)
	}
	var total int64
	for _, size := range sizes {
		if err := l.CheckFile(size); err != nil {
			return err
		}
		total += size
		if l.MaxFileSize > 0 && total > l.MaxFileSize {
			return faults.Rejected("batch total size exceeds limit %d", l.MaxFileSize)
		}
	}
	return nil
}

// Gate 是大小固定的并发闸门，等待者按先来先服务的顺序获得槽位。
type Gate struct {
	sem   *semaphore.Weighted
	size  int
	inUse atomic.Int64
}

// NewGate 创建容量为 n 的闸门，n <= 0 时按 1 处理。
func NewGate(n int) *Gate {
	if n <= 0 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Acquire 阻塞直到获得一个槽位或 ctx 结束。返回的 release 可以安全地重复调用，
// 调用方应使用 defer 保证所有退出路径都会释放。
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inUse.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			g.inUse.Add(-1)
			g.sem.Release(1)
		})
	}, nil
}

// Size 返回闸门容量。
func (g *Gate) Size() int { return g.size }

// InUse 返回当前被占用的槽位数。
func (g *Gate) InUse() int { return int(g.inUse.Load()) }
