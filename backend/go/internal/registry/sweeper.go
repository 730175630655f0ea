package registry

import (
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/pkg/logger"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/djherbis/times"
)

// SweepReport 汇总一次清理的结果。
type SweepReport struct {
	Tasks   int // 移除的过期任务数
	Files   int // 随任务删除的临时文件数
	Orphans int // 删除的无主文件数
}

// Sweeper 周期性移除过期的终态任务及其临时文件，并清理目录中不再被任何任务引用的旧文件。
// 它只处理终态任务，可以与正在运行的管线并发执行。
type Sweeper struct {
	reg       *Registry
	interval  time.Duration
	retention time.Duration
	dirs      []string
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewSweeper 创建清理器。dirs 是需要扫描无主文件的目录（上传目录、工作目录）。
func NewSweeper(reg *Registry, interval, retention time.Duration, dirs []string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		reg:       reg,
		interval:  interval,
		retention: retention,
		dirs:      dirs,
		log:       log,
		now:       time.Now,
	}
}

// Start 启动后台清理循环，重复调用无效。
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.interval <= 0 {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}(s.stop, s.done)
	s.log.WithField("interval", s.interval.String()).Info("清理任务已启动")
}

// Stop 停止后台循环并等待正在执行的清理结束，可以重复调用。
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
	s.log.Info("清理任务已停止")
}

// Sweep 执行一次清理。
func (s *Sweeper) Sweep() SweepReport {
	var report SweepReport
	cutoff := s.now().Add(-s.retention)

	for _, id := range s.reg.Expired(cutoff) {
		t, err := s.reg.Get(id)
		if err != nil {
			continue
		}
		before := existingFiles(t)
		if err := s.reg.Evict(id); err != nil {
			continue
		}
		// 移除钩子可能已经删除了文件，按删除前后的差值计数
		RemoveFiles(t)
		report.Tasks++
		report.Files += before - existingFiles(t)
	}

	referenced := s.reg.ReferencedFiles()
	for _, dir := range s.dirs {
		report.Orphans += s.sweepDir(dir, cutoff, referenced)
	}

	if report.Tasks > 0 || report.Orphans > 0 {
		s.log.WithPayload(map[string]interface{}{
			"tasks": report.Tasks, "files": report.Files, "orphans": report.Orphans,
		}).Info("清理完成")
	}
	return report
}

// sweepDir 删除 dir 下未被引用且早于 cutoff 的普通文件。
func (s *Sweeper) sweepDir(dir string, cutoff time.Time, referenced map[string]bool) int {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.WithField("dir", dir).Warn("读取目录失败: " + err.Error())
		}
		return 0
	}
	removed := 0
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		p := filepath.Join(dir, de.Name())
		if referenced[p] {
			continue
		}
		ts, err := times.Stat(p)
		if err != nil {
			continue
		}
		// 取创建时间与修改时间中较早的一个
		born := ts.ModTime()
		if ts.HasBirthTime() && ts.BirthTime().Before(born) {
			born = ts.BirthTime()
		}
		if born.After(cutoff) {
			continue
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
	}
	return removed
}

// RemoveFiles 删除任务拥有的临时文件，返回成功删除的数量。已经不存在的文件不计入也不报错。
func RemoveFiles(t *models.Task) int {
	if t == nil {
		return 0
	}
	removed := 0
	for _, p := range t.TempFiles {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
	}
	return removed
}

// existingFiles 统计任务临时文件中仍然存在的数量。
func existingFiles(t *models.Task) int {
	n := 0
	for _, p := range t.TempFiles {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			n++
		}
	}
	return n
}
