package orchestrator

import (
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/fusion"
	"DeepDistill/backend/go/internal/models"
	"os"
	"time"
)

// render 按任务选择的格式生成本地渲染结果。
func render(result *models.ProcessingResult, t *models.Task, format string, started, now time.Time) error {
	var warnings []string
	if e := result.Enhancement; e != nil && e.Error != "" {
		warnings = append(warnings, "视觉增强失败: "+e.Error)
	}
	out, err := fusion.Render(format, fusion.Document{
		Filename:       t.Filename,
		Category:       result.Category,
		Text:           result.Text,
		Analysis:       result.Analysis,
		Enhancement:    result.Enhancement,
		ElapsedSeconds: now.Sub(started).Seconds(),
		CreatedAt:      t.CreatedAt,
		Warnings:       warnings,
	})
	if err != nil {
		return faults.Wrap(faults.KindInternal, "render", err)
	}
	result.RenderFormat = format
	result.Rendered = out
	return nil
}

func removeQuietly(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
