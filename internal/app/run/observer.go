package run

import (
	"time"

	"github.com/John-Robertt/xormod/internal/domain"
)

// Observer 用于把“运行进度/阶段/文件结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：周期模式下事件可能来自不同 goroutine。
type Observer interface {
	// OnStart 在 cycle 通过 Configure 校验后调用。
	OnStart(cycleID string, cfg domain.TransformConfig, workDir string)
	// OnPhaseDone 在阶段结束/就绪时调用（"scan"、"exec"）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnFileDone 在单个文件处理完成时调用（完成顺序，不是文件名顺序）。
	OnFileDone(idx, total int, res domain.FileResult, dur time.Duration)
}
