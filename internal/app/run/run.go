package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/xormod/internal/app/planner"
	"github.com/John-Robertt/xormod/internal/domain"
	"github.com/John-Robertt/xormod/internal/infra/fsx"
	"github.com/John-Robertt/xormod/internal/scan"
	"github.com/John-Robertt/xormod/internal/xor"
)

// 通过可替换的函数指针，让测试能稳定模拟单文件的读/写/删失败。
var (
	readFile   = os.ReadFile
	writeFile  = fsx.WriteFileInto
	removeFile = fsx.Remove
)

// Configure 在任何文件 I/O 之前校验配置。
// 只校验 key 长度：空 mask 匹配所有文件；输出目录不存在只会在写入时表现为 write-failed。
func Configure(cfg domain.TransformConfig) error {
	if len(cfg.Key) != domain.KeySize {
		return &Error{
			Code: ErrCodeInvalidKeyLength,
			Err:  fmt.Errorf("%w（实际 %d 字节）", ErrInvalidKeyLength, len(cfg.Key)),
		}
	}
	return nil
}

// RunCycle 执行一次 扫描 -> XOR -> 写入 ->（可选）删除源文件。
//
// 返回的 CycleReport 总是已 Finalize。error 只在 cycle 级失败时非空（key 长度不对、
// 工作目录不可读），此时不会触碰任何文件；单文件失败记录在报告中，不会中止批次。
//
// 日志取自 zerolog.Ctx(ctx)。
func RunCycle(ctx context.Context, cfg domain.TransformConfig, workDir string) (domain.CycleReport, error) {
	return RunCycleWithObserver(ctx, cfg, workDir, nil)
}

// RunCycleWithObserver 与 RunCycle 相同，但允许传入 Observer 以输出进度/阶段信息。
func RunCycleWithObserver(ctx context.Context, cfg domain.TransformConfig, workDir string, obs Observer) (domain.CycleReport, error) {
	started := time.Now().UTC()
	rr := domain.CycleReport{
		CycleID:   uuid.NewString(),
		WorkDir:   workDir,
		OutputDir: cfg.OutputDir,
		Mask:      cfg.Mask,
		Policy:    cfg.Policy,
		Delete:    cfg.DeleteSource,
		StartedAt: started,
		Files:     []domain.FileResult{},
	}
	log := zerolog.Ctx(ctx).With().Str("cycle", rr.CycleID).Logger()

	finish := func() domain.CycleReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	if err := Configure(cfg); err != nil {
		log.Error().Err(err).Msg("配置无效，cycle 中止")
		return finish(), err
	}

	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
		rr.WorkDir = abs
	}

	if obs != nil {
		obs.OnStart(rr.CycleID, cfg, workDir)
	}
	log.Info().
		Str("dir", workDir).
		Str("mask", cfg.Mask).
		Str("out", cfg.OutputDir).
		Str("policy", string(cfg.Policy)).
		Bool("delete", cfg.DeleteSource).
		Msg("cycle 开始")

	scanStarted := time.Now()
	matches, err := scan.ScanMatches(workDir, cfg.Mask)
	if err != nil {
		e := &Error{Code: ErrCodeDirectoryUnreadable, Err: err}
		log.Error().Err(err).Msg("扫描失败，cycle 中止")
		return finish(), e
	}
	if n := len(matches); len(cfg.Exclude) > 0 {
		// 配置文件、history 数据库等工具自身文件永远不是输入。
		matches = scan.Without(matches, cfg.Exclude)
		if skipped := n - len(matches); skipped > 0 {
			log.Debug().Int("excluded", skipped).Msg("跳过工具自身使用的文件")
		}
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(matches)}, time.Since(scanStarted))
	}

	if len(matches) == 0 {
		// 没有匹配只结束本轮 cycle；周期模式继续运行。
		rr.NoMatch = true
		log.Warn().Str("mask", cfg.Mask).Msg("没有文件匹配 mask")
		return finish(), nil
	}

	plan := planner.PlanJobs(workDir, matches, cfg)
	rr.OutputDir = outputDirOf(plan, cfg.OutputDir)

	// 执行阶段：按文件并发（worker pool），单文件内串行。
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(plan.Jobs) {
		workers = len(plan.Jobs)
	}
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers":     workers,
			"total_files": len(plan.Jobs),
		}, 0)
	}

	type execResult struct {
		res domain.FileResult
		dur time.Duration
	}

	jobs := make(chan int)
	results := make(chan execResult, len(plan.Jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				oneStarted := time.Now()
				r := processOne(ctx, log, cfg, plan.Jobs[idx], plan.Conflicts[idx])
				results <- execResult{res: r, dur: time.Since(oneStarted)}
			}
		}()
	}

	go func() {
		for i := range plan.Jobs {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	done := 0
	for it := range results {
		done++
		rr.Files = append(rr.Files, it.res)
		if obs != nil {
			obs.OnFileDone(done, len(plan.Jobs), it.res, it.dur)
		}
	}

	out := finish()
	log.Info().
		Int("written", out.Summary.Written).
		Int("open_failed", out.Summary.OpenFailed).
		Int("write_failed", out.Summary.WriteFailed).
		Int("delete_failed", out.Summary.DeleteFailed).
		Dur("took", out.FinishedAt.Sub(out.StartedAt)).
		Msg("cycle 完成")
	return out, nil
}

func processOne(ctx context.Context, log zerolog.Logger, cfg domain.TransformConfig, job domain.FileJob, conflictWith string) domain.FileResult {
	res := domain.FileResult{
		Name: job.Name,
		Src:  job.SrcAbs,
		Dst:  job.DstAbs,
	}
	flog := log.With().Str("file", job.Name).Logger()

	// 取消只阻止尚未开始的文件；已开始的文件会完整执行。
	if err := ctx.Err(); err != nil {
		res.Status = domain.FileStatusOpenFailed
		res.ErrorCode = domain.ErrCodeCanceled
		res.ErrorMsg = fmt.Sprintf("cycle 已取消，未处理：%v", err)
		return res
	}

	if conflictWith != "" {
		res.Status = domain.FileStatusWriteFailed
		res.ErrorCode = domain.ErrCodeTargetConflict
		res.ErrorMsg = fmt.Sprintf("输出路径 %q 会覆盖 %q（本轮的另一个输入或工具自身文件）；拒绝覆盖", job.DstAbs, conflictWith)
		flog.Warn().Str("dst", job.DstAbs).Msg(res.ErrorMsg)
		return res
	}

	data, err := readFile(job.SrcAbs)
	if err != nil {
		res.Status = domain.FileStatusOpenFailed
		res.ErrorCode = domain.ErrCodeOpenFailed
		res.ErrorMsg = fmt.Sprintf("无法打开文件：%v", err)
		flog.Warn().Err(err).Msg("无法打开文件")
		return res
	}

	if err := xor.Apply(data, cfg.Key); err != nil {
		// Configure 已保证 key 非空；走到这里说明调用方绕过了校验。
		res.Status = domain.FileStatusWriteFailed
		res.ErrorCode = domain.ErrCodeWriteFailed
		res.ErrorMsg = err.Error()
		return res
	}

	if err := writeFile(filepath.Dir(job.DstAbs), filepath.Base(job.DstAbs), data); err != nil {
		res.Status = domain.FileStatusWriteFailed
		switch {
		case fsx.IsPathTypeConflict(err):
			res.ErrorCode = domain.ErrCodeTargetConflict
		case fsx.IsCrossDevice(err):
			res.ErrorCode = domain.ErrCodeCrossDevice
		default:
			res.ErrorCode = domain.ErrCodeWriteFailed
		}
		res.ErrorMsg = fmt.Sprintf("无法保存文件：%v", err)
		// 写入失败时源文件必须保留。
		flog.Warn().Err(err).Str("dst", job.DstAbs).Msg("无法保存文件")
		return res
	}
	res.Bytes = int64(len(data))
	res.Status = domain.FileStatusWritten
	flog.Debug().Str("dst", job.DstAbs).Int64("bytes", res.Bytes).Msg("已保存")

	if !cfg.DeleteSource {
		return res
	}
	if job.SameFile() {
		// 源文件已被输出原地替换；删除它等于删除输出。
		flog.Warn().Msg("输出即源文件，跳过删除")
		return res
	}
	if err := removeFile(job.SrcAbs); err != nil {
		res.Status = domain.FileStatusDeleteFailed
		res.ErrorCode = domain.ErrCodeDeleteFailed
		res.ErrorMsg = fmt.Sprintf("无法删除源文件：%v", err)
		flog.Warn().Err(err).Msg("无法删除源文件")
		return res
	}
	res.Deleted = true
	flog.Debug().Msg("已删除源文件")
	return res
}

func outputDirOf(p planner.Plan, fallback string) string {
	if len(p.Jobs) == 0 {
		return fallback
	}
	return filepath.Dir(p.Jobs[0].DstAbs)
}
