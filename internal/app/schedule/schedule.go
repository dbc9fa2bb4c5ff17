// Package schedule 周期性地执行 run.RunCycle。
//
// 语义（固定）：
// - 启动后立即执行第一轮，之后每 interval 触发一次
// - 每次触发都重新调用 ConfigSource，配置修改在下一轮生效，无需重启
// - 上一轮尚未结束时到达的 tick 直接丢弃（skip-if-running），不排队、不重叠
// - Cancel 只阻止后续 tick；正在执行的一轮会完整跑完
package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/xormod/internal/app/run"
	"github.com/John-Robertt/xormod/internal/domain"
)

// ConfigSource 在每一轮开始时提供最新的配置快照。
type ConfigSource func(ctx context.Context) (domain.TransformConfig, error)

// Static 返回总是给出同一份配置的 ConfigSource。
func Static(cfg domain.TransformConfig) ConfigSource {
	return func(context.Context) (domain.TransformConfig, error) { return cfg, nil }
}

// CycleFunc 接收每一轮的结果。配置读取失败时 rr 为零值、err 非空。
// 调用发生在执行该轮的 goroutine 中；同一时刻最多一个调用。
type CycleFunc func(rr domain.CycleReport, err error)

// Options 是 StartPeriodic 的可选参数。
type Options struct {
	Observer run.Observer
	OnCycle  CycleFunc
}

// Handle 控制一个运行中的周期任务。
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool
	cycles  atomic.Int64
	skipped atomic.Int64
}

// Cancel 停止后续 tick，不中断正在执行的一轮。可重复调用。
func (h *Handle) Cancel() { h.cancel() }

// Wait 阻塞直到调度 goroutine 退出且正在执行的一轮结束（需先 Cancel 或取消父 ctx）。
func (h *Handle) Wait() {
	<-h.done
	h.wg.Wait()
}

// Cycles 返回已开始执行的轮数。
func (h *Handle) Cycles() int64 { return h.cycles.Load() }

// Skipped 返回因上一轮未结束而丢弃的 tick 数。
func (h *Handle) Skipped() int64 { return h.skipped.Load() }

// StartPeriodic 启动周期任务并立即返回。
//
// 父 ctx 被取消等同于 Cancel。正在执行的一轮使用脱离取消信号的 ctx
// （保留 ctx 中的 logger 等值），因此不会被中途打断。
func StartPeriodic(ctx context.Context, source ConfigSource, workDir string, interval time.Duration, opts Options) (*Handle, error) {
	if source == nil {
		return nil, errors.New("schedule: ConfigSource 为空")
	}
	if interval <= 0 {
		return nil, errors.New("schedule: interval 必须大于 0")
	}

	stopCtx, cancel := context.WithCancel(ctx)
	cycleCtx := context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx)

	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	trigger := func() {
		if !h.running.CompareAndSwap(false, true) {
			n := h.skipped.Add(1)
			log.Warn().Int64("skipped", n).Msg("上一轮仍在执行，跳过本次 tick")
			return
		}
		h.cycles.Add(1)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer h.running.Store(false)

			cfg, err := source(cycleCtx)
			if err != nil {
				log.Error().Err(err).Msg("读取配置失败，跳过本轮")
				if opts.OnCycle != nil {
					opts.OnCycle(domain.CycleReport{}, err)
				}
				return
			}
			rr, err := run.RunCycleWithObserver(cycleCtx, cfg, workDir, opts.Observer)
			if opts.OnCycle != nil {
				opts.OnCycle(rr, err)
			}
		}()
	}

	go func() {
		defer close(h.done)

		trigger()

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stopCtx.Done():
				return
			case <-t.C:
				// 同时就绪时优先响应取消。
				if stopCtx.Err() != nil {
					return
				}
				trigger()
			}
		}
	}()

	return h, nil
}
