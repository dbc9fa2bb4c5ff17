package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/xormod/internal/app/run"
	"github.com/John-Robertt/xormod/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// - 所有过程信息写到 stderr，不污染 stdout 的 JSON 输出
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：大文件长时间无完成事件时定期输出一行
//
// 周期模式下每轮都会收到 OnStart，计数随之重置。
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	cycleID     string
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(cycleID string, cfg domain.TransformConfig, workDir string) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTickerLocked()
	p.cycleID = cycleID
	p.startedAt = now
	p.workers, p.total, p.done, p.ok, p.fail = 0, 0, 0, 0, 0

	fmt.Fprintf(p.w, "[%s] xormod cycle %s\n", now.Format("15:04:05"), shortID(cycleID))
	fmt.Fprintf(p.w, "  dir: %s\n", workDir)
	fmt.Fprintf(p.w, "  mask: %q\n", cfg.Mask)
	fmt.Fprintf(p.w, "  out: %s (%s)\n", cfg.OutputDir, cfg.Policy)
	fmt.Fprintf(p.w, "  delete_source: %s\n", onOff(cfg.DeleteSource))
	if cfg.Interval > 0 {
		fmt.Fprintf(p.w, "  interval: %s\n", cfg.Interval)
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d (%s)\n", intField(fields, "files"), formatShortDuration(dur))
	case "exec":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "total_files")
		fmt.Fprintf(p.w, "执行: workers=%d total_files=%d\n", p.workers, p.total)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnFileDone(idx, total int, res domain.FileResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total
	if res.Status == domain.FileStatusWritten {
		p.ok++
	} else {
		p.fail++
	}

	fmt.Fprintf(p.w, "%s\n", formatFileLine(idx, total, res, dur))
	p.lastPrinted = time.Now()

	// 最后一个文件完成：停止 ticker，避免结束后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func formatFileLine(idx, total int, res domain.FileResult, dur time.Duration) string {
	switch res.Status {
	case domain.FileStatusWritten:
		note := ""
		if res.Deleted {
			note = " 已删除源文件"
		}
		return fmt.Sprintf("[%d/%d] %s OK -> %s bytes=%d%s (%s)",
			idx, total, res.Name, res.Dst, res.Bytes, note, formatShortDuration(dur),
		)
	default:
		return fmt.Sprintf("[%d/%d] %s %s %s: %s (%s)",
			idx, total, res.Name, strings.ToUpper(res.Status), res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	}
}

func (p *progressUI) startTickerLocked() {
	stop := make(chan struct{})
	p.stopCh = stop
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done < p.total && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, p.progressLineLocked())
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func (p *progressUI) progressLineLocked() string {
	active := p.workers
	if remain := p.total - p.done; remain < active {
		active = remain
	}
	return fmt.Sprintf("进度: done=%d/%d ok=%d fail=%d active=%d elapsed=%s",
		p.done, p.total, p.ok, p.fail, active, formatElapsed(time.Since(p.startedAt)),
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
