package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/xormod/internal/domain"
)

func TestProgressUI_CycleOutput(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)

	cfg := domain.TransformConfig{Mask: ".txt", OutputDir: "/out", Policy: domain.PolicyAppendSuffix}
	p.OnStart("0123456789abcdef", cfg, "/work")
	p.OnPhaseDone("scan", map[string]any{"files": 2}, 10*time.Millisecond)
	p.OnPhaseDone("exec", map[string]any{"workers": 2, "total_files": 2}, 0)
	p.OnFileDone(1, 2, domain.FileResult{Name: "a.txt", Dst: "/out/a_mod.txt", Status: domain.FileStatusWritten, Bytes: 3}, time.Millisecond)
	p.OnFileDone(2, 2, domain.FileResult{Name: "b.txt", Status: domain.FileStatusOpenFailed, ErrorCode: domain.ErrCodeOpenFailed, ErrorMsg: "permission denied"}, time.Millisecond)

	out := buf.String()
	for _, want := range []string{
		"xormod cycle 01234567",
		`mask: ".txt"`,
		"扫描: files=2",
		"执行: workers=2 total_files=2",
		"[1/2] a.txt OK -> /out/a_mod.txt bytes=3",
		"[2/2] b.txt OPEN-FAILED open_failed: permission denied",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}

	p.mu.Lock()
	started := p.tickerStarted
	p.mu.Unlock()
	if started {
		t.Fatalf("全部完成后 ticker 应已停止")
	}
}

func TestProgressUI_ResetsPerCycle(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)

	p.OnStart("c1", domain.TransformConfig{}, "/w")
	p.OnPhaseDone("exec", map[string]any{"workers": 1, "total_files": 3}, 0)
	p.OnFileDone(1, 3, domain.FileResult{Name: "a", Status: domain.FileStatusWritten}, 0)

	// 上一轮未完成时开始新一轮（例如被取消）：ticker 停止、计数归零。
	p.OnStart("c2", domain.TransformConfig{}, "/w")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerStarted || p.done != 0 || p.ok != 0 || p.total != 0 {
		t.Fatalf("新一轮应重置状态：%+v", p)
	}
}

func TestFormatFileLine_Deleted(t *testing.T) {
	got := formatFileLine(1, 1, domain.FileResult{Name: "x.bin", Dst: "/o/x.bin", Status: domain.FileStatusWritten, Deleted: true}, 0)
	if !strings.Contains(got, "已删除源文件") {
		t.Fatalf("期望提示已删除源文件：%q", got)
	}
}
