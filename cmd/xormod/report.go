package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/term"

	"github.com/John-Robertt/xormod/internal/app/run"
	"github.com/John-Robertt/xormod/internal/config"
	"github.com/John-Robertt/xormod/internal/domain"
	"github.com/John-Robertt/xormod/internal/infra/fsx"
)

// emitter 负责 stdout/stderr 上的报告输出。
//
// stdout 非 TTY：每一轮输出且仅输出一行 CycleReport JSON（摘要走 stderr）。
// stdout 是 TTY：输出一行摘要，失败文件逐行写到 stderr。
type emitter struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	tty    bool
}

func newEmitter(stdout, stderr io.Writer) *emitter {
	return &emitter{stdout: stdout, stderr: stderr, tty: isTTY(stdout)}
}

func (e *emitter) emitReport(rr domain.CycleReport) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tty {
		fmt.Fprintln(e.stdout, summaryLine(rr))
		writeFailures(e.stderr, rr)
		return
	}

	if err := json.NewEncoder(e.stdout).Encode(rr); err != nil {
		fmt.Fprintf(e.stderr, "report_output_failed: 输出 CycleReport JSON 失败：%v\n", err)
	}
	fmt.Fprintln(e.stderr, summaryLine(rr))
}

func (e *emitter) emitError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	code := run.Code(err)
	if code == "" {
		code = config.Code(err)
	}
	if code == "" {
		code = "error"
	}
	fmt.Fprintf(e.stderr, "%s: %v\n", code, err)
}

func summaryLine(rr domain.CycleReport) string {
	if rr.NoMatch {
		return fmt.Sprintf("完成：没有文件匹配 mask %q", rr.Mask)
	}
	s := rr.Summary
	return fmt.Sprintf("完成：written=%d open_failed=%d write_failed=%d delete_failed=%d",
		s.Written, s.OpenFailed, s.WriteFailed, s.DeleteFailed,
	)
}

func writeFailures(w io.Writer, rr domain.CycleReport) {
	for _, f := range rr.Files {
		if f.Status == domain.FileStatusWritten {
			continue
		}
		fmt.Fprintf(w, "%s %s %s: %s\n", f.Name, f.Status, f.ErrorCode, f.ErrorMsg)
	}
}

func writeReportFile(path string, rr domain.CycleReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(abs), filepath.Base(abs), b)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	return nil, false
}
