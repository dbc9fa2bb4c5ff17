package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/xormod/internal/domain"
	"github.com/John-Robertt/xormod/internal/xor"
)

const testKeyHex = "0102030405060708"

func setupDirs(t *testing.T) (work, out string) {
	t.Helper()
	root := t.TempDir()
	work = filepath.Join(root, "work")
	out = filepath.Join(root, "out")
	for _, d := range []string{work, out} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("创建目录失败：%v", err)
		}
	}
	return work, out
}

func writeInput(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
}

func TestRealMain_RunOnceEmitsJSONReport(t *testing.T) {
	work, out := setupDirs(t)
	plain := []byte("hello, xormod")
	writeInput(t, filepath.Join(work, "report.txt"), plain)
	writeInput(t, filepath.Join(work, "skip.bin"), []byte("x"))

	var stdout, stderr bytes.Buffer
	code := realMain([]string{"xormod", "run",
		"--dir", work, "--out", out, "--key", testKeyHex,
		"--mask", ".txt", "--policy", "append-suffix", "--delete",
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
	}

	var rr domain.CycleReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 CycleReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Summary.Written != 1 || len(rr.Files) != 1 || !rr.Files[0].Deleted {
		t.Fatalf("报告不符合预期：%+v", rr)
	}
	if !strings.Contains(stderr.String(), "完成：written=1") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}

	got, err := os.ReadFile(filepath.Join(out, "report_mod.txt"))
	if err != nil {
		t.Fatalf("读取输出失败：%v", err)
	}
	want := append([]byte(nil), plain...)
	key, _ := domain.ParseKeyHex(testKeyHex)
	if err := xor.Apply(want, key); err != nil {
		t.Fatalf("xor 失败：%v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("输出内容不正确")
	}
	if _, err := os.Stat(filepath.Join(work, "report.txt")); !os.IsNotExist(err) {
		t.Fatalf("源文件应被删除：%v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "skip.bin")); err != nil {
		t.Fatalf("未匹配的文件不应被触碰：%v", err)
	}
}

func TestRealMain_ConfigErrorsExit2(t *testing.T) {
	work, out := setupDirs(t)
	writeInput(t, filepath.Join(work, "a.txt"), []byte("a"))

	cases := map[string][]string{
		"missing key":    {"xormod", "run", "--dir", work, "--out", out},
		"bad hex":        {"xormod", "run", "--dir", work, "--out", out, "--key", "zz"},
		"7-byte key":     {"xormod", "run", "--dir", work, "--out", out, "--key", "01020304050607"},
		"bad interval":   {"xormod", "run", "--dir", work, "--out", out, "--key", testKeyHex, "--interval-ms", "10"},
		"unknown flag":   {"xormod", "run", "--nope"},
		"positional arg": {"xormod", "run", "extra"},
	}
	for name, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := realMain(args, &stdout, &stderr); code != exitUsage {
			t.Fatalf("%s：期望退出码 2，实际 %d\nstderr=%s", name, code, stderr.String())
		}
		if stdout.Len() != 0 {
			t.Fatalf("%s：配置错误时 stdout 应为空：%q", name, stdout.String())
		}
	}

	if _, err := os.Stat(filepath.Join(work, "a.txt")); err != nil {
		t.Fatalf("配置错误时不应触碰任何文件：%v", err)
	}
	if entries, _ := os.ReadDir(out); len(entries) != 0 {
		t.Fatalf("配置错误时不应写出任何文件：%v", entries)
	}
}

func TestRealMain_FileFailureExit1(t *testing.T) {
	work, _ := setupDirs(t)
	writeInput(t, filepath.Join(work, "a.txt"), []byte("a"))
	missingOut := filepath.Join(t.TempDir(), "does-not-exist")

	var stdout, stderr bytes.Buffer
	code := realMain([]string{"xormod", "run", "--dir", work, "--out", missingOut, "--key", testKeyHex, "--delete"}, &stdout, &stderr)
	if code != exitFailed {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	var rr domain.CycleReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v", err)
	}
	if rr.Summary.WriteFailed != 1 {
		t.Fatalf("期望 write_failed=1：%+v", rr.Summary)
	}
	if _, err := os.Stat(filepath.Join(work, "a.txt")); err != nil {
		t.Fatalf("写入失败时源文件必须保留：%v", err)
	}
}

func TestRealMain_NoMatchExit0(t *testing.T) {
	work, out := setupDirs(t)

	var stdout, stderr bytes.Buffer
	code := realMain([]string{"xormod", "run", "--dir", work, "--out", out, "--key", testKeyHex, "--mask", ".none"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("没有匹配应退出 0，实际 %d", code)
	}
	var rr domain.CycleReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v", err)
	}
	if !rr.NoMatch {
		t.Fatalf("期望 no_match=true")
	}
}

func TestRealMain_HistoryAndReportFile(t *testing.T) {
	work, out := setupDirs(t)
	db := filepath.Join(t.TempDir(), "h.db")
	reportFile := filepath.Join(t.TempDir(), "last.json")

	for _, name := range []string{"a.txt", "b.txt"} {
		writeInput(t, filepath.Join(work, name), []byte(name))
		var stdout, stderr bytes.Buffer
		code := realMain([]string{"xormod", "run",
			"--dir", work, "--out", out, "--key", testKeyHex,
			"--mask", name, "--history-db", db, "--report", reportFile,
		}, &stdout, &stderr)
		if code != exitOK {
			t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
		}
	}

	b, err := os.ReadFile(reportFile)
	if err != nil {
		t.Fatalf("读取报告文件失败：%v", err)
	}
	var last domain.CycleReport
	if err := json.Unmarshal(b, &last); err != nil {
		t.Fatalf("报告文件不是合法 JSON：%v", err)
	}
	if last.Mask != "b.txt" {
		t.Fatalf("报告文件应是最近一轮：%+v", last)
	}

	var stdout, stderr bytes.Buffer
	code := realMain([]string{"xormod", "history", "--history-db", db, "--json"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("history 退出码 %d\nstderr=%s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("期望 2 条记录，实际 %d：%q", len(lines), stdout.String())
	}
	var first domain.CycleReport
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("记录不是合法 JSON：%v", err)
	}
	if first.Mask != "a.txt" {
		t.Fatalf("记录应按时间从旧到新：%+v", first)
	}

	stdout.Reset()
	if code := realMain([]string{"xormod", "history", "--history-db", db, "--last", "1"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("history 退出码 %d", code)
	}
	if !strings.Contains(stdout.String(), `mask="b.txt"`) || strings.Contains(stdout.String(), `mask="a.txt"`) {
		t.Fatalf("--last 1 应只显示最近一轮：%q", stdout.String())
	}
}

func TestRealMain_HistoryMissingDB(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := realMain([]string{"xormod", "history", "--history-db", filepath.Join(t.TempDir(), "none.db")}, &stdout, &stderr)
	if code != exitFailed {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
}

func TestRealMain_DefaultSetupKeepsOwnFiles(t *testing.T) {
	// 空 mask + 配置文件、history 数据库、报告文件都在工作目录中：只处理用户文件。
	work, _ := setupDirs(t)
	if err := os.MkdirAll(filepath.Join(work, "out"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	cfgBody := []byte("output_path: out\nkey: \"" + testKeyHex + "\"\ndelete_source: true\nhistory_db: xormod.db\n")
	writeInput(t, filepath.Join(work, "xormod.yaml"), cfgBody)
	writeInput(t, filepath.Join(work, "a.txt"), []byte("a"))
	reportFile := filepath.Join(work, "last.json")

	for i := 0; i < 2; i++ {
		var stdout, stderr bytes.Buffer
		code := realMain([]string{"xormod", "run", "--dir", work, "--report", reportFile}, &stdout, &stderr)
		if code != exitOK {
			t.Fatalf("第 %d 次运行退出码 %d\nstderr=%s", i+1, code, stderr.String())
		}
		var rr domain.CycleReport
		if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
			t.Fatalf("stdout 不是合法 JSON：%v", err)
		}
		for _, f := range rr.Files {
			if f.Name != "a.txt" {
				t.Fatalf("第 %d 次运行处理了工具自身文件 %q：%+v", i+1, f.Name, rr.Files)
			}
		}
		if i == 1 && !rr.NoMatch {
			t.Fatalf("第二次运行只剩工具文件，应为 no_match：%+v", rr.Files)
		}
	}

	got, err := os.ReadFile(filepath.Join(work, "xormod.yaml"))
	if err != nil || !bytes.Equal(got, cfgBody) {
		t.Fatalf("配置文件必须原样保留：%q %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(work, "out", "xormod.yaml")); !os.IsNotExist(err) {
		t.Fatalf("配置文件不应被写出：%v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "out", "last.json")); !os.IsNotExist(err) {
		t.Fatalf("报告文件不应被写出：%v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := realMain([]string{"xormod", "history", "--dir", work, "--json"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("history 退出码 %d\nstderr=%s", code, stderr.String())
	}
	if n := len(strings.Split(strings.TrimSpace(stdout.String()), "\n")); n != 2 {
		t.Fatalf("history 数据库应完整记录 2 轮，实际 %d：%q", n, stdout.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, os.ErrClosed }

func TestEmitter_ReportWriteErrorGoesToStderr(t *testing.T) {
	var stderr bytes.Buffer
	em := newEmitter(failingWriter{}, &stderr)

	rr := domain.CycleReport{CycleID: "c"}
	rr.Finalize()
	em.emitReport(rr)

	if !strings.Contains(stderr.String(), "report_output_failed") {
		t.Fatalf("stdout 写入失败应提示到 stderr：%q", stderr.String())
	}
}
