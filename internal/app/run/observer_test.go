package run

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/xormod/internal/domain"
)

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	files      []string
}

func (o *recordObserver) OnStart(cycleID string, cfg domain.TransformConfig, workDir string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnFileDone(idx, total int, res domain.FileResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files = append(o.files, res.Name)
}

func TestRunCycleWithObserver_EmitsPhaseAndFileEvents(t *testing.T) {
	work, out := dirs(t)
	write(t, work, "a.txt", []byte("a"))

	obs := &recordObserver{}
	if _, err := RunCycleWithObserver(context.Background(), cfg(out, testKey), work, obs); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if obs.startCalls != 1 {
		t.Fatalf("期望 OnStart 调用 1 次，实际 %d", obs.startCalls)
	}
	if want := []string{"scan", "exec"}; !reflect.DeepEqual(obs.phases, want) {
		t.Fatalf("阶段事件不符合预期：got=%v want=%v", obs.phases, want)
	}
	if len(obs.files) != 1 || obs.files[0] != "a.txt" {
		t.Fatalf("文件事件不符合预期：%v", obs.files)
	}
}

func TestRunCycleWithObserver_NoStartOnInvalidKey(t *testing.T) {
	work, out := dirs(t)
	obs := &recordObserver{}
	_, _ = RunCycleWithObserver(context.Background(), cfg(out, testKey[:3]), work, obs)
	if obs.startCalls != 0 || len(obs.phases) != 0 {
		t.Fatalf("配置无效时不应发出事件：%+v", obs)
	}
}

func TestRunCycleWithObserver_NilObserver_SameResultAsRunCycle(t *testing.T) {
	work, out := dirs(t)
	write(t, work, "a.txt", []byte("a"))
	write(t, work, "b.txt", []byte("b"))

	a, err := RunCycle(context.Background(), cfg(out, testKey), work)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, err := RunCycleWithObserver(context.Background(), cfg(out, testKey), work, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// cycle_id 与时间字段允许不同；对比时归零。
	a.CycleID, b.CycleID = "", ""
	a.StartedAt, a.FinishedAt = time.Time{}, time.Time{}
	b.StartedAt, b.FinishedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("nil observer 不应改变结果：\nRunCycle=%+v\nWithObs=%+v", a, b)
	}
}
