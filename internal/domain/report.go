package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	FileStatusWritten      = "written"
	FileStatusOpenFailed   = "open-failed"
	FileStatusWriteFailed  = "write-failed"
	FileStatusDeleteFailed = "delete-failed"
)

const (
	ErrCodeOpenFailed     = "open_failed"
	ErrCodeWriteFailed    = "write_failed"
	ErrCodeDeleteFailed   = "delete_failed"
	ErrCodeTargetConflict = "target_conflict"
	ErrCodeCrossDevice    = "cross_device"
	ErrCodeCanceled       = "canceled"
)

// CycleReport 是一次 cycle 的对外稳定输出（stdout JSON / history 记录）。
type CycleReport struct {
	CycleID   string          `json:"cycle_id"`
	WorkDir   string          `json:"work_dir"`
	OutputDir string          `json:"output_dir"`
	Mask      string          `json:"mask"`
	Policy    OverwritePolicy `json:"overwrite_policy"`
	Delete    bool            `json:"delete_source"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// NoMatch 表示工作目录中没有文件匹配 mask（信息性，不是错误）。
	NoMatch bool `json:"no_match"`

	Summary CycleSummary `json:"summary"`
	Files   []FileResult `json:"files"`
}

type CycleSummary struct {
	Written      int `json:"written"`
	OpenFailed   int `json:"open_failed"`
	WriteFailed  int `json:"write_failed"`
	DeleteFailed int `json:"delete_failed"`
}

// Failed 返回所有失败文件数。
func (s CycleSummary) Failed() int { return s.OpenFailed + s.WriteFailed + s.DeleteFailed }

type FileResult struct {
	Name    string `json:"name"`
	Src     string `json:"src"`
	Dst     string `json:"dst"`
	Status  string `json:"status"`
	Bytes   int64  `json:"bytes"`
	Deleted bool   `json:"deleted"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) files 按文件名稳定排序（与完成顺序无关）
// 3) summary 由 files 计算得出
func (r *CycleReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Files == nil {
		r.Files = []FileResult{}
	}
	sort.SliceStable(r.Files, func(i, j int) bool { return r.Files[i].Name < r.Files[j].Name })

	var s CycleSummary
	for _, f := range r.Files {
		switch f.Status {
		case FileStatusWritten:
			s.Written++
		case FileStatusOpenFailed:
			s.OpenFailed++
		case FileStatusWriteFailed:
			s.WriteFailed++
		case FileStatusDeleteFailed:
			s.DeleteFailed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r CycleReport) MarshalJSON() ([]byte, error) {
	type Alias CycleReport
	return json.Marshal(Alias(r))
}
