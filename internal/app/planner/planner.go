package planner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/xormod/internal/domain"
	"github.com/John-Robertt/xormod/internal/scan"
)

// ModSuffix 是 append-suffix 策略插入在扩展名之前的标记。
const ModSuffix = "_mod"

// DestName 按策略计算输出文件名（只做字符串运算）。
//
// append-suffix 规则（固定）：
// - "report.txt" -> "report_mod.txt"（保留扩展名前的点）
// - "README"     -> "README_mod"
// - ".env"       -> ".env_mod"（点文件整体视为 base）
// - "a.tar.gz"   -> "a.tar_mod.gz"（只拆最后一个扩展名）
func DestName(name string, policy domain.OverwritePolicy) string {
	if policy != domain.PolicyAppendSuffix {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		return name + ModSuffix
	}
	return base + ModSuffix + ext
}

// Plan 是一次 cycle 的执行计划。
type Plan struct {
	Jobs []domain.FileJob

	// Conflicts 记录不能执行的 job 下标及其目标会覆盖的对象：
	// 本轮另一个输入文件（文件名），或 cfg.Exclude 中的工具文件（绝对路径）。
	Conflicts map[int]string
}

// PlanJobs 基于扫描结果生成确定性的执行计划（不做任何写入）。
// outputDir 允许是相对路径，相对 workDir 解析。
//
// 目录与文件的同一性按 os.SameFile 判断，不只比较路径字符串：
// 输出目录可能经符号链接、bind mount 等别名指向工作目录。
func PlanJobs(workDir string, matches []scan.Match, cfg domain.TransformConfig) Plan {
	outDir := absCleanFrom(workDir, cfg.OutputDir)

	srcs := make(map[string]int, len(matches))
	for i, m := range matches {
		srcs[filepath.Clean(m.AbsPath)] = i
	}

	// 输出目录与某个输入所在目录是同一目录时，用输入的目录路径作为比较键。
	aliasOf := map[string]string{}
	keyDir := func(srcDir string) string {
		if k, ok := aliasOf[srcDir]; ok {
			return k
		}
		k := outDir
		if srcDir == outDir || sameDir(srcDir, outDir) {
			k = srcDir
		}
		aliasOf[srcDir] = k
		return k
	}

	excl := newExcludeSet(cfg.Exclude)

	p := Plan{
		Jobs:      make([]domain.FileJob, 0, len(matches)),
		Conflicts: map[int]string{},
	}
	for i, m := range matches {
		src := filepath.Clean(m.AbsPath)
		name := DestName(m.Name, cfg.Policy)
		dst := filepath.Join(outDir, name)
		key := filepath.Join(keyDir(filepath.Dir(src)), name)

		if j, ok := srcs[key]; ok && j != i {
			p.Conflicts[i] = matches[j].Name
		} else if hit, ok := excl.match(dst); ok {
			p.Conflicts[i] = hit
		}
		p.Jobs = append(p.Jobs, domain.FileJob{
			Name:    m.Name,
			SrcAbs:  src,
			DstAbs:  dst,
			Size:    m.Size,
			InPlace: key == src,
		})
	}
	return p
}

func sameDir(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

// excludeSet 判断一个目标路径是否是（或经别名指向）工具自身使用的文件。
type excludeSet struct {
	paths map[string]bool
	infos []excludeInfo
}

type excludeInfo struct {
	path string
	fi   os.FileInfo
}

func newExcludeSet(paths []string) excludeSet {
	s := excludeSet{paths: make(map[string]bool, len(paths))}
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		s.paths[p] = true
		if fi, err := os.Stat(p); err == nil {
			s.infos = append(s.infos, excludeInfo{path: p, fi: fi})
		}
	}
	return s
}

func (s excludeSet) match(dst string) (string, bool) {
	if s.paths[dst] {
		return dst, true
	}
	if len(s.infos) == 0 {
		return "", false
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return "", false
	}
	for _, e := range s.infos {
		if os.SameFile(fi, e.fi) {
			return e.path, true
		}
	}
	return "", false
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(filepath.Join(base, p))
	if err != nil {
		return filepath.Clean(filepath.Join(base, p))
	}
	return abs
}
