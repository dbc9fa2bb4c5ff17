package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Match 是一次扫描命中的文件（只做 stat，不读内容）。
type Match struct {
	Name    string
	AbsPath string
	Size    int64
}

// DirError 表示工作目录本身无法读取（整个 cycle 必须中止）。
type DirError struct {
	Dir string
	Err error
}

func (e *DirError) Error() string {
	return fmt.Sprintf("无法读取工作目录 %q：%v", e.Dir, e.Err)
}

func (e *DirError) Unwrap() error { return e.Err }

// ScanMatches 列出 dir（不递归）中文件名以 mask 结尾的普通文件。
//
// 规则（硬约束）：
// - mask 是原样的后缀匹配，不是 glob，也不区分“扩展名”：".txt" 同样匹配 "xtxt.txt"，"txt" 匹配 "xtxt"
// - 空 mask 匹配所有文件
// - 只保留普通文件；符号链接按目标判断（指向普通文件才保留，悬空链接忽略）
// - 输出按文件名字典序排序，与平台的目录遍历顺序无关
func ScanMatches(dir, mask string) ([]Match, error) {
	dir = filepath.Clean(dir)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &DirError{Dir: dir, Err: err}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, &DirError{Dir: abs, Err: err}
	}

	out := make([]Match, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, mask) {
			continue
		}

		path := filepath.Join(abs, name)
		var fi os.FileInfo
		switch {
		case e.Type().IsRegular():
			fi, err = e.Info()
		case e.Type()&os.ModeSymlink != 0:
			fi, err = os.Stat(path)
		default:
			continue
		}
		if err != nil {
			// 扫描与读取之间文件被删除/悬空链接：不算命中。
			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}

		out = append(out, Match{
			Name:    name,
			AbsPath: path,
			Size:    fi.Size(),
		})
	}

	// os.ReadDir 已按文件名排序；这里显式再排一次，锁定契约。
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Without 去掉 paths 指向的文件：路径相同，或 os.SameFile 判定为同一文件（经符号链接/别名）。
// 返回新切片，顺序保持不变。
func Without(ms []Match, paths []string) []Match {
	if len(paths) == 0 || len(ms) == 0 {
		return ms
	}

	byPath := make(map[string]bool, len(paths))
	var infos []os.FileInfo
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		byPath[p] = true
		if fi, err := os.Stat(p); err == nil {
			infos = append(infos, fi)
		}
	}

	out := make([]Match, 0, len(ms))
next:
	for _, m := range ms {
		if byPath[filepath.Clean(m.AbsPath)] {
			continue
		}
		if len(infos) > 0 {
			if fi, err := os.Stat(m.AbsPath); err == nil {
				for _, e := range infos {
					if os.SameFile(fi, e) {
						continue next
					}
				}
			}
		}
		out = append(out, m)
	}
	return out
}
