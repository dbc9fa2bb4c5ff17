//go:build unix

package fsx

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestWriteFileInto_CrossDeviceRename(t *testing.T) {
	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	defer func() { renameFunc = old }()

	dir := t.TempDir()
	err := WriteFileInto(dir, "a.bin", []byte("x"))
	if !IsCrossDevice(err) {
		t.Fatalf("期望 CrossDeviceError，实际：%T %v", err, err)
	}

	// 临时文件必须被清理，目标不应出现。
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("期望目录为空，实际：%v", entries)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.bin")); !os.IsNotExist(err) {
		t.Fatalf("目标不应存在：%v", err)
	}
}

func TestIsEXDEV_Wrapped(t *testing.T) {
	if !isEXDEV(syscall.EXDEV) {
		t.Fatalf("裸 EXDEV 应被识别")
	}
	if !isEXDEV(&os.PathError{Op: "rename", Path: "/a", Err: syscall.EXDEV}) {
		t.Fatalf("PathError 包装的 EXDEV 应被识别")
	}
	if isEXDEV(&os.LinkError{Op: "rename", Old: "/a", New: "/b", Err: syscall.ENOENT}) {
		t.Fatalf("ENOENT 不应被识别为 EXDEV")
	}
}
