package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

// 退出码（固定）：
// 0 全部写入成功（或没有匹配）；1 存在单文件失败或 cycle 中止；2 用法/配置错误。
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(realMain(os.Args, os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	err := app.Run(args)
	if err == nil {
		return exitOK
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if msg := ec.Error(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return ec.ExitCode()
	}
	// urfave/cli 自身的解析错误（未知参数、缺值等）。
	fmt.Fprintf(stderr, "参数错误：%v\n", err)
	return exitUsage
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "xormod",
		Usage:     "按文件名后缀批量对文件做 8 字节循环 XOR（可周期执行）",
		Writer:    stdout,
		ErrWriter: stderr,
		// 退出码统一由 realMain 处理。
		ExitErrHandler: func(*cli.Context, error) {},
		OnUsageError:   usageError,
		Commands: []*cli.Command{
			runCommand(stdout, stderr),
			historyCommand(stdout),
		},
	}
}

// usageError 让参数解析错误统一走退出码 2，且不向 stdout 打印帮助。
func usageError(_ *cli.Context, err error, _ bool) error {
	return cli.Exit(fmt.Sprintf("参数错误：%v（使用 --help 查看用法）", err), exitUsage)
}
