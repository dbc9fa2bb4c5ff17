package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/John-Robertt/xormod/internal/config"
	"github.com/John-Robertt/xormod/internal/history"
)

func historyCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:         "history",
		Usage:        "查看最近几轮的处理记录",
		UsageText:    "xormod history [--history-db FILE] [--last N] [--json]",
		OnUsageError: usageError,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "工作目录 `DIR`（用于查找配置文件）"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "配置文件 `FILE`"},
			&cli.StringFlag{Name: "history-db", Usage: "SQLite 文件 `FILE`（默认取配置中的 history_db）"},
			&cli.IntFlag{Name: "last", Aliases: []string{"n"}, Value: history.DefaultLimit, Usage: "显示最近 `N` 轮"},
			&cli.BoolFlag{Name: "json", Usage: "每轮输出一行 CycleReport JSON"},
		},
		Action: func(c *cli.Context) error {
			path, err := resolveHistoryDB(c)
			if err != nil {
				return err
			}
			return printHistory(c.Context, stdout, path, c.Int("last"), c.Bool("json"))
		},
	}
}

// resolveHistoryDB 优先使用 --history-db；否则从配置文件/环境变量读取 history_db。
func resolveHistoryDB(c *cli.Context) (string, error) {
	if p := c.String("history-db"); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", cli.Exit(fmt.Sprintf("参数错误：%v", err), exitUsage)
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", cli.Exit(fmt.Sprintf("读取当前目录失败：%v", err), exitFailed)
	}
	p, err := config.LoadHistoryDB(cwd, config.CLIArgs{
		WorkDir:    c.String("dir"),
		ConfigFile: c.String("config"),
	})
	if err != nil {
		return "", cli.Exit(fmt.Sprintf("配置错误：%v", err), exitUsage)
	}
	if p == "" {
		return "", cli.Exit("参数错误：未指定 --history-db，配置中也没有 history_db", exitUsage)
	}
	return p, nil
}

func printHistory(ctx context.Context, w io.Writer, path string, n int, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(path); err != nil {
		return cli.Exit(fmt.Sprintf("history 数据库不存在：%s", path), exitFailed)
	}

	store, err := history.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("打开 history 数据库失败：%v", err), exitFailed)
	}
	defer store.Close()

	reports, err := store.Last(ctx, n)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		for _, rr := range reports {
			if err := enc.Encode(rr); err != nil {
				return cli.Exit(err.Error(), exitFailed)
			}
		}
		return nil
	}

	if len(reports) == 0 {
		fmt.Fprintln(w, "（没有记录）")
		return nil
	}
	for _, rr := range reports {
		fmt.Fprintf(w, "%s  %s  mask=%q  %s\n",
			rr.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rr.CycleID,
			rr.Mask,
			summaryLine(rr),
		)
	}
	return nil
}
