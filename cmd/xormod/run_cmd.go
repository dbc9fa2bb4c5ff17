package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/John-Robertt/xormod/internal/app/run"
	"github.com/John-Robertt/xormod/internal/app/schedule"
	"github.com/John-Robertt/xormod/internal/config"
	"github.com/John-Robertt/xormod/internal/domain"
	"github.com/John-Robertt/xormod/internal/history"
	"github.com/John-Robertt/xormod/internal/infra/logx"
)

func runCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:         "run",
		Usage:        "扫描工作目录并处理匹配的文件（--interval-ms 非 0 时周期执行）",
		UsageText:    "xormod run [--dir DIR] [--config FILE] [--mask S] [--out DIR] [--key HEX] [options]",
		OnUsageError: usageError,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "工作目录 `DIR`（默认当前目录）"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "配置文件 `FILE`（默认 <dir>/xormod.{yaml,yml,json,toml}）"},
			&cli.StringFlag{Name: "mask", Aliases: []string{"m"}, Usage: "文件名后缀 `S`（空串匹配所有文件）"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "输出目录 `DIR`（必须已存在）"},
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "8 字节十六进制 key，例如 0x0102030405060708"},
			&cli.StringFlag{Name: "policy", Usage: "重名策略：overwrite|append-suffix"},
			&cli.BoolFlag{Name: "delete", Usage: "写入成功后删除源文件（--delete=false 可覆盖配置）"},
			&cli.IntFlag{Name: "interval-ms", Usage: fmt.Sprintf("周期间隔毫秒；0 只运行一次，否则 [%d, %d]", config.MinIntervalMS, config.MaxIntervalMS)},
			&cli.IntFlag{Name: "workers", Usage: fmt.Sprintf("并发处理文件数（默认 %d，范围 [1, 32]）", config.DefaultWorkers)},
			&cli.StringFlag{Name: "history-db", Usage: "记录每轮结果的 SQLite 文件 `FILE`"},
			&cli.StringFlag{Name: "report", Usage: "把最近一轮的 CycleReport JSON 原子写入 `FILE`"},
			&cli.StringFlag{Name: "log-level", Usage: "日志级别：trace|debug|info|warn|error"},
			&cli.BoolFlag{Name: "log-json", Usage: "日志输出 JSON 行（默认人类可读）"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return cli.Exit(fmt.Sprintf("参数错误：run 不接受位置参数 %q", c.Args().First()), exitUsage)
			}
			return runAction(c.Context, cliArgsFrom(c), runOptions{
				ReportFile: c.String("report"),
				LogJSON:    c.Bool("log-json"),
				Stdout:     stdout,
				Stderr:     stderr,
			})
		},
	}
}

// cliArgsFrom 把 flag 转为 config.CLIArgs，并保留“是否显式指定”。
func cliArgsFrom(c *cli.Context) config.CLIArgs {
	return config.CLIArgs{
		WorkDir:    c.String("dir"),
		ConfigFile: c.String("config"),

		Mask:    c.String("mask"),
		MaskSet: c.IsSet("mask"),

		Output:    c.String("out"),
		OutputSet: c.IsSet("out"),

		Key:    c.String("key"),
		KeySet: c.IsSet("key"),

		Policy:    c.String("policy"),
		PolicySet: c.IsSet("policy"),

		Delete:    c.Bool("delete"),
		DeleteSet: c.IsSet("delete"),

		IntervalMS:  c.Int("interval-ms"),
		IntervalSet: c.IsSet("interval-ms"),

		Workers:    c.Int("workers"),
		WorkersSet: c.IsSet("workers"),

		HistoryDB:    c.String("history-db"),
		HistoryDBSet: c.IsSet("history-db"),

		LogLevel:    c.String("log-level"),
		LogLevelSet: c.IsSet("log-level"),
	}
}

type runOptions struct {
	ReportFile string
	LogJSON    bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func runAction(parent context.Context, args config.CLIArgs, opts runOptions) error {
	if parent == nil {
		parent = context.Background()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return cli.Exit(fmt.Sprintf("读取当前目录失败：%v", err), exitFailed)
	}

	eff, err := config.LoadEffective(cwd, args)
	if err != nil {
		return cli.Exit(fmt.Sprintf("配置错误：%v", err), exitUsage)
	}
	// key 长度在任何文件 I/O 之前校验。
	if err := run.Configure(eff.Transform); err != nil {
		return cli.Exit(fmt.Sprintf("配置错误：%v", err), exitUsage)
	}

	reportAbs := ""
	if opts.ReportFile != "" {
		if reportAbs, err = filepath.Abs(opts.ReportFile); err != nil {
			return cli.Exit(fmt.Sprintf("参数错误：--report %v", err), exitUsage)
		}
	}
	tc := withExclude(eff.Transform, reportAbs)

	level, _ := logx.ParseLevel(eff.LogLevel)
	logger := logx.New(opts.Stderr, level, opts.LogJSON)
	if eff.ConfigFile != "" {
		logger.Debug().Str("file", eff.ConfigFile).Msg("使用配置文件")
	}

	var store *history.Store
	if eff.HistoryDB != "" {
		store, err = history.Open(eff.HistoryDB)
		if err != nil {
			return cli.Exit(fmt.Sprintf("打开 history 数据库失败：%v", err), exitFailed)
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	em := newEmitter(opts.Stdout, opts.Stderr)
	var obs run.Observer
	if w, interactive := pickProgressWriter(); interactive {
		obs = newProgressUI(w)
	}

	sink := &cycleSink{
		log:        logger,
		emitter:    em,
		store:      store,
		reportFile: reportAbs,
	}

	if eff.Transform.Interval == 0 {
		rr, err := run.RunCycleWithObserver(ctx, tc, eff.WorkDir, obs)
		sink.handle(rr, err)
		return exitFor(rr, err)
	}

	// 周期模式：interval 在启动时确定；mask/key/输出目录等每轮重新读取。
	source := func(context.Context) (domain.TransformConfig, error) {
		e, err := config.LoadEffective(cwd, args)
		if err != nil {
			return domain.TransformConfig{}, err
		}
		return withExclude(e.Transform, reportAbs), nil
	}

	logger.Info().
		Dur("interval", eff.Transform.Interval).
		Str("dir", eff.WorkDir).
		Msg("周期模式启动（Ctrl+C 停止）")

	h, err := schedule.StartPeriodic(ctx, source, eff.WorkDir, eff.Transform.Interval, schedule.Options{
		Observer: obs,
		OnCycle:  sink.handle,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("启动周期任务失败：%v", err), exitFailed)
	}

	<-ctx.Done()
	logger.Info().Msg("收到停止信号，等待当前一轮结束")
	h.Cancel()
	h.Wait()
	logger.Info().
		Int64("cycles", h.Cycles()).
		Int64("skipped", h.Skipped()).
		Msg("周期模式已停止")
	return nil
}

// cycleSink 处理每一轮的结果：输出报告、写 history、写 --report 文件。
// schedule 保证同一时刻最多一次调用。
type cycleSink struct {
	log        zerolog.Logger
	emitter    *emitter
	store      *history.Store
	reportFile string
}

func (s *cycleSink) handle(rr domain.CycleReport, err error) {
	if rr.CycleID == "" {
		// 配置读取失败（周期模式）：没有报告可输出。
		if err != nil {
			s.emitter.emitError(err)
		}
		return
	}
	if err != nil {
		s.emitter.emitError(err)
	}

	s.emitter.emitReport(rr)

	if s.store != nil {
		if e := s.store.Record(context.Background(), rr); e != nil {
			s.log.Error().Err(e).Str("cycle", rr.CycleID).Msg("写入 history 失败")
		}
	}
	if s.reportFile != "" {
		if e := writeReportFile(s.reportFile, rr); e != nil {
			s.log.Error().Err(e).Str("file", s.reportFile).Msg("写入报告文件失败")
		}
	}
}

// withExclude 把 --report 文件加入排除列表（配置文件与 history 数据库已由 config 填入）。
func withExclude(tc domain.TransformConfig, reportFile string) domain.TransformConfig {
	if reportFile == "" {
		return tc
	}
	tc.Exclude = append(append([]string(nil), tc.Exclude...), reportFile)
	return tc
}

// exitFor 把单次 cycle 的结果映射为退出码。
func exitFor(rr domain.CycleReport, err error) error {
	if err != nil {
		return cli.Exit("", exitFailed)
	}
	if rr.Summary.Failed() > 0 {
		return cli.Exit("", exitFailed)
	}
	return nil
}
