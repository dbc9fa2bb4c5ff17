// Package logx 提供基于 zerolog 的日志初始化。
//
// 日志一律写到 stderr（或调用方给定的 writer），不污染 stdout 的 JSON 报告。
package logx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLevel 是未配置 log_level 时的级别。
const DefaultLevel = "info"

// ParseLevel 解析日志级别；空串视为 DefaultLevel。
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = DefaultLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log_level 无效：%q", s)
	}
	return lvl, nil
}

// New 构造 logger。jsonOut=false 时使用人类可读的 ConsoleWriter。
func New(w io.Writer, level zerolog.Level, jsonOut bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if !jsonOut {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop 返回丢弃所有输出的 logger（测试与库调用方默认值）。
func Nop() zerolog.Logger { return zerolog.Nop() }
