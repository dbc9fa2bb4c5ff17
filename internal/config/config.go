package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/John-Robertt/xormod/internal/domain"
	"github.com/John-Robertt/xormod/internal/infra/logx"
)

const (
	// ErrCodeNotFound 表示通过 --config 显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingOutput 表示缺少 output_path。
	ErrCodeMissingOutput = "config_missing_output"
	// ErrCodeMissingKey 表示缺少 key。
	ErrCodeMissingKey = "config_missing_key"
	// ErrCodeInvalidKey 表示 key 不是合法的十六进制。
	ErrCodeInvalidKey = "invalid_key"
	// ErrCodeInvalidInterval 表示 interval_ms 不在允许范围内。
	ErrCodeInvalidInterval = "invalid_interval"
)

const (
	// FileBaseName 是工作目录下自动发现的配置文件名（扩展名由 viper 识别：yaml/yml/json/toml）。
	FileBaseName = "xormod"
	// EnvPrefix 是环境变量前缀（XORMOD_MASK、XORMOD_OUTPUT_PATH ...）。
	EnvPrefix = "XORMOD"

	DefaultWorkers = 4
	MinIntervalMS  = 1000
	MaxIntervalMS  = 60000
)

// CLIArgs 保留“是否显式指定”的信息，保证覆盖优先级可实现：
// 例如 --delete=false 必须能覆盖配置文件中的 delete_source: true。
type CLIArgs struct {
	WorkDir    string
	ConfigFile string

	Mask    string
	MaskSet bool

	Output    string
	OutputSet bool

	Key    string
	KeySet bool

	Policy    string
	PolicySet bool

	Delete    bool
	DeleteSet bool

	IntervalMS  int
	IntervalSet bool

	Workers    int
	WorkersSet bool

	HistoryDB    string
	HistoryDBSet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 对应 xormod.yaml / 环境变量的解析结构。
type FileConfig struct {
	Mask       string `mapstructure:"mask"`
	OutputPath string `mapstructure:"output_path"`
	Policy     string `mapstructure:"overwrite_policy"`
	Key        string `mapstructure:"key"`
	Delete     bool   `mapstructure:"delete_source"`
	IntervalMS int    `mapstructure:"interval_ms"`
	Workers    int    `mapstructure:"workers"`
	HistoryDB  string `mapstructure:"history_db"`
	LogLevel   string `mapstructure:"log_level"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置。
type EffectiveConfig struct {
	WorkDir string
	// ConfigFile 是实际读取的配置文件；为空表示没有配置文件。
	ConfigFile string

	Transform domain.TransformConfig

	HistoryDB string
	LogLevel  string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingOutput:
		return fmt.Sprintf("%s：缺少必填字段 output_path（--out）", e.Code)
	case ErrCodeMissingKey:
		return fmt.Sprintf("%s：缺少必填字段 key（--key）", e.Code)
	default:
		if e.Err != nil && e.Path != "" {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置文件与环境变量，并与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// - 指定 --config：必须存在
// - 未指定：尝试 <workDir>/xormod.{yaml,yml,json,toml}（可选）
//
// 覆盖优先级（固定）：显式 CLI 参数 > XORMOD_* 环境变量 > 配置文件 > 默认值。
//
// 每次调用都使用独立的 viper 实例：周期模式下每个 tick 重新调用即可拿到最新配置。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	workDir, cfgPath, fc, err := load(cwd, cli)
	if err != nil {
		return EffectiveConfig{}, err
	}
	return merge(workDir, cfgPath, cli, fc)
}

// LoadHistoryDB 只解析 history_db（供 `xormod history` 使用），不要求 output_path/key。
// 返回空串表示没有配置。
func LoadHistoryDB(cwd string, cli CLIArgs) (string, error) {
	workDir, _, fc, err := load(cwd, cli)
	if err != nil {
		return "", err
	}
	if cli.HistoryDBSet {
		fc.HistoryDB = cli.HistoryDB
	}
	return absCleanFrom(workDir, fc.HistoryDB), nil
}

func load(cwd string, cli CLIArgs) (workDir, cfgPath string, fc FileConfig, err error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return "", "", FileConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}
	workDir = absCleanFrom(cwdAbs, cli.WorkDir)
	if workDir == "" {
		workDir = cwdAbs
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// 默认值同时让 AutomaticEnv 在 Unmarshal 时“认识”这些 key。
	v.SetDefault("mask", "")
	v.SetDefault("output_path", "")
	v.SetDefault("overwrite_policy", string(domain.PolicyOverwrite))
	v.SetDefault("key", "")
	v.SetDefault("delete_source", false)
	v.SetDefault("interval_ms", 0)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("history_db", "")
	v.SetDefault("log_level", logx.DefaultLevel)

	if strings.TrimSpace(cli.ConfigFile) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigFile)
		if _, err := os.Stat(cfgPath); err != nil {
			if os.IsNotExist(err) {
				return "", "", FileConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
			}
			return "", "", FileConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return "", "", FileConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	} else {
		v.SetConfigName(FileBaseName)
		v.AddConfigPath(workDir)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return "", "", FileConfig{}, &Error{Code: ErrCodeInvalid, Path: v.ConfigFileUsed(), Err: err}
			}
		} else {
			cfgPath = v.ConfigFileUsed()
		}
	}

	if err := v.Unmarshal(&fc); err != nil {
		return "", "", FileConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	return workDir, cfgPath, fc, nil
}

func merge(workDir, cfgPath string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	if cli.MaskSet {
		fc.Mask = cli.Mask
	}
	if cli.OutputSet {
		fc.OutputPath = cli.Output
	}
	if cli.KeySet {
		fc.Key = cli.Key
	}
	if cli.PolicySet {
		fc.Policy = cli.Policy
	}
	if cli.DeleteSet {
		fc.Delete = cli.Delete
	}
	if cli.IntervalSet {
		fc.IntervalMS = cli.IntervalMS
	}
	if cli.WorkersSet {
		fc.Workers = cli.Workers
	}
	if cli.HistoryDBSet {
		fc.HistoryDB = cli.HistoryDB
	}
	if cli.LogLevelSet {
		fc.LogLevel = cli.LogLevel
	}

	if strings.TrimSpace(fc.OutputPath) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingOutput, Path: cfgPath}
	}
	if strings.TrimSpace(fc.Key) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingKey, Path: cfgPath}
	}
	key, err := domain.ParseKeyHex(fc.Key)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalidKey, Path: cfgPath, Err: err}
	}

	policy, err := domain.ParsePolicy(fc.Policy)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	if fc.IntervalMS != 0 && (fc.IntervalMS < MinIntervalMS || fc.IntervalMS > MaxIntervalMS) {
		return EffectiveConfig{}, &Error{
			Code: ErrCodeInvalidInterval,
			Path: cfgPath,
			Err:  fmt.Errorf("interval_ms 必须为 0（只运行一次）或位于 [%d, %d]，实际是 %d", MinIntervalMS, MaxIntervalMS, fc.IntervalMS),
		}
	}

	if _, err := logx.ParseLevel(fc.LogLevel); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	workers := fc.Workers
	if workers == 0 {
		workers = DefaultWorkers
	}
	// 范围 [1, 32]；超出截断。
	if workers < 1 {
		workers = 1
	}
	if workers > 32 {
		workers = 32
	}

	historyDB := strings.TrimSpace(fc.HistoryDB)
	if historyDB != "" {
		historyDB = absCleanFrom(workDir, historyDB)
	}

	return EffectiveConfig{
		WorkDir:    workDir,
		ConfigFile: cfgPath,
		Transform: domain.TransformConfig{
			Mask:         fc.Mask,
			OutputDir:    absCleanFrom(workDir, fc.OutputPath),
			Policy:       policy,
			Key:          key,
			DeleteSource: fc.Delete,
			Interval:     time.Duration(fc.IntervalMS) * time.Millisecond,
			Workers:      workers,
			Exclude:      ownFiles(cfgPath, historyDB),
		},
		HistoryDB: historyDB,
		LogLevel:  strings.ToLower(strings.TrimSpace(fc.LogLevel)),
	}, nil
}

// HistorySidecars 是 SQLite（WAL 模式）在数据库文件旁创建的文件后缀。
var HistorySidecars = []string{"-wal", "-shm", "-journal"}

// ownFiles 列出工具自身读写的文件；它们位于工作目录时不能被当作输入处理。
func ownFiles(cfgPath, historyDB string) []string {
	var out []string
	if cfgPath != "" {
		out = append(out, cfgPath)
	}
	if historyDB != "" {
		out = append(out, historyDB)
		for _, s := range HistorySidecars {
			out = append(out, historyDB+s)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
