package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// KeySize 是 XOR 密钥的固定长度（字节）。
const KeySize = 8

// OverwritePolicy 决定输出文件名：保留原名或追加 "_mod"。
//
// 注意：overwrite 的含义是“不改名”，不是“原地覆盖源文件”；输出目录可以与源目录不同。
type OverwritePolicy string

const (
	PolicyOverwrite    OverwritePolicy = "overwrite"
	PolicyAppendSuffix OverwritePolicy = "append-suffix"
)

// ParsePolicy 解析 overwrite_policy；空串视为 overwrite。
func ParsePolicy(s string) (OverwritePolicy, error) {
	switch OverwritePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyOverwrite:
		return PolicyOverwrite, nil
	case PolicyAppendSuffix:
		return PolicyAppendSuffix, nil
	default:
		return "", fmt.Errorf("overwrite_policy 只能是 overwrite 或 append-suffix，实际是 %q", s)
	}
}

// Key 是 XOR 密钥。合法的 Key 长度必须恰好为 KeySize；长度校验由 run.Configure 负责，
// 这里不强制，便于把“长度不对”作为结构化错误上报。
type Key []byte

// ParseKeyHex 把十六进制文本解码为 Key。
// 允许 "0x" 前缀，以及空格、':'、'-' 作为分隔符（例如 "de:ad:be:ef:00:11:22:33"）。
func ParseKeyHex(s string) (Key, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("key 为空")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key 不是合法的十六进制：%w", err)
	}
	return Key(b), nil
}

// String 以小写十六进制输出（用于日志/报告；密钥本身不是机密，XOR 不提供安全性）。
func (k Key) String() string { return hex.EncodeToString(k) }

// TransformConfig 是一次 cycle 使用的不可变配置快照。
//
// 周期模式下每个 tick 都会重新读取一份新的快照，因此对配置的修改在下一个 tick 生效。
type TransformConfig struct {
	Mask         string
	OutputDir    string
	Policy       OverwritePolicy
	Key          Key
	DeleteSource bool

	// Interval 为 0 表示只运行一次。
	Interval time.Duration
	Workers  int

	// Exclude 是工具自身使用的文件（配置文件、history 数据库及其 -wal/-shm、报告文件），
	// 绝对路径。它们既不会被当作输入，也不能被输出覆盖。
	Exclude []string
}
