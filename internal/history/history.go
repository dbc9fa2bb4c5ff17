// Package history 把每一轮的 CycleReport 记录到 SQLite，供 `xormod history` 查询。
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/John-Robertt/xormod/internal/domain"
)

// DefaultLimit 是 Last 在 n<=0 时返回的条数。
const DefaultLimit = 20

// ErrClosed 表示 Store 已关闭。
var ErrClosed = errors.New("history: store 已关闭")

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id    TEXT NOT NULL UNIQUE,
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    written     INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    no_match    INTEGER NOT NULL,
    report      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles (started_at);`

// Store 是 SQLite 上的 cycle 记录表。并发安全。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open 打开（必要时创建）path 处的数据库。父目录不存在时会创建。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: 数据库路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: 创建目录失败：%w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode=wal&_pragma=busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: 打开 %s 失败：%w", path, err)
	}
	// 单写者：避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: 连接 %s 失败：%w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: 建表失败：%w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path 返回数据库文件路径。
func (s *Store) Path() string { return s.path }

// Record 追加一条 cycle 记录。cycle_id 重复时返回错误。
func (s *Store) Record(ctx context.Context, rr domain.CycleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if rr.CycleID == "" {
		return errors.New("history: cycle_id 为空")
	}

	b, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("history: 序列化报告失败：%w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycles (cycle_id, started_at, finished_at, written, failed, no_match, report)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rr.CycleID,
		rr.StartedAt.UTC().Format(time.RFC3339Nano),
		rr.FinishedAt.UTC().Format(time.RFC3339Nano),
		rr.Summary.Written,
		rr.Summary.Failed(),
		boolInt(rr.NoMatch),
		string(b),
	)
	if err != nil {
		return fmt.Errorf("history: 写入 cycle %s 失败：%w", rr.CycleID, err)
	}
	return nil
}

// Last 返回最近 n 条记录，按时间从旧到新排列。
func (s *Store) Last(ctx context.Context, n int) ([]domain.CycleReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		n = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT report FROM cycles ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: 查询失败：%w", err)
	}
	defer rows.Close()

	out := make([]domain.CycleReport, 0, n)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("history: 读取记录失败：%w", err)
		}
		var rr domain.CycleReport
		if err := json.Unmarshal([]byte(raw), &rr); err != nil {
			return nil, fmt.Errorf("history: 解析记录失败：%w", err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: 遍历记录失败：%w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close 关闭数据库；重复调用安全。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
