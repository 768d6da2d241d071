package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"svcmonitor/internal/probe"
)

// SQLiteLog SQLite 事件日志，每批一个事务
type SQLiteLog struct {
	db       *sql.DB
	pos      int64
	readOnly bool
	mu       sync.Mutex
}

// OpenSQLiteLog 打开或创建 SQLite 事件日志
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: 创建数据目录失败: %v", ErrPersistenceWrite, err)
		}
	}

	db, err := openSQLite(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}

	l := &SQLiteLog{db: db}
	if err := l.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: 创建事件表失败: %v", ErrPersistenceWrite, err)
	}
	if l.pos, err = l.maxID(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	return l, nil
}

func openSQLiteReader(path string) (*SQLiteLog, error) {
	db, err := openSQLite(path, true)
	if err != nil {
		return nil, err
	}
	l := &SQLiteLog{db: db, readOnly: true}
	if l.pos, err = l.maxID(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func openSQLite(path string, readOnly bool) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(FULL)")
	}
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接 SQLite 失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// createTables 创建事件表
func (l *SQLiteLog) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		target_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		latency_ms REAL NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_target ON events(target_key);
	`
	_, err := l.db.Exec(schema)
	return err
}

func (l *SQLiteLog) maxID() (int64, error) {
	var id sql.NullInt64
	if err := l.db.QueryRow(`SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("查询事件位置失败: %w", err)
	}
	return id.Int64, nil
}

// Append 整批写入，全部成功或全部失败
func (l *SQLiteLog) Append(batch []probe.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readOnly {
		return l.pos, fmt.Errorf("%w: 只读日志", ErrPersistenceWrite)
	}
	if len(batch) == 0 {
		return l.pos, nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return l.pos, fmt.Errorf("%w: 开启事务失败: %v", ErrPersistenceWrite, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (ts, target_key, name, success, latency_ms, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return l.pos, fmt.Errorf("%w: 准备写入语句失败: %v", ErrPersistenceWrite, err)
	}
	defer stmt.Close()

	var last int64
	for _, ev := range batch {
		res, err := stmt.Exec(
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ev.TargetKey,
			ev.Name,
			boolToInt(ev.Success),
			ev.LatencyMs,
			string(ev.ErrorKind),
			ev.ErrorMessage,
		)
		if err != nil {
			return l.pos, fmt.Errorf("%w: 写入事件失败: %v", ErrPersistenceWrite, err)
		}
		if last, err = res.LastInsertId(); err != nil {
			return l.pos, fmt.Errorf("%w: 读取事件ID失败: %v", ErrPersistenceWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return l.pos, fmt.Errorf("%w: 提交事务失败: %v", ErrPersistenceWrite, err)
	}
	l.pos = last
	return l.pos, nil
}

// Replay 按 rowid 顺序读取 from 之后的事件
func (l *SQLiteLog) Replay(from int64, fn func(pos int64, ev probe.Event) error) (int64, error) {
	rows, err := l.db.Query(`
		SELECT id, ts, target_key, name, success, latency_ms, error_kind, error_message
		FROM events
		WHERE id > ?
		ORDER BY id
	`, from)
	if err != nil {
		return from, fmt.Errorf("查询事件失败: %w", err)
	}

	// 先读出整批再回调，避免回调期间占用唯一的连接
	type row struct {
		id int64
		ev probe.Event
	}
	var batch []row
	for rows.Next() {
		var (
			r       row
			ts      string
			success int
			kind    string
		)
		if err := rows.Scan(&r.id, &ts, &r.ev.TargetKey, &r.ev.Name, &success,
			&r.ev.LatencyMs, &kind, &r.ev.ErrorMessage); err != nil {
			rows.Close()
			return from, fmt.Errorf("读取事件失败: %w", err)
		}
		r.ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.ev.Success = success != 0
		r.ev.ErrorKind = probe.ErrorKind(kind)
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return from, fmt.Errorf("遍历事件失败: %w", err)
	}
	rows.Close()

	pos := from
	for _, r := range batch {
		pos = r.id
		if err := fn(pos, r.ev); err != nil {
			return pos, err
		}
	}
	return pos, nil
}

// Position 最后一条事件的 rowid
func (l *SQLiteLog) Position() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

// Close 关闭数据库连接
func (l *SQLiteLog) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ EventLog = (*SQLiteLog)(nil)
