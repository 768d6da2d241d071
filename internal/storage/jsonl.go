package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"svcmonitor/internal/logger"
	"svcmonitor/internal/probe"
)

// JSONLLog 每行一个 JSON 对象的事件日志
type JSONLLog struct {
	path     string
	file     *os.File
	pos      int64
	readOnly bool
	mu       sync.Mutex
}

// OpenJSONLLog 打开或创建日志文件，末尾不完整的行会被截断
func OpenJSONLLog(path string) (*JSONLLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: 创建数据目录失败: %v", ErrPersistenceWrite, err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开事件日志失败: %v", ErrPersistenceWrite, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: 读取事件日志信息失败: %v", ErrPersistenceWrite, err)
	}

	end, err := completeEnd(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: 扫描事件日志失败: %v", ErrPersistenceWrite, err)
	}
	if end < info.Size() {
		logger.Warnf("事件日志末尾存在不完整记录，截断 %d 字节: %s", info.Size()-end, path)
		if err := f.Truncate(end); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: 截断事件日志失败: %v", ErrPersistenceWrite, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: 同步事件日志失败: %v", ErrPersistenceWrite, err)
		}
	}

	return &JSONLLog{path: path, file: f, pos: end}, nil
}

func openJSONLReader(path string) (*JSONLLog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("访问事件日志失败: %w", err)
	}
	return &JSONLLog{path: path, pos: info.Size(), readOnly: true}, nil
}

// Append 一次 Write 写入整批事件后 fsync
func (l *JSONLLog) Append(batch []probe.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readOnly {
		return l.pos, fmt.Errorf("%w: 只读日志", ErrPersistenceWrite)
	}
	if len(batch) == 0 {
		return l.pos, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ev := range batch {
		// Encode 自带换行
		if err := enc.Encode(ev); err != nil {
			return l.pos, fmt.Errorf("%w: 序列化事件失败: %v", ErrPersistenceWrite, err)
		}
	}

	n, err := l.file.Write(buf.Bytes())
	if err == nil {
		err = l.file.Sync()
	}
	if err != nil {
		// 尽量回滚半写的批次，下次打开时也会截断
		if n > 0 {
			_ = l.file.Truncate(l.pos)
		}
		return l.pos, fmt.Errorf("%w: 写入事件日志失败: %v", ErrPersistenceWrite, err)
	}

	l.pos += int64(n)
	return l.pos, nil
}

// Replay 从字节偏移 from 开始读取完整行
// 无法解析的行记录告警后跳过，末尾没有换行的行视为写入中，不读取
func (l *JSONLLog) Replay(from int64, fn func(pos int64, ev probe.Event) error) (int64, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && l.readOnly {
			return from, nil
		}
		return from, fmt.Errorf("打开事件日志失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return from, fmt.Errorf("定位事件日志失败: %w", err)
	}

	pos := from
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			if len(line) > 0 {
				logger.Debugf("忽略事件日志末尾不完整的行 (%d 字节)", len(line))
			}
			return pos, nil
		}
		if err != nil {
			return pos, fmt.Errorf("读取事件日志失败: %w", err)
		}
		pos += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var ev probe.Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			logger.Warnf("跳过无法解析的事件 (偏移 %d): %v", pos-int64(len(line)), err)
			continue
		}
		if err := fn(pos, ev); err != nil {
			return pos, err
		}
	}
}

// Position 当前日志末尾位置
func (l *JSONLLog) Position() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

// Path 日志文件路径
func (l *JSONLLog) Path() string {
	return l.path
}

// Close 关闭日志文件
func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// completeEnd 返回最后一个换行符之后的偏移，即完整记录的末尾
func completeEnd(f *os.File, size int64) (int64, error) {
	const chunk = 64 * 1024
	buf := make([]byte, chunk)

	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

var _ EventLog = (*JSONLLog)(nil)
