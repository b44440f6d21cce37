// Package jsonl 实现异步 JSONL 决策日志写入。
// 周期热路径只负责投递，JSON 编码与文件 I/O 在后台协程完成。
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type command int

const (
	cmdRecord command = iota
	cmdFlush
	cmdClose
)

type envelope struct {
	cmd  command
	rec  any
	done chan error
}

// Recorder 异步 JSONL 记录器
// Record 非阻塞投递；缓冲满时丢弃并返回错误，绝不阻塞交易周期。
type Recorder struct {
	// path 输出文件路径
	path string
	// ch 投递通道
	ch chan envelope

	mu     sync.Mutex
	closed bool

	wg sync.WaitGroup
}

// NewRecorder 创建 JSONL 记录器
// 参数 path: 输出文件路径（目录不存在时自动创建）
// 参数 bufferSize: 投递缓冲区大小
func NewRecorder(path string, bufferSize int) (*Recorder, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	r := &Recorder{
		path: path,
		ch:   make(chan envelope, bufferSize),
	}

	r.wg.Add(1)
	go r.loop(f)
	return r, nil
}

// Record 投递一条记录
// 缓冲已满或记录器已关闭时返回错误；调用方通常忽略该错误（日志尽力而为）。
func (r *Recorder) Record(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("记录器已关闭")
	}

	select {
	case r.ch <- envelope{cmd: cmdRecord, rec: v}:
		return nil
	default:
		return fmt.Errorf("记录缓冲已满，丢弃")
	}
}

// Flush 同步刷新缓冲到磁盘
func (r *Recorder) Flush() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("记录器已关闭")
	}
	done := make(chan error, 1)
	r.ch <- envelope{cmd: cmdFlush, done: done}
	r.mu.Unlock()
	return <-done
}

// Close 关闭记录器
// 写出全部在途记录后关闭文件；重复关闭为空操作。
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	done := make(chan error, 1)
	r.ch <- envelope{cmd: cmdClose, done: done}
	r.mu.Unlock()

	err := <-done
	r.wg.Wait()
	return err
}

// loop 后台写入循环
// 顺序处理投递：编码、写文件、刷新、关闭。
func (r *Recorder) loop(f *os.File) {
	defer r.wg.Done()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	for env := range r.ch {
		switch env.cmd {
		case cmdRecord:
			// 编码失败只能丢弃该条，写入循环继续
			_ = enc.Encode(env.rec)

		case cmdFlush:
			env.done <- w.Flush()

		case cmdClose:
			flushErr := w.Flush()
			closeErr := f.Close()
			if flushErr != nil {
				env.done <- flushErr
			} else {
				env.done <- closeErr
			}
			return
		}
	}
}
