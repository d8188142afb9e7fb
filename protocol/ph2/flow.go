// Copyright 2025 The wirecall Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ph2

import (
	"sync"
	"time"
)

// sendWindow 对端授予的发送信用
//
// 窗口为有符号计数 SETTINGS_INITIAL_WINDOW_SIZE 的回溯调整可能令其变为负数
// 信用耗尽时发送方阻塞在条件变量上 由 reader 任务在收到 WINDOW_UPDATE 后唤醒
type sendWindow struct {
	mut   sync.Mutex
	cond  *sync.Cond
	avail int64
	err   error
}

func newSendWindow(n int64) *sendWindow {
	w := &sendWindow{avail: n}
	w.cond = sync.NewCond(&w.mut)
	return w
}

// add 增加信用 负数代表 INITIAL_WINDOW_SIZE 回溯缩窗
func (w *sendWindow) add(n int64) error {
	w.mut.Lock()
	defer w.mut.Unlock()

	if w.avail+n > maxWindowSize {
		return newError("window overflow")
	}
	w.avail += n
	if w.avail > 0 {
		w.cond.Broadcast()
	}
	return nil
}

// take 获取至多 max 字节的信用 信用耗尽时阻塞
//
// deadline 非零时超时返回错误 被 fail 唤醒时返回失败原因
func (w *sendWindow) take(max int64, deadline time.Time) (int64, error) {
	w.mut.Lock()
	defer w.mut.Unlock()

	var timer *time.Timer
	var timedOut bool
	if !deadline.IsZero() {
		timer = time.AfterFunc(time.Until(deadline), func() {
			w.mut.Lock()
			timedOut = true
			w.mut.Unlock()
			w.cond.Broadcast()
		})
		defer timer.Stop()
	}

	for {
		if w.err != nil {
			return 0, w.err
		}
		if timedOut {
			return 0, errWriteTimeout
		}
		if w.avail > 0 {
			n := w.avail
			if n > max {
				n = max
			}
			w.avail -= n
			return n, nil
		}
		w.cond.Wait()
	}
}

// fail 以给定错误终结窗口 唤醒所有阻塞的发送方
func (w *sendWindow) fail(err error) {
	w.mut.Lock()
	defer w.mut.Unlock()
	if w.err == nil {
		w.err = err
	}
	w.cond.Broadcast()
}

// available 返回当前剩余信用 仅用于诊断与测试
func (w *sendWindow) available() int64 {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.avail
}

// recvWindow 本端通告的接收窗口
//
// 接收 DATA 时扣减 消费超过初始窗口的一半后向对端发送 WINDOW_UPDATE 补齐
// 即 "half-full trigger" 策略
type recvWindow struct {
	initial  int64
	avail    int64
	consumed int64
}

func newRecvWindow(n int64) *recvWindow {
	return &recvWindow{initial: n, avail: n}
}

// recv 记录收到 n 字节 返回是否违反流控
func (w *recvWindow) recv(n int64) bool {
	if n > w.avail {
		return false
	}
	w.avail -= n
	return true
}

// release 记录应用层消费了 n 字节 返回应向对端补齐的增量 0 代表暂不发送
func (w *recvWindow) release(n int64) int64 {
	w.consumed += n
	if w.consumed*2 < w.initial {
		return 0
	}

	delta := w.consumed
	w.consumed = 0
	w.avail += delta
	return delta
}
