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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendWindowTake(t *testing.T) {
	w := newSendWindow(10)

	n, err := w.take(4, time.Time{})
	assert.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = w.take(100, time.Time{})
	assert.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, int64(0), w.available())
}

func TestSendWindowBlocksUntilCredit(t *testing.T) {
	w := newSendWindow(0)

	var wg sync.WaitGroup
	wg.Add(1)
	var got int64
	go func() {
		defer wg.Done()
		n, err := w.take(8, time.Time{})
		assert.NoError(t, err)
		got = n
	}()

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, w.add(8))
	wg.Wait()
	assert.Equal(t, int64(8), got)
}

func TestSendWindowNegativeCredit(t *testing.T) {
	// SETTINGS_INITIAL_WINDOW_SIZE 回溯缩窗可能令窗口变为负数
	w := newSendWindow(4)
	assert.NoError(t, w.add(-10))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := w.take(1, time.Time{})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
		t.Fatal("take should block while window is negative")
	case <-time.After(20 * time.Millisecond):
	}

	assert.NoError(t, w.add(7)) // -6 -> 1
	<-done
}

func TestSendWindowDeadline(t *testing.T) {
	w := newSendWindow(0)

	_, err := w.take(1, time.Now().Add(30*time.Millisecond))
	assert.ErrorIs(t, err, errWriteTimeout)
}

func TestSendWindowFail(t *testing.T) {
	w := newSendWindow(0)
	cause := newError("boom")

	done := make(chan error, 1)
	go func() {
		_, err := w.take(1, time.Time{})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	w.fail(cause)
	assert.Equal(t, cause, <-done)
}

func TestSendWindowOverflow(t *testing.T) {
	w := newSendWindow(maxWindowSize)
	assert.Error(t, w.add(1))
}

func TestRecvWindowHalfFullTrigger(t *testing.T) {
	w := newRecvWindow(100)

	assert.True(t, w.recv(30))
	assert.Equal(t, int64(0), w.release(30)) // 30*2 < 100 不触发

	assert.True(t, w.recv(30))
	assert.Equal(t, int64(60), w.release(30)) // 60*2 >= 100 补齐全部消费量
	assert.Equal(t, int64(100), w.avail)
}

func TestRecvWindowViolation(t *testing.T) {
	w := newRecvWindow(10)
	assert.True(t, w.recv(10))
	assert.False(t, w.recv(1))
}
