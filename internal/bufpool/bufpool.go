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

package bufpool

import (
	"bytes"
	"sync"
)

// maxRecycleSize 超过此大小的 buffer 不再回收 避免单个超大请求长期占据内存
const maxRecycleSize = 1 << 20

var pool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

// Acquire 从池中取出一个干净的 *bytes.Buffer
func Acquire() *bytes.Buffer {
	return pool.Get().(*bytes.Buffer)
}

// Release 归还 buffer 至池中
func Release(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxRecycleSize {
		return
	}
	buf.Reset()
	pool.Put(buf)
}
