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

package ph1

import (
	"bufio"
	"time"

	"github.com/wirecall/wirecall/transport"
)

// upgradeSocket 101 之后移交给调用方的原始双工流
//
// 读取优先消费 bufio 中已经缓冲的残留字节 之后直通底层流
// 写入不经过缓冲 调用方自行决定批量策略
type upgradeSocket struct {
	br *bufio.Reader
	s  transport.Stream
}

func (u *upgradeSocket) Read(p []byte) (int, error) {
	return u.br.Read(p)
}

func (u *upgradeSocket) Write(p []byte) (int, error) {
	return u.s.Write(p)
}

func (u *upgradeSocket) Close() error {
	return u.s.Close()
}

func (u *upgradeSocket) SetReadDeadline(t time.Time) error {
	return u.s.SetReadDeadline(t)
}

func (u *upgradeSocket) SetWriteDeadline(t time.Time) error {
	return u.s.SetWriteDeadline(t)
}
