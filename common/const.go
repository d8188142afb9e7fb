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

package common

const (
	// App 应用程序名称
	App = "wirecall"

	// Version 应用程序版本
	Version = "v0.1.0"

	// ReadWriteBlockSize 默认的读写缓冲区长度
	//
	// 链接的读写均经过 bufio 缓冲 过大的缓冲区在高并发场景下会造成过多的内存开销
	// 4K 是一个折中值 与多数内核 socket buffer 的页大小对齐
	ReadWriteBlockSize = 4096

	// MaxHeaderBlockSize 默认允许的最大 Header 序列化长度
	//
	// 请求或响应的 Header 超过此长度视为异常 避免对端恶意构造超大 Header 耗尽内存
	// 与 HTTP/2 SETTINGS_MAX_HEADER_LIST_SIZE 的语义保持一致
	MaxHeaderBlockSize = 256 * 1024
)
