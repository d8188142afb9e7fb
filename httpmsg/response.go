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

package httpmsg

import (
	"io"
	"time"

	"github.com/goccy/go-json"
)

// Socket 是 upgrade 之后交还给调用方的原始双工流
type Socket interface {
	io.Reader
	io.Writer
	io.Closer

	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// BodyStream 响应体的惰性读取流
type BodyStream struct {
	rc            io.ReadCloser
	contentType   string
	contentLength int64
}

// NewBodyStream 构造响应体流 contentLength 未知时传入 -1
func NewBodyStream(rc io.ReadCloser, contentType string, contentLength int64) *BodyStream {
	return &BodyStream{
		rc:            rc,
		contentType:   contentType,
		contentLength: contentLength,
	}
}

func (bs *BodyStream) Read(p []byte) (int, error) {
	return bs.rc.Read(p)
}

func (bs *BodyStream) Close() error {
	return bs.rc.Close()
}

// ContentType 返回 Content-Type
func (bs *BodyStream) ContentType() string {
	return bs.contentType
}

// ContentLength 返回内容长度 -1 代表未知
func (bs *BodyStream) ContentLength() int64 {
	return bs.contentLength
}

// Response 一次 Exchange 的响应
type Response struct {
	// StatusCode 取值范围 [100, 999]
	StatusCode int

	// Reason 原因短语 可能为空
	Reason string

	// Proto 取值 HTTP/1.0 / HTTP/1.1 / HTTP/2
	Proto string

	Header *Header
	Body   *BodyStream

	// Socket 仅在 101 upgrade 成功时非空
	Socket Socket
}

// IsRedirect 返回响应是否为可跟随的重定向
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// Summary 返回响应摘要的 JSON 形式 仅用于日志与调试
func (r *Response) Summary() string {
	type summary struct {
		StatusCode    int    `json:"status_code"`
		Proto         string `json:"proto"`
		ContentType   string `json:"content_type,omitempty"`
		ContentLength int64  `json:"content_length"`
		Upgraded      bool   `json:"upgraded,omitempty"`
	}

	s := summary{
		StatusCode: r.StatusCode,
		Proto:      r.Proto,
		Upgraded:   r.Socket != nil,
	}
	if r.Body != nil {
		s.ContentType = r.Body.ContentType()
		s.ContentLength = r.Body.ContentLength()
	}
	b, _ := json.Marshal(s)
	return string(b)
}
