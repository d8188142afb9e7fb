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
	"strings"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "httpmsg: " + format
	return errors.Errorf(format, args...)
}

// Request 一次逻辑请求
//
// Request 创建后即视为不可变 followup（重定向/认证重试）通过 Derive 派生新实例
// attachments 为调用方自定义的类型化附件 用于携带 per-call 选项
type Request struct {
	Method string
	URL    *URLForm
	Header *Header
	Body   *RequestBody

	attachments map[any]any
}

// NewRequest 构造 Request 并完成 I/O 前的静态校验
func NewRequest(method string, u *URLForm, header *Header, body *RequestBody) (*Request, error) {
	if method == "" {
		return nil, newError("empty method")
	}
	if !validToken(method) {
		return nil, newError("invalid method %q", method)
	}
	if u == nil {
		return nil, newError("nil url")
	}
	if header == nil {
		header = NewHeader()
	}
	if err := header.Check(); err != nil {
		return nil, err
	}
	if header.Has("Host") && !strings.EqualFold(header.Get("Host"), u.Authority()) {
		return nil, newError("host header %q mismatches url authority %q", header.Get("Host"), u.Authority())
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: header,
		Body:   body,
	}, nil
}

// Derive 派生一个新请求 继承附件 用于 followup
func (r *Request) Derive(method string, u *URLForm, header *Header, body *RequestBody) (*Request, error) {
	derived, err := NewRequest(method, u, header, body)
	if err != nil {
		return nil, err
	}
	derived.attachments = r.attachments
	return derived, nil
}

// WithAttachment 附加类型化附件 返回携带附件的新实例
func (r *Request) WithAttachment(key, value any) *Request {
	cloned := *r
	cloned.attachments = make(map[any]any, len(r.attachments)+1)
	for k, v := range r.attachments {
		cloned.attachments[k] = v
	}
	cloned.attachments[key] = value
	return &cloned
}

// Attachment 获取类型化附件
func (r *Request) Attachment(key any) (any, bool) {
	v, ok := r.attachments[key]
	return v, ok
}

// IsUpgrade 返回请求是否声明了 Connection: upgrade
func (r *Request) IsUpgrade() bool {
	for _, v := range r.Header.Values("Connection") {
		if strings.EqualFold(strings.TrimSpace(v), "upgrade") {
			return true
		}
	}
	return false
}

// Idempotent 返回请求方法是否幂等
//
// 非幂等方法仅在 body 显式声明可重放时允许在首字节发出后重试
func (r *Request) Idempotent() bool {
	switch r.Method {
	case "GET", "HEAD", "OPTIONS", "DELETE", "TRACE":
		return true
	}
	return false
}
