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
)

// Field Header 中的单个键值对
type Field struct {
	Name  string
	Value string
}

// Header 有序的 Header 集合
//
// 与 map 实现不同 Header 保留了插入顺序以及同名字段的重复项
// Name 匹配大小写不敏感 但展示时保留原始大小写
//
// Header 线程不安全 调用方需保证单线程访问
type Header struct {
	fields []Field
}

// NewHeader 创建并返回 *Header 实例
func NewHeader(fields ...Field) *Header {
	h := &Header{}
	for _, f := range fields {
		h.fields = append(h.fields, f)
	}
	return h
}

// Add 追加一个字段 不去重
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set 覆盖同名字段 仅保留一项
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del 删除所有同名字段
func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Get 返回第一个同名字段的值 不存在时返回空字符串
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values 返回所有同名字段的值
func (h *Header) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Has 返回字段是否存在
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Len 返回字段数量
func (h *Header) Len() int {
	return len(h.fields)
}

// Fields 返回底层字段切片 调用方不允许修改
func (h *Header) Fields() []Field {
	return h.fields
}

// Clone 深拷贝 Header
func (h *Header) Clone() *Header {
	cloned := &Header{fields: make([]Field, len(h.fields))}
	copy(cloned.fields, h.fields)
	return cloned
}

// EqualValue 判断字段值是否与期望相等 大小写不敏感
func (h *Header) EqualValue(name, want string) bool {
	return strings.EqualFold(h.Get(name), want)
}

// validToken 校验 Header Name 是否为合法的 RFC 7230 token
//
// token = 1*tchar
// tchar = "!" / "#" / "$" / "%" / "&" / "'" / "*" / "+" / "-" / "." /
//
//	"^" / "_" / "`" / "|" / "~" / DIGIT / ALPHA
func validToken(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// validValue 校验 Header Value 中不允许出现 TAB/SPACE 之外的控制字符
func validValue(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return false
		}
	}
	return true
}

// CheckField 校验单个字段是否合法 非法字段在任何 I/O 开始前即被拒绝
func CheckField(name, value string) error {
	if !validToken(name) {
		return newError("invalid header name %q", name)
	}
	if !validValue(value) {
		return newError("invalid header value for %q", name)
	}
	return nil
}

// Check 校验整个 Header
func (h *Header) Check() error {
	for _, f := range h.fields {
		if err := CheckField(f.Name, f.Value); err != nil {
			return err
		}
	}
	return nil
}
