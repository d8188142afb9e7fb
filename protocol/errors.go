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

package protocol

import (
	"github.com/pkg/errors"
)

// ErrKind 错误类别
//
// 类别决定了调用驱动层的恢复策略 而非具体的错误类型
type ErrKind uint8

const (
	// KindUnknown 未分类错误
	KindUnknown ErrKind = iota

	// KindMalformed 请求本身非法 在任何 I/O 开始前同步失败
	KindMalformed

	// KindDNS 域名解析失败 尝试下一个代理 均失败后上抛
	KindDNS

	// KindConnect TCP / TLS 建链失败 标记路由失败并尝试下一个 plan
	KindConnect

	// KindProtocol 协议错误 关闭链接 不可重试
	KindProtocol

	// KindFlowControl 对端违反流控 以 FLOW_CONTROL_ERROR 关闭链接
	KindFlowControl

	// KindRefusedStream 对端拒绝流 body 可重放时允许在新链接上重试
	KindRefusedStream

	// KindStreamReset 流被重置 链接本身仍然可用
	KindStreamReset

	// KindTimeout 超时 取消调用 读写与 ping 超时同时关闭链接
	KindTimeout

	// KindCanceled 主动取消 以取消而非失败上抛
	KindCanceled

	// KindPrematureEOF 读取 body 过程中对端提前关闭 链接不可复用
	KindPrematureEOF
)

var kindNames = map[ErrKind]string{
	KindUnknown:       "unknown",
	KindMalformed:     "malformed",
	KindDNS:           "dns",
	KindConnect:       "connect",
	KindProtocol:      "protocol",
	KindFlowControl:   "flow_control",
	KindRefusedStream: "refused_stream",
	KindStreamReset:   "stream_reset",
	KindTimeout:       "timeout",
	KindCanceled:      "canceled",
	KindPrematureEOF:  "premature_eof",
}

func (k ErrKind) String() string {
	s, ok := kindNames[k]
	if !ok {
		return "unknown"
	}
	return s
}

// Error 携带类别与协议错误码的错误
type Error struct {
	Kind ErrKind

	// Code 协议级错误码 HTTP/2 的 ErrorCode 或 WebSocket 的 CloseCode
	// 无错误码语义的类别为 0
	Code uint32

	cause error
}

// NewError 构造 *Error
func NewError(kind ErrKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// NewCodeError 构造携带协议错误码的 *Error
func NewCodeError(kind ErrKind, code uint32, cause error) *Error {
	return &Error{Kind: kind, Code: code, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf 提取错误的类别 非 *Error 返回 KindUnknown
func KindOf(err error) ErrKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// ConnectionReusable 返回出现此错误后 链接是否仍可继续复用
func ConnectionReusable(err error) bool {
	switch KindOf(err) {
	case KindStreamReset, KindRefusedStream:
		return true
	}
	return false
}

// RouteRetryable 返回错误是否允许换路由重试
//
// 是否真正重试还需结合 body 可重放性与响应字节是否已到达 由调用驱动层裁决
func RouteRetryable(err error) bool {
	switch KindOf(err) {
	case KindDNS, KindConnect, KindRefusedStream:
		return true
	}
	return false
}
