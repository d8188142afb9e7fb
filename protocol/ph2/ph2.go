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
	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "http2: " + format
	return errors.Errorf(format, args...)
}

const (
	PROTO = "HTTP/2"
)

// connPreface 客户端建链后发送的 24 字节前言 明文传输
var connPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// HTTP/2 标准定义的帧类型如下
//
// * DATA Frame: 传输流的应用数据
// * HEADERS Frame: 传输头部信息 一般用于发起新流
// * PRIORITY Frame: 指定或重新指定流的优先级
// * RST_STREAM Frame: 终止流
// * SETTINGS Frame: 协商连接级参数
// * PUSH_PROMISE Frame: 服务器向客户端表明将发起流
// * PING Frame: 测量往返时间 检查连接活性
// * GOAWAY Frame: 通知对端不再接受新流
// * WINDOW_UPDATE Frame: 实现流量控制 调整窗口大小
// * CONTINUATION Frame: 继续传输因单个 HEADERS 或 PUSH_PROMISE 帧无法容纳的头部块
const (
	frameData         = 0x0
	frameHeaders      = 0x1
	framePriority     = 0x2
	frameRSTStream    = 0x3
	frameSettings     = 0x4
	framePushPromise  = 0x5
	framePing         = 0x6
	frameGoAway       = 0x7
	frameWindowUpdate = 0x8
	frameContinuation = 0x9

	// frameTypeMax 大于此值的帧类型为扩展帧 接收方必须静默忽略
	frameTypeMax = 0x9
)

const (
	// flagEndStream 用于 DATA 和 HEADERS 帧 表示当前是流的最后一帧
	flagEndStream = 0x1

	// flagAck 用于 SETTINGS 和 PING 帧 表示这是一个确认帧
	flagAck = 0x1

	// flagEndHeaders 用于 HEADERS/PUSH_PROMISE/CONTINUATION 帧
	// 表示完整的头部块已传输完毕
	flagEndHeaders = 0x4

	// flagPadded 用于 DATA/HEADERS/PUSH_PROMISE 帧
	// 表示帧包含填充数据（Pad Length + 填充字节）
	flagPadded = 0x8

	// flagPriority 用于 HEADERS 帧 表示包含优先级信息
	flagPriority = 0x20
)

const (
	// headerLength HTTP/2 标准定义的帧头部长度
	headerLength = 9

	// maxPayloadSize HTTP2 帧最大 payload 大小 即 24 位无符号整数的上限
	maxPayloadSize = 0xFFFFFF

	// streamIDMask 帧头部中 StreamID 的掩码 最高位为保留位
	streamIDMask = 0x7fffffff
)

// HTTP/2 标准定义的连接级错误码
const (
	ErrCodeNo                 uint32 = 0x0
	ErrCodeProtocol           uint32 = 0x1
	ErrCodeInternal           uint32 = 0x2
	ErrCodeFlowControl        uint32 = 0x3
	ErrCodeSettingsTimeout    uint32 = 0x4
	ErrCodeStreamClosed       uint32 = 0x5
	ErrCodeFrameSize          uint32 = 0x6
	ErrCodeRefusedStream      uint32 = 0x7
	ErrCodeCancel             uint32 = 0x8
	ErrCodeCompression        uint32 = 0x9
	ErrCodeConnect            uint32 = 0xa
	ErrCodeEnhanceYourCalm    uint32 = 0xb
	ErrCodeInadequateSecurity uint32 = 0xc
	ErrCodeHTTP11Required     uint32 = 0xd
)

var errCodeNames = map[uint32]string{
	ErrCodeNo:                 "NO_ERROR",
	ErrCodeProtocol:           "PROTOCOL_ERROR",
	ErrCodeInternal:           "INTERNAL_ERROR",
	ErrCodeFlowControl:        "FLOW_CONTROL_ERROR",
	ErrCodeSettingsTimeout:    "SETTINGS_TIMEOUT",
	ErrCodeStreamClosed:       "STREAM_CLOSED",
	ErrCodeFrameSize:          "FRAME_SIZE_ERROR",
	ErrCodeRefusedStream:      "REFUSED_STREAM",
	ErrCodeCancel:             "CANCEL",
	ErrCodeCompression:        "COMPRESSION_ERROR",
	ErrCodeConnect:            "CONNECT_ERROR",
	ErrCodeEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	ErrCodeInadequateSecurity: "INADEQUATE_SECURITY",
	ErrCodeHTTP11Required:     "HTTP_1_1_REQUIRED",
}

// ErrCodeName 返回错误码的标准名称
func ErrCodeName(code uint32) string {
	s, ok := errCodeNames[code]
	if !ok {
		return "UNKNOWN_ERROR"
	}
	return s
}

// HTTP/2 标准定义的 SETTINGS 参数
const (
	settingHeaderTableSize      uint16 = 0x1
	settingEnablePush           uint16 = 0x2
	settingMaxConcurrentStreams uint16 = 0x3
	settingInitialWindowSize    uint16 = 0x4
	settingMaxFrameSize         uint16 = 0x5
	settingMaxHeaderListSize    uint16 = 0x6
)

const (
	// defaultWindowSize 标准规定的初始窗口大小
	defaultWindowSize = 65535

	// defaultMaxFrameSize 标准规定的初始最大帧大小
	defaultMaxFrameSize = 16384

	// defaultHeaderTableSize 标准规定的 HPACK 动态表初始大小
	defaultHeaderTableSize = 4096

	// maxWindowSize 窗口大小上限 即 31 位有符号整数的上限
	maxWindowSize = 1<<31 - 1
)

// Settings 连接级参数集
//
// 所有字段按原值编码进 SETTINGS 帧 零值不会被替换为标准默认值
// 完整的客户端默认值见 DefaultSettings
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultSettings 返回客户端默认参数
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      defaultHeaderTableSize,
		EnablePush:           false,
		MaxConcurrentStreams: 128,
		InitialWindowSize:    defaultWindowSize,
		MaxFrameSize:         defaultMaxFrameSize,
		MaxHeaderListSize:    256 * 1024,
	}
}

// 在 HTTP/2 请求中 必须包含以下伪头部
//
// RFC 7540:
//  All HTTP/2 requests MUST include exactly one valid value for the :method, :scheme, and :path pseudo-header fields,
//  unless it is a CONNECT request [...] The :authority pseudo-header field MAY be omitted [...]
//  if the target URI includes an authority component.
//
// 伪头部字段必须位于常规头部字段之前 名称必须为小写且禁止重复
const (
	headerMethod    = ":method"
	headerScheme    = ":scheme"
	headerPath      = ":path"
	headerAuthority = ":authority"
	headerStatus    = ":status"
)
