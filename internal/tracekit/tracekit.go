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

package tracekit

import (
	"crypto/rand"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// HeaderTraceParent W3C Trace Context 标准定义的 Header 名称
const HeaderTraceParent = "traceparent"

// TraceContext 代表一次调用的追踪上下文
//
// 格式样例
// traceparent: 00-{trace-id}-{parent-id}-{trace-flags}
type TraceContext struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
}

// Valid 返回 TraceContext 是否合法
func (tc TraceContext) Valid() bool {
	return tc.TraceID.IsValid() && tc.SpanID.IsValid()
}

// Encode 将 TraceContext 序列化为 traceparent Header 值
func (tc TraceContext) Encode() string {
	return fmt.Sprintf("00-%s-%s-01", tc.TraceID.String(), tc.SpanID.String())
}

// Decode 从 traceparent Header 值中解析 TraceContext
func Decode(s string) (TraceContext, bool) {
	var empty TraceContext
	if s == "" {
		return empty, false
	}

	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return empty, false
	}

	// 版本校验
	if parts[0] != "00" {
		return empty, false
	}

	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return empty, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return empty, false
	}
	return TraceContext{TraceID: traceID, SpanID: spanID}, true
}

// New 随机生成 TraceContext
func New() TraceContext {
	var tc TraceContext
	rand.Read(tc.TraceID[:])
	rand.Read(tc.SpanID[:])
	return tc
}
