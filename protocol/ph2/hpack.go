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
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// HTTP/2 引入 HPACK 压缩算法 显著减少 Header 传输的数据量 HPACK 特性如下
//
// * 静态表 (Static Table): 预定义常见头部键值对 避免重复传输高频字段
// * 动态表 (Dynamic Table): 缓存链接中的动态键值对 动态表大小有限 遵循先进先出（FIFO）策略
// * 霍夫曼编码 (Huffman Coding): 对头部值进行高效的压缩编码 进一步减少体积

// headerField HPACK 编解码的基本单位
type headerField struct {
	Name  string
	Value string
}

// headerEncoder Header 块编码器 单条链接唯一
//
// 编码器的动态表状态与帧发送顺序强绑定 必须在 writer 锁内使用
// 动态表大小上限跟随对端的 SETTINGS_HEADER_TABLE_SIZE
type headerEncoder struct {
	buf bytes.Buffer
	enc *hpack.Encoder
}

func newHeaderEncoder() *headerEncoder {
	he := &headerEncoder{}
	he.enc = hpack.NewEncoder(&he.buf)
	return he
}

// setMaxTableSize 更新动态表上限 在收到对端 SETTINGS 后调用
func (he *headerEncoder) setMaxTableSize(n uint32) {
	he.enc.SetMaxDynamicTableSize(n)
}

// encode 编码一组 HeaderField 返回的字节在下一次 encode 前有效
func (he *headerEncoder) encode(fields []headerField) ([]byte, error) {
	he.buf.Reset()
	for _, f := range fields {
		err := he.enc.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value})
		if err != nil {
			return nil, err
		}
	}
	return he.buf.Bytes(), nil
}

// headerDecoder Header 块解码器 单条链接唯一 链接中的所有 Stream 共享
//
// 解码器仅被 reader 任务访问 HEADERS 与 CONTINUATION 必须在拼接完成后
// 一次性传入 否则动态表状态会错乱
type headerDecoder struct {
	dec    *hpack.Decoder
	fields []headerField

	// maxHeaderListSize 解码结果的总大小上限 超出则视为协议异常
	maxHeaderListSize uint32
	size              uint32
	exceeded          bool
}

func newHeaderDecoder(maxTableSize, maxHeaderListSize uint32) *headerDecoder {
	hd := &headerDecoder{maxHeaderListSize: maxHeaderListSize}
	hd.dec = hpack.NewDecoder(maxTableSize, hd.onField)
	return hd
}

func (hd *headerDecoder) onField(f hpack.HeaderField) {
	// RFC 7541 对字段大小的定义为 name + value + 32
	hd.size += uint32(len(f.Name)+len(f.Value)) + 32
	if hd.size > hd.maxHeaderListSize {
		hd.exceeded = true
		return
	}
	hd.fields = append(hd.fields, headerField{Name: f.Name, Value: f.Value})
}

// decode 解码完整的 Header 块
func (hd *headerDecoder) decode(block []byte) ([]headerField, error) {
	hd.fields = nil
	hd.size = 0
	hd.exceeded = false

	if _, err := hd.dec.Write(block); err != nil {
		return nil, err
	}
	if err := hd.dec.Close(); err != nil {
		return nil, err
	}
	if hd.exceeded {
		return nil, newError("header list size exceeded")
	}
	return hd.fields, nil
}
