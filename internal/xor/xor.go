// Package xor 实现按固定密钥循环的逐字节 XOR 变换。
//
// 该变换是自逆的：同一密钥再做一次即可还原原始内容。它不提供任何安全性。
package xor

import (
	"crypto/cipher"
	"errors"
)

// ErrEmptyKey 表示密钥为空（无法循环取字节）。
var ErrEmptyKey = errors.New("xor: 密钥为空")

var _ cipher.Stream = (*Stream)(nil)

// Stream 是一个 cipher.Stream：第 i 个字节与 key[i mod len(key)] 异或。
// 它记住已处理的字节数，因此可以分块调用（例如配合 cipher.StreamReader/StreamWriter）。
type Stream struct {
	key []byte
	off int
}

// NewStream 复制 key 并返回从偏移 0 开始的 Stream。
func NewStream(key []byte) (*Stream, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return &Stream{key: append([]byte(nil), key...)}, nil
}

// XORKeyStream 满足 cipher.Stream；dst 与 src 可以完全重叠。
func (s *Stream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("xor: output smaller than input")
	}
	n := len(s.key)
	for i, b := range src {
		dst[i] = b ^ s.key[(s.off+i)%n]
	}
	s.off = (s.off + len(src)) % n
}

// Apply 原地变换 data 的全部字节（不是只处理前 len(key) 个字节）。
func Apply(data, key []byte) error {
	s, err := NewStream(key)
	if err != nil {
		return err
	}
	s.XORKeyStream(data, data)
	return nil
}
