package engine

import (
	"math/rand/v2"

	"github.com/google/uuid"
)

// IDSource 工作流ID生成器（对外导出）
type IDSource interface {
	NewID() string
}

// IDSourceFunc 函数形式的ID生成器
type IDSourceFunc func() string

// NewID 实现IDSource接口
func (f IDSourceFunc) NewID() string {
	return f()
}

// UUIDSource 基于UUIDv4的ID生成器（默认）
func UUIDSource() IDSource {
	return IDSourceFunc(uuid.NewString)
}

const lowercaseLetters = "abcdefghijklmnopqrstuvwxyz"

// RandomLettersSource 生成n位小写字母ID，便于在对话中口述
// 碰撞概率随n减小而上升，碰撞时调用方会绑定到已有工作流
func RandomLettersSource(n int) IDSource {
	if n <= 0 {
		n = 4
	}
	return IDSourceFunc(func() string {
		b := make([]byte, n)
		for i := range b {
			b[i] = lowercaseLetters[rand.IntN(len(lowercaseLetters))]
		}
		return string(b)
	})
}
