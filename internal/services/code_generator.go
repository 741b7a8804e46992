package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// MaxCodeAttempts 生成唯一码的最大尝试次数
const MaxCodeAttempts = 1000

// CodeGenerator 随机访问码生成，用户码与管理员码共用
type CodeGenerator struct {
	length int
	random func(n int) (int, error)
}

// NewCodeGenerator 创建生成器，length <= 0 时使用默认长度
func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = CodeLength
	}
	return &CodeGenerator{length: length, random: cryptoIntn}
}

func cryptoIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Random 生成一个随机码，不检查唯一性
func (g *CodeGenerator) Random() (string, error) {
	buf := make([]byte, g.length)
	for i := range buf {
		idx, err := g.random(len(CodeAlphabet))
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		buf[i] = CodeAlphabet[idx]
	}
	return string(buf), nil
}

// Generate 反复抽取直到 exists 返回 false
func (g *CodeGenerator) Generate(ctx context.Context, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := g.Random()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unused code found after %d attempts", MaxCodeAttempts)
}
