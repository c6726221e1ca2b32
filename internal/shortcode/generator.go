// Package shortcode は短縮コードの生成を提供する。
package shortcode

import (
	"crypto/rand"
	"math/big"
)

const (
	// Length は短縮コードの文字数。
	Length = 8

	// Alphabet は短縮コードに使用する文字集合（62文字）。
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generator は短縮コードを生成するインターフェース。
// 一意性は保証しない。ストアのユニーク制約と呼び出し側のリトライで担保する。
type Generator interface {
	Generate() string
}

// RandomGenerator は暗号論的乱数で各文字を独立かつ一様に選ぶGenerator。
type RandomGenerator struct{}

// NewRandomGenerator はRandomGeneratorを生成する。
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{}
}

// Generate はLength文字の短縮コードを返す。
func (g *RandomGenerator) Generate() string {
	b := make([]byte, Length)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/randの読み取り失敗は回復不能
			panic("shortcode: crypto/rand failed: " + err.Error())
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b)
}

// Valid はcodeが短縮コードの形式（長さと文字集合）を満たすかどうかを返す。
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

var _ Generator = (*RandomGenerator)(nil)
