package seed

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	DefaultLow  int64 = 0
	DefaultHigh int64 = 10000
)

// Resolver はリクエストごとのシードを決定します。
type Resolver struct {
	low     int64
	high    int64
	entropy func([]byte)
}

// NewResolver は [low, high] から自動シードを引く Resolver を作ります。
// low > high は設定エラーであり、起動時に検出する想定です。
func NewResolver(low, high int64) (*Resolver, error) {
	if low > high {
		return nil, fmt.Errorf("invalid seed range: low %d > high %d", low, high)
	}
	if high-low >= math.MaxUint32 {
		return nil, fmt.Errorf("seed range [%d, %d] exceeds 32-bit draw", low, high)
	}
	return &Resolver{
		low:  low,
		high: high,
		// Go 1.24 以降 crypto/rand.Read はエラーを返さない
		entropy: func(b []byte) { _, _ = rand.Read(b) },
	}, nil
}

// MustDefault はデフォルト範囲 [0, 10000] の Resolver を返します。
func MustDefault() *Resolver {
	r, err := NewResolver(DefaultLow, DefaultHigh)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve は requested が負なら乱数を引き、そうでなければそのまま返します。
func (r *Resolver) Resolve(requested int64) int64 {
	if requested >= 0 {
		return requested
	}
	return r.draw()
}

// draw は 4 バイトの乱数からリジェクションサンプリングで偏りのない値を引きます。
func (r *Resolver) draw() int64 {
	rangeSize := uint64(r.high-r.low) + 1
	const maxInt = uint64(math.MaxUint32)
	limit := maxInt - (maxInt % rangeSize)

	var buf [4]byte
	for {
		r.entropy(buf[:])
		v := uint64(binary.BigEndian.Uint32(buf[:]))
		if v < limit {
			return r.low + int64(v%rangeSize)
		}
	}
}
