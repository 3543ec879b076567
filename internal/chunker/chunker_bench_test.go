package chunker

import (
	"crypto/rand"
	"testing"
)

func BenchmarkSplit(b *testing.B) {
	buf := make([]byte, 8<<20)
	rand.Read(buf)
	params := DefaultParams()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		c, _ := New(params, func(Chunk) error { return nil })
		if _, err := c.Write(buf); err != nil {
			b.Fatal(err)
		}
		if err := c.Flush(); err != nil {
			b.Fatal(err)
		}
	}
}
