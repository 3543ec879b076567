package compressor

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestRegistry_RoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")
	for _, tag := range []Tag{TagNone, TagLZ4, TagZstd, TagZlib, TagLZMA} {
		r := NewRegistry()
		tagged, err := r.Compress(tag, plaintext)
		if err != nil {
			t.Fatalf("tag %d: compress: %v", tag, err)
		}
		if Tag(tagged[0]) != tag {
			t.Fatalf("tag %d: payload tagged %d", tag, tagged[0])
		}
		out, err := r.Decompress(tagged)
		if err != nil {
			t.Fatalf("tag %d: decompress: %v", tag, err)
		}
		if !bytes.Equal(out, plaintext) {
			t.Fatalf("tag %d: round trip mismatch", tag)
		}
	}
}

func TestRegistry_UnknownTag(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Compress(Tag(99), []byte("x")); err == nil {
		t.Fatal("expected error for unregistered tag")
	}
	if _, err := r.Decompress([]byte{99, 'x'}); err == nil {
		t.Fatal("expected error decompressing unrecognised tag")
	}
}

func TestAuto_PrefersCompressedWhenItShrinks(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAuto(TagLZ4); err != nil {
		t.Fatalf("RegisterAuto: %v", err)
	}
	compressible := bytes.Repeat([]byte("aaaaaaaaaa"), 4096)
	tagged, err := r.Compress(TagAuto, compressible)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if Tag(tagged[0]) != TagLZ4 {
		t.Fatalf("expected lz4-tagged output for highly compressible input, got tag %d", tagged[0])
	}
	out, err := r.Decompress(tagged)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, compressible) {
		t.Fatal("round trip mismatch")
	}
}

func TestAuto_FallsBackToNoneOnIncompressibleData(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAuto(TagLZ4); err != nil {
		t.Fatalf("RegisterAuto: %v", err)
	}
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatalf("rand: %v", err)
	}
	tagged, err := r.Compress(TagAuto, random)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if Tag(tagged[0]) != TagNone {
		t.Fatalf("expected none-tagged output for random input, got tag %d", tagged[0])
	}
	out, err := r.Decompress(tagged)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, random) {
		t.Fatal("round trip mismatch")
	}
}

func TestAuto_UnknownInnerTag(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAuto(Tag(99)); err == nil {
		t.Fatal("expected error registering auto with an unknown inner tag")
	}
}

func TestObfuscate_RoundTripAndPadsLength(t *testing.T) {
	r := NewRegistry()
	dist, err := NewRelativeFactor(6)
	if err != nil {
		t.Fatalf("NewRelativeFactor: %v", err)
	}
	if err := r.RegisterObfuscate(TagLZ4, dist); err != nil {
		t.Fatalf("RegisterObfuscate: %v", err)
	}
	plaintext := bytes.Repeat([]byte("payload"), 128)
	tagged, err := r.Compress(TagObfuscateBase, plaintext)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if Tag(tagged[0]) != TagObfuscateBase {
		t.Fatalf("expected obfuscate-tagged output, got tag %d", tagged[0])
	}
	out, err := r.Decompress(tagged)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestObfuscate_UnknownInnerTag(t *testing.T) {
	r := NewRegistry()
	dist, err := NewRelativeFactor(1)
	if err != nil {
		t.Fatalf("NewRelativeFactor: %v", err)
	}
	if err := r.RegisterObfuscate(Tag(99), dist); err == nil {
		t.Fatal("expected error registering obfuscate with an unknown inner tag")
	}
}

func TestNewDistributionForLevel(t *testing.T) {
	cases := []struct {
		level   int
		wantErr bool
	}{
		{1, false}, {6, false}, {7, true},
		{109, true}, {110, false}, {123, false}, {124, true},
		{0, true},
	}
	for _, c := range cases {
		dist, err := NewDistributionForLevel(c.level)
		if c.wantErr {
			if err == nil {
				t.Errorf("level %d: expected error", c.level)
			}
			continue
		}
		if err != nil {
			t.Errorf("level %d: unexpected error: %v", c.level, err)
			continue
		}
		if dist.Level() != c.level {
			t.Errorf("level %d: Level() returned %d", c.level, dist.Level())
		}
	}
}

func TestRelativeFactor_PadRangeGrowsWithLevel(t *testing.T) {
	low, err := NewRelativeFactor(1)
	if err != nil {
		t.Fatalf("NewRelativeFactor(1): %v", err)
	}
	high, err := NewRelativeFactor(6)
	if err != nil {
		t.Fatalf("NewRelativeFactor(6): %v", err)
	}
	_, lowMax := low.padRange(1000)
	_, highMax := high.padRange(1000)
	if highMax <= lowMax {
		t.Fatalf("expected level 6 padding range to exceed level 1: %d vs %d", highMax, lowMax)
	}
}

func TestAbsoluteSize_PadRangeTargetsFixedWindow(t *testing.T) {
	dist, err := NewAbsoluteSize(110)
	if err != nil {
		t.Fatalf("NewAbsoluteSize: %v", err)
	}
	min, max := dist.padRange(100)
	if min < 0 || max < min {
		t.Fatalf("invalid pad range [%d, %d]", min, max)
	}
	if 100+max < 1024 {
		t.Fatalf("padded max size %d does not reach the level's target floor", 100+max)
	}
}
