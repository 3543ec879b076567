package chunker

import (
	"bytes"
	"math/rand"
	"testing"
)

func smallParams() Params {
	return Params{Min: 64, Max: 512, MaskBits: 6, Window: 16}
}

func TestSplit_Deterministic(t *testing.T) {
	data := make([]byte, 100*1024)
	rand.New(rand.NewSource(1)).Read(data)

	chunks1, err := Split(bytes.NewReader(data), DefaultParams())
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	chunks2, err := Split(bytes.NewReader(data), DefaultParams())
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(chunks1) != len(chunks2) {
		t.Fatalf("chunk counts differ: %d vs %d", len(chunks1), len(chunks2))
	}
	for i := range chunks1 {
		if !bytes.Equal(chunks1[i].Data, chunks2[i].Data) {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_RespectsMinMax(t *testing.T) {
	params := smallParams()
	data := make([]byte, 20*1024)
	rand.New(rand.NewSource(2)).Read(data)

	chunks, err := Split(bytes.NewReader(data), params)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	for i, c := range chunks {
		last := i == len(chunks)-1
		if len(c.Data) > params.Max {
			t.Errorf("chunk %d exceeds max: %d > %d", i, len(c.Data), params.Max)
		}
		if !last && len(c.Data) < params.Min {
			t.Errorf("non-final chunk %d below min: %d < %d", i, len(c.Data), params.Min)
		}
	}
}

func TestSplit_Reassembles(t *testing.T) {
	params := smallParams()
	data := make([]byte, 10*1024)
	rand.New(rand.NewSource(3)).Read(data)

	chunks, err := Split(bytes.NewReader(data), params)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	var got []byte
	for _, c := range chunks {
		got = append(got, c.Data...)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("reassembled data does not match original")
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	chunks, err := Split(bytes.NewReader(nil), DefaultParams())
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(chunks))
	}
}

func TestSplit_CommonSubstringSharesChunks(t *testing.T) {
	params := smallParams()
	common := make([]byte, 4*1024)
	rand.New(rand.NewSource(4)).Read(common)

	a := append(append([]byte{}, []byte("prefix-a-")...), common...)
	b := append(append([]byte{}, []byte("prefix-b-longer-")...), common...)

	chunksA, err := Split(bytes.NewReader(a), params)
	if err != nil {
		t.Fatalf("Split A failed: %v", err)
	}
	chunksB, err := Split(bytes.NewReader(b), params)
	if err != nil {
		t.Fatalf("Split B failed: %v", err)
	}

	seen := map[string]bool{}
	for _, c := range chunksA {
		seen[string(c.Data)] = true
	}
	shared := 0
	for _, c := range chunksB {
		if seen[string(c.Data)] {
			shared++
		}
	}
	if shared == 0 {
		t.Error("expected at least one shared chunk between streams sharing a long common substring")
	}
}

func TestSplit_IndependentOfBuffering(t *testing.T) {
	params := smallParams()
	data := make([]byte, 8*1024)
	rand.New(rand.NewSource(5)).Read(data)

	whole, err := Split(bytes.NewReader(data), params)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	var pieces []Chunk
	c, err := New(params, func(ch Chunk) error {
		pieces = append(pieces, ch)
		return nil
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Feed one byte at a time instead of in one large buffer.
	for _, b := range data {
		if _, err := c.Write([]byte{b}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if len(whole) != len(pieces) {
		t.Fatalf("chunk counts differ by buffering: %d vs %d", len(whole), len(pieces))
	}
	for i := range whole {
		if !bytes.Equal(whole[i].Data, pieces[i].Data) {
			t.Fatalf("chunk %d differs by buffering", i)
		}
	}
}

func TestParams_Validate(t *testing.T) {
	cases := []struct {
		p     Params
		valid bool
	}{
		{Params{Min: 1, Max: 10, MaskBits: 4, Window: 8}, true},
		{Params{Min: 10, Max: 1, MaskBits: 4, Window: 8}, false},
		{Params{Min: 1, Max: 10, MaskBits: 0, Window: 8}, false},
		{Params{Min: 1, Max: 10, MaskBits: 4, Window: 0}, false},
	}
	for _, tc := range cases {
		err := tc.p.Validate()
		if tc.valid && err != nil {
			t.Errorf("expected %+v to be valid, got %v", tc.p, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("expected %+v to be invalid", tc.p)
		}
	}
}
