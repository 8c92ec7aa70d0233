package columnar

import (
	"math"
	"testing"
)

func TestDeltaCodec(t *testing.T) {
	cases := []struct {
		name   string
		values []int64
	}{
		{"Empty", nil},
		{"Single", []int64{42}},
		{"Sorted", []int64{1, 2, 3, 100, 100, 5000}},
		{"Negatives", []int64{-500, -500, -3, 0, 7}},
		{"Extremes", []int64{math.MinInt64, 0, math.MaxInt64}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := deltaDecode(deltaEncode(tc.values))
			if err != nil {
				t.Fatalf("deltaDecode: %v", err)
			}
			if len(decoded) != len(tc.values) {
				t.Fatalf("got %d values, want %d", len(decoded), len(tc.values))
			}
			for i := range tc.values {
				if decoded[i] != tc.values[i] {
					t.Errorf("value %d: got %d, want %d", i, decoded[i], tc.values[i])
				}
			}
		})
	}
}

func TestDictCodec(t *testing.T) {
	values := []string{"economy", "business", "economy", "economy", "first", "business"}
	payload, dict := dictEncode(values)
	if len(dict) != 3 {
		t.Fatalf("dictionary has %d entries, want 3", len(dict))
	}
	decoded, err := dictDecode(payload)
	if err != nil {
		t.Fatalf("dictDecode: %v", err)
	}
	for i := range values {
		if decoded[i] != values[i] {
			t.Errorf("value %d: got %q, want %q", i, decoded[i], values[i])
		}
	}
}

func TestRawCodecs(t *testing.T) {
	t.Run("Int", func(t *testing.T) {
		values := []int64{9, -4, 0, math.MaxInt64}
		decoded, err := rawIntDecode(rawIntEncode(values))
		if err != nil {
			t.Fatalf("rawIntDecode: %v", err)
		}
		for i := range values {
			if decoded[i] != values[i] {
				t.Errorf("value %d: got %d, want %d", i, decoded[i], values[i])
			}
		}
	})
	t.Run("Float", func(t *testing.T) {
		values := []float64{0, -1.5, math.Pi, math.Inf(1)}
		decoded, err := rawFloatDecode(rawFloatEncode(values))
		if err != nil {
			t.Fatalf("rawFloatDecode: %v", err)
		}
		for i := range values {
			if decoded[i] != values[i] {
				t.Errorf("value %d: got %v, want %v", i, decoded[i], values[i])
			}
		}
	})
	t.Run("String", func(t *testing.T) {
		values := []string{"", "AA1234", "a longer payload with spaces"}
		decoded, err := rawStringDecode(rawStringEncode(values))
		if err != nil {
			t.Fatalf("rawStringDecode: %v", err)
		}
		for i := range values {
			if decoded[i] != values[i] {
				t.Errorf("value %d: got %q, want %q", i, decoded[i], values[i])
			}
		}
	})
}

func TestCompressors(t *testing.T) {
	payload := []byte("segment payload segment payload segment payload segment payload")
	for _, ct := range []CompressionType{CompressionSnappy, CompressionZstd, CompressionGzip} {
		t.Run(ct.String(), func(t *testing.T) {
			comp, err := CreateCompressor(ct)
			if err != nil {
				t.Fatalf("CreateCompressor: %v", err)
			}
			compressed, err := comp.Compress(payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			decompressed, err := comp.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if string(decompressed) != string(payload) {
				t.Errorf("round trip mismatch: got %q", decompressed)
			}
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	for _, name := range []string{"none", "snappy", "zstd", "gzip"} {
		ct, err := ParseCompressionType(name)
		if err != nil {
			t.Errorf("ParseCompressionType(%q): %v", name, err)
		}
		if ct.String() != name {
			t.Errorf("ParseCompressionType(%q) = %s", name, ct)
		}
	}
	if _, err := ParseCompressionType("lz9"); err == nil {
		t.Error("expected an error for an unknown compression name")
	}
}
