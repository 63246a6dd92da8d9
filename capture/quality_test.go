package capture

import (
	"strings"
	"testing"
)

func TestPrintableRatio(t *testing.T) {
	if r := printableRatio("clean readable text"); r != 1.0 {
		t.Errorf("clean text ratio = %v, want 1.0", r)
	}
	if r := printableRatio(""); r != 1.0 {
		t.Errorf("empty text ratio = %v, want 1.0", r)
	}

	// Private Use Area glyphs are what broken font maps produce.
	garbage := strings.Repeat("\uE000", 50) + "ok"
	if r := printableRatio(garbage); r > 0.1 {
		t.Errorf("garbage ratio = %v, want near 0", r)
	}
}

func TestWordlikeRatio(t *testing.T) {
	if r := wordlikeRatio("normal words in a sentence here"); r < 0.8 {
		t.Errorf("prose ratio = %v, want high", r)
	}
	// Single-glyph confetti from shredded extraction.
	if r := wordlikeRatio("a b c d e f g h"); r != 0 {
		t.Errorf("confetti ratio = %v, want 0", r)
	}
	// Chinese prose is not space-delimited and must not be penalized.
	if r := wordlikeRatio("这是一段没有空格分隔的中文正文内容测试字符串"); r != 1.0 {
		t.Errorf("CJK ratio = %v, want 1.0", r)
	}
	if r := wordlikeRatio(""); r != 0 {
		t.Errorf("empty ratio = %v, want 0", r)
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"one two three", 3},
		{"中文四个字", 5},
		{"mixed 中文 and english", 5},
		{"", 0},
	}
	for _, tt := range tests {
		if got := countWords(tt.in); got != tt.want {
			t.Errorf("countWords(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
