package search

import (
	"fmt"
	"testing"
)

func TestDedupe_Properties(t *testing.T) {
	// WHAT: Output length ≤ input, all keys distinct, first-seen order kept.
	in := []Result{
		{Title: "a", URL: "https://mp.weixin.qq.com/s/one"},
		{Title: "b", URL: "https://mp.weixin.qq.com/s/two"},
		{Title: "a-dup", URL: "https://mp.weixin.qq.com/s/one"},
		{Title: "c", URL: "https://mp.weixin.qq.com/s/three"},
		{Title: "b-dup", URL: "https://mp.weixin.qq.com/s/two"},
	}

	out := Dedupe(in)
	if len(out) > len(in) {
		t.Fatalf("output longer than input: %d > %d", len(out), len(in))
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}

	seen := map[string]bool{}
	for _, r := range out {
		key := CanonicalURL(r.URL)
		if seen[key] {
			t.Errorf("duplicate canonical URL survived: %s", key)
		}
		seen[key] = true
	}

	// First occurrence wins, in order.
	for i, want := range []string{"a", "b", "c"} {
		if out[i].Title != want {
			t.Errorf("out[%d].Title = %q, want %q", i, out[i].Title, want)
		}
	}
}

func TestDedupe_CanonicalKey(t *testing.T) {
	// WHAT: URLs differing only in fragment or default port collapse.
	in := []Result{
		{Title: "first", URL: "https://mp.weixin.qq.com:443/s/one#frag"},
		{Title: "second", URL: "https://mp.weixin.qq.com/s/one"},
	}
	out := Dedupe(in)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1 (canonical collapse)", len(out))
	}
	if out[0].Title != "first" {
		t.Errorf("kept %q, want first occurrence", out[0].Title)
	}
}

func TestDedupe_EmptyAndPure(t *testing.T) {
	if got := Dedupe(nil); len(got) != 0 {
		t.Errorf("Dedupe(nil) = %v", got)
	}

	in := []Result{
		{Title: "x", URL: "https://example.com/a"},
		{Title: "y", URL: "https://example.com/a"},
	}
	_ = Dedupe(in)
	if in[1].Title != "y" {
		t.Error("input slice was mutated")
	}
}

func TestDedupe_AllDistinct(t *testing.T) {
	var in []Result
	for i := 0; i < 17; i++ {
		in = append(in, Result{URL: fmt.Sprintf("https://mp.weixin.qq.com/s/%d", i)})
	}
	if got := Dedupe(in); len(got) != 17 {
		t.Errorf("len = %d, want 17", len(got))
	}
}

func TestCanonicalURL_Unparseable(t *testing.T) {
	raw := "://not a url"
	if got := CanonicalURL(raw); got != raw {
		t.Errorf("CanonicalURL(%q) = %q, want passthrough", raw, got)
	}
}
