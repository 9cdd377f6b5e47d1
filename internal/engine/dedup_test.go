package engine

import (
	"fmt"
	"net/url"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/", "https://example.com"},
		{"https://example.com", "https://example.com"},
		{"HTTPS://Example.COM/About/", "https://example.com/About"},
		{"https://example.com:443/a/b/../c/#frag", "https://example.com/a/c"},
		{"http://example.com:80/x", "http://example.com/x"},
		{"http://example.com:8080/x", "http://example.com:8080/x"},
		{"https://example.com/page?b=2&a=1", "https://example.com/page?b=2&a=1"},
		{"https://example.com/page?", "https://example.com/page"},
		{"https://example.com/docs//", "https://example.com/docs"},
		{"http://example.com/a%2Fb/", "http://example.com/a%2Fb"},
		{"http://example.com/a%2f/", "http://example.com/a%2f"},
		{"http://example.com/x/../a%2Fb/./c", "http://example.com/a%2Fb/c"},
		{"https://example.com/caf%C3%A9/", "https://example.com/caf%C3%A9"},
		{"not a url", "not a url"},
		{"/relative/path", "/relative/path"},
	}

	for _, tt := range tests {
		got := NormalizeURL(tt.in)
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := NormalizeURL(got); again != got {
			t.Errorf("NormalizeURL not idempotent for %q: %q then %q", tt.in, got, again)
		}
	}
}

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/guide")

	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{"intro", "https://example.com/docs/intro", true},
		{"/about/#team", "https://example.com/about", true},
		{"../up", "https://example.com/up", true},
		{"//cdn.example.com/app.js", "https://cdn.example.com/app.js", true},
		{"https://other.com/x/", "https://other.com/x", true},
		{"  /padded  ", "https://example.com/padded", true},
		{"#top", "", false},
		{"", "", false},
		{"JavaScript:void(0)", "", false},
		{"mailto:team@example.com", "", false},
		{"tel:+1555", "", false},
		{"data:text/plain,hi", "", false},
		{"ftp://example.com/file", "", false},
	}

	for _, tt := range tests {
		got, ok := ResolveURL(base, tt.href)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ResolveURL(%q) = (%q, %v), want (%q, %v)", tt.href, got, ok, tt.want, tt.ok)
		}
	}
}

func TestVisitedSet(t *testing.T) {
	v := NewVisitedSet(10)

	if !v.Add("https://example.com/a/") {
		t.Fatal("first add should report new")
	}
	if v.Add("https://EXAMPLE.com/a#section") {
		t.Error("equivalent URL should not be added twice")
	}
	if !v.Contains("https://example.com/a") {
		t.Error("expected normalized URL to be contained")
	}
	if v.Contains("https://example.com/b") {
		t.Error("unexpected member")
	}
	if v.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", v.Len())
	}
}

// --- Frontier Tests ---

func TestFrontierFIFO(t *testing.T) {
	f := NewFrontier(NewVisitedSet(0))

	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		if !f.Push(u) {
			t.Fatalf("push %s should succeed", u)
		}
	}
	if f.Push("https://example.com/a/") {
		t.Error("duplicate push should be rejected")
	}
	f.Push("https://example.com/c")

	for _, want := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		got, ok := f.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %q, %v; want %q", got, ok, want)
		}
	}

	if _, ok := f.Pop(); ok {
		t.Error("expected empty frontier")
	}
	if !f.IsEmpty() {
		t.Error("IsEmpty should be true")
	}

	// Popped URLs stay visited.
	if f.Push("https://example.com/b") {
		t.Error("popped URL must not be enqueued again")
	}
	if f.Visited().Len() != 3 {
		t.Errorf("expected 3 visited, got %d", f.Visited().Len())
	}
}

func TestFrontierCompaction(t *testing.T) {
	f := NewFrontier(NewVisitedSet(0))
	for i := 0; i < 200; i++ {
		f.Push(fmt.Sprintf("https://example.com/p%d", i))
	}
	for i := 0; i < 150; i++ {
		if got, _ := f.Pop(); got != fmt.Sprintf("https://example.com/p%d", i) {
			t.Fatalf("pop %d returned %q", i, got)
		}
	}

	if f.Len() != 50 {
		t.Fatalf("expected 50 queued, got %d", f.Len())
	}
	snap := f.Snapshot()
	if len(snap) != 50 || snap[0] != "https://example.com/p150" || snap[49] != "https://example.com/p199" {
		t.Errorf("unexpected snapshot bounds: %q .. %q", snap[0], snap[len(snap)-1])
	}

	f.Push("https://example.com/tail")
	for i := 150; i < 200; i++ {
		if got, _ := f.Pop(); got != fmt.Sprintf("https://example.com/p%d", i) {
			t.Fatalf("pop %d returned %q", i, got)
		}
	}
	if got, _ := f.Pop(); got != "https://example.com/tail" {
		t.Errorf("expected tail last, got %q", got)
	}
}
