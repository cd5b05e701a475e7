package transcript

import (
	"strings"
	"testing"
)

func TestLiveBufferPartialThenFinalGrowsHistoryOnce(t *testing.T) {
	b := NewLiveBuffer(30, 3, 10)
	b.Update("what is the", false)
	b.Update("what is the capital", false)
	b.Update("what is the capital", false)
	if got := len(b.Finals()); got != 0 {
		t.Fatalf("len(Finals) after partials = %d, want 0", got)
	}
	b.Update("what is the capital", true)
	if got := len(b.Finals()); got != 1 {
		t.Fatalf("len(Finals) after final = %d, want 1", got)
	}
}

func TestLiveBufferRenderIncludesPartial(t *testing.T) {
	b := NewLiveBuffer(40, 2, 10)
	b.Update("hello there", true)
	got := b.Update("general", false)
	want := "\nhello there general"
	if got != want {
		t.Fatalf("Update() = %q, want %q", got, want)
	}
}

func TestLiveBufferCapsFinalHistory(t *testing.T) {
	b := NewLiveBuffer(30, 3, 2)
	b.Update("one", true)
	b.Update("two", true)
	b.Update("three", true)
	finals := b.Finals()
	if len(finals) != 2 || finals[0] != "two" || finals[1] != "three" {
		t.Fatalf("Finals = %v, want [two three]", finals)
	}
}

func TestLiveBufferKeepsNewestLines(t *testing.T) {
	b := NewLiveBuffer(10, 2, 10)
	got := b.Update("alpha beta gamma delta epsilon", true)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2 (%q)", len(lines), got)
	}
	if lines[1] != "epsilon" {
		t.Fatalf("last line = %q, want %q", lines[1], "epsilon")
	}
	for _, l := range lines {
		if len([]rune(l)) > 10 {
			t.Fatalf("line %q exceeds 10 columns", l)
		}
	}
}

func TestLiveBufferPadsShortOutput(t *testing.T) {
	b := NewLiveBuffer(30, 3, 10)
	got := b.Update("hi", false)
	if got != "\n\nhi" {
		t.Fatalf("Update() = %q, want %q", got, "\n\nhi")
	}
	b.Reset()
	if got := b.Render(); got != "\n\n" {
		t.Fatalf("Render() after Reset = %q, want blank lines", got)
	}
}

func TestWrapWordsHardSplitsLongWords(t *testing.T) {
	got := wrapWords("abcdefghij xy", 4)
	want := []string{"abcd", "efgh", "ij", "xy"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("wrapWords() = %v, want %v", got, want)
	}
}
