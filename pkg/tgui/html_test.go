package tgui

import "testing"

func TestMentionEscapesName(t *testing.T) {
	t.Parallel()
	got := Mention("Ann <dev>", 42).String()
	want := `<a href="tg://user?id=42">Ann &lt;dev&gt;</a>`
	if got != want {
		t.Fatalf("Mention = %q, want %q", got, want)
	}
}

func TestJoinHSkipsBlank(t *testing.T) {
	t.Parallel()
	got := JoinH(", ", B("a"), "", " ", Code("b")).String()
	if got != "<b>a</b>, <code>b</code>" {
		t.Fatalf("JoinH = %q", got)
	}
}
