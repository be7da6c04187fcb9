package widget

import (
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	cases := map[string]string{
		"**bold**":   "<strong>bold</strong>",
		"- item":     "<li>",
		"`code`":     "<code>",
		"plain text": "plain text",
	}
	for in, want := range cases {
		if out := string(renderMarkdown(in)); !strings.Contains(out, want) {
			t.Errorf("renderMarkdown(%q) = %q, want %q", in, out, want)
		}
	}
}

func TestRenderMarkdown_RawHTMLSuppressed(t *testing.T) {
	out := string(renderMarkdown("<script>alert(1)</script>"))
	if strings.Contains(out, "<script>") {
		t.Errorf("raw html leaked: %s", out)
	}
}
