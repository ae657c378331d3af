package textutil

import "testing"

func TestPlainText(t *testing.T) {
	cases := map[string]struct {
		input    string
		max      int
		expected string
	}{
		"strips markup":        {input: "sem <b>granola</b><script>alert(1)</script>", expected: "sem granola"},
		"collapses whitespace": {input: "  tocar\n\n a   campainha ", expected: "tocar a campainha"},
		"unescapes entities":   {input: "leite &amp; mel", expected: "leite & mel"},
		"truncates runes":      {input: "açaí com paçoca", max: 4, expected: "açaí"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := PlainText(tc.input, tc.max); got != tc.expected {
				t.Fatalf("expected %q got %q", tc.expected, got)
			}
		})
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("(11) 98765-4321"); got != "11987654321" {
		t.Fatalf("expected digits only, got %q", got)
	}
	if got := Digits("sem número"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestLogSafe(t *testing.T) {
	if got := LogSafe("GET\r\nX-Forged: 1", 0); got != "GETX-Forged: 1" {
		t.Fatalf("expected control characters removed, got %q", got)
	}
	if got := LogSafe("/pedidos/açaí", 10); got != "/pedidos/a" {
		t.Fatalf("expected rune truncation, got %q", got)
	}
}
