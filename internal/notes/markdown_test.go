package notes

import "testing"

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"heading and bold", "# Title\n\n**bold** text", "<p><h1>Title</h1></p><p><strong>bold</strong> text</p>"},
		{"levels", "## Dos\n### Tres", "<p><h2>Dos</h2><br><h3>Tres</h3></p>"},
		{"greedy italic", "*a* and *b*", "<p><em>a* and *b</em></p>"},
		{"line break", "uno\ndos", "<p>uno<br>dos</p>"},
		{"heading needs space", "#NoHeading", "<p>#NoHeading</p>"},
		{"empty", "", "<p></p>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.in); got != tc.want {
				t.Fatalf("Render(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
