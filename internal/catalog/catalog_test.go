package catalog

import (
	"strings"
	"testing"
)

func TestDefaultCatalogCoversAllDays(t *testing.T) {
	t.Parallel()

	c := Default()
	qs := c.Questions()
	if len(qs) != 7 {
		t.Fatalf("expected 7 questions, got %d", len(qs))
	}
	seen := make(map[string]bool)
	for i, q := range qs {
		if q.Day != i+1 {
			t.Fatalf("question %d has day %d", i, q.Day)
		}
		if seen[q.Key] {
			t.Fatalf("duplicate key %q", q.Key)
		}
		seen[q.Key] = true
	}

	q2, ok := c.Question(2)
	if !ok || q2.Text != "What situations make you feel lonely or disconnected?" {
		t.Fatalf("unexpected day 2 question: %+v", q2)
	}
	if _, ok := c.Question(8); ok {
		t.Fatal("expected no question for day 8")
	}
	if !strings.HasPrefix(c.Welcome(), "Hey! I'm Anton") {
		t.Fatalf("unexpected welcome: %q", c.Welcome())
	}
}

func TestLoadRejectsInvalidCatalogs(t *testing.T) {
	t.Parallel()

	valid := func(edit func(lines []string) []string) string {
		lines := []string{"free_chat_prompt: chat", "questions:"}
		for d := 1; d <= 7; d++ {
			lines = append(lines,
				"  - day: "+string(rune('0'+d)),
				"    key: k"+string(rune('0'+d)),
				"    question: q?",
			)
		}
		return strings.Join(edit(lines), "\n")
	}

	cases := map[string]string{
		"too few":       valid(func(l []string) []string { return l[:len(l)-3] }),
		"duplicate day": valid(func(l []string) []string { l[len(l)-3] = "  - day: 1"; return l }),
		"duplicate key": valid(func(l []string) []string { l[len(l)-2] = "    key: k1"; return l }),
		"empty text":    valid(func(l []string) []string { l[len(l)-1] = "    question: ''"; return l }),
		"day range":     valid(func(l []string) []string { l[len(l)-3] = "  - day: 9"; return l }),
	}
	for name, doc := range cases {
		if _, err := Load(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := Load(strings.NewReader(valid(func(l []string) []string { return l }))); err != nil {
		t.Fatalf("expected valid catalog, got %v", err)
	}
}
