// Package catalog holds the fixed onboarding question table.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chaturyaganne/ai-agent/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultQuestions []byte

// Question is one day's onboarding question.
type Question struct {
	Day  int    `yaml:"day" json:"day"`
	Key  string `yaml:"key" json:"key"`
	Text string `yaml:"question" json:"question"`
}

type document struct {
	Welcome        string     `yaml:"welcome"`
	FreeChatPrompt string     `yaml:"free_chat_prompt"`
	Questions      []Question `yaml:"questions"`
}

// Catalog is a read-only table of onboarding questions indexed by day.
type Catalog struct {
	welcome        string
	freeChatPrompt string
	byDay          [domain.FinalDay + 1]Question
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultQuestions))
	if err != nil {
		panic("catalog: invalid embedded questions: " + err.Error())
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	if len(doc.Questions) != domain.FinalDay {
		return nil, fmt.Errorf("catalog must define %d questions, got %d", domain.FinalDay, len(doc.Questions))
	}
	if strings.TrimSpace(doc.FreeChatPrompt) == "" {
		return nil, fmt.Errorf("free_chat_prompt cannot be empty")
	}

	c := &Catalog{welcome: doc.Welcome, freeChatPrompt: doc.FreeChatPrompt}
	keys := make(map[string]int, len(doc.Questions))
	for _, q := range doc.Questions {
		if q.Day < domain.FirstDay || q.Day > domain.FinalDay {
			return nil, fmt.Errorf("question day %d out of range", q.Day)
		}
		if c.byDay[q.Day].Day != 0 {
			return nil, fmt.Errorf("day %d defined more than once", q.Day)
		}
		q.Key = strings.TrimSpace(q.Key)
		if q.Key == "" {
			return nil, fmt.Errorf("day %d has an empty key", q.Day)
		}
		if prev, dup := keys[q.Key]; dup {
			return nil, fmt.Errorf("key %q used by days %d and %d", q.Key, prev, q.Day)
		}
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("day %d has an empty question", q.Day)
		}
		keys[q.Key] = q.Day
		c.byDay[q.Day] = q
	}
	return c, nil
}

// Question returns the question for a day.
func (c *Catalog) Question(day int) (Question, bool) {
	if day < domain.FirstDay || day > domain.FinalDay {
		return Question{}, false
	}
	return c.byDay[day], true
}

// Questions returns all questions ordered by day.
func (c *Catalog) Questions() []Question {
	out := make([]Question, 0, domain.FinalDay)
	for day := domain.FirstDay; day <= domain.FinalDay; day++ {
		out = append(out, c.byDay[day])
	}
	return out
}

// Welcome returns the greeting prefix for new users.
func (c *Catalog) Welcome() string { return c.welcome }

// FreeChatPrompt returns the prompt shown once onboarding is complete.
func (c *Catalog) FreeChatPrompt() string { return c.freeChatPrompt }
