package llm

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed examples/default.yaml
var defaultExamplesYAML []byte

// LoadExamples reads few-shot examples from a YAML file.
func LoadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read examples %s: %w", path, err)
	}
	return ParseExamples(data)
}

// ParseExamples decodes a YAML list of examples.
func ParseExamples(data []byte) ([]Example, error) {
	var out []Example
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode examples: %w", err)
	}
	return out, nil
}

// DefaultExamples returns the built-in loan-document examples.
func DefaultExamples() []Example {
	out, err := ParseExamples(defaultExamplesYAML)
	if err != nil {
		panic(fmt.Sprintf("llm: built-in examples: %v", err))
	}
	return out
}

// ValidateExamples checks that every extraction text is a verbatim substring of its example text.
// It runs once at startup.
func ValidateExamples(examples []Example) error {
	if len(examples) == 0 {
		return fmt.Errorf("no few-shot examples")
	}
	var problems []string
	for i, ex := range examples {
		if strings.TrimSpace(ex.Text) == "" {
			problems = append(problems, fmt.Sprintf("example %d: empty text", i))
			continue
		}
		if len(ex.Extractions) == 0 {
			problems = append(problems, fmt.Sprintf("example %d: no extractions", i))
		}
		for j, e := range ex.Extractions {
			switch {
			case strings.TrimSpace(e.Class) == "":
				problems = append(problems, fmt.Sprintf("example %d extraction %d: empty class", i, j))
			case e.Text == "":
				problems = append(problems, fmt.Sprintf("example %d extraction %d: empty text", i, j))
			case !strings.Contains(ex.Text, e.Text):
				problems = append(problems, fmt.Sprintf("example %d extraction %d: %q is not a verbatim substring of the example text", i, j, e.Text))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid few-shot examples: %s", strings.Join(problems, "; "))
	}
	return nil
}
