// Package labels holds the fixed classifier category tables and the
// arg-max decoding that maps an output vector onto them.
package labels

import "fmt"

// Table is an immutable, ordered index → label mapping.
type Table struct {
	name   string
	labels []string
}

var (
	// Gender maps the two gender classifier outputs.
	Gender = newTable("gender", "Male", "Female")

	// Age maps the 34 age-bracket classifier outputs.
	Age = newTable("age",
		"(0-2)", "(3-5)", "(6-8)", "(9-11)", "(12-14)", "(15-17)", "(18-20)", "(21-23)",
		"(24-26)", "(27-29)", "(30-32)", "(33-35)", "(36-38)", "(39-41)", "(42-44)", "(45-47)",
		"(48-50)", "(51-53)", "(54-56)", "(57-59)", "(60-62)", "(63-65)", "(66-68)", "(69-71)",
		"(72-74)", "(75-77)", "(78-80)", "(81-83)", "(84-86)", "(87-89)", "(90-92)", "(93-95)",
		"(96-98)", "(99-100)",
	)
)

func newTable(name string, labels ...string) Table {
	return Table{name: name, labels: labels}
}

// Name identifies the table in error messages.
func (t Table) Name() string { return t.name }

// Len is the number of categories, i.e. the expected output vector length.
func (t Table) Len() int { return len(t.labels) }

// At returns the label at index i.
func (t Table) At(i int) (string, error) {
	if i < 0 || i >= len(t.labels) {
		return "", fmt.Errorf("%s label index %d out of range [0,%d)", t.name, i, len(t.labels))
	}
	return t.labels[i], nil
}

// Labels returns a copy of the table contents.
func (t Table) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// Decode selects the arg-max of scores and maps it through the table.
// The vector must have exactly Len() entries.
func (t Table) Decode(scores []float32) (string, error) {
	if len(scores) != len(t.labels) {
		return "", fmt.Errorf("%s output has %d scores, want %d", t.name, len(scores), len(t.labels))
	}
	return t.At(ArgMax(scores))
}

// ArgMax returns the index of the largest score. Ties resolve to the lowest
// index. An empty slice yields -1.
func ArgMax(scores []float32) int {
	best := -1
	for i, s := range scores {
		if best == -1 || s > scores[best] {
			best = i
		}
	}
	return best
}

// StripBrackets removes the first and last character of an age bracket,
// "(18-20)" becoming "18-20". Strings shorter than two runes are returned as is.
func StripBrackets(bracket string) string {
	r := []rune(bracket)
	if len(r) < 2 {
		return bracket
	}
	return string(r[1 : len(r)-1])
}
