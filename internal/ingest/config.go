package ingest

import "fmt"

// Strategy selects how the files of one component are driven through the
// conversion service.
type Strategy string

const (
	// PerFile runs upload, submit, wait and finish for each file independently.
	PerFile Strategy = "per-file"
	// Batched submits every file of a component first, then waits for all jobs at once.
	Batched Strategy = "batched"
)

// ParseStrategy accepts "per-file" and "batched". Empty means PerFile.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", PerFile:
		return PerFile, nil
	case Batched:
		return Batched, nil
	}
	return "", fmt.Errorf("unknown file strategy %q", s)
}

// Config bounds the fan-out at each level of the tree.
type Config struct {
	Strategy Strategy
	// ComponentConcurrency is the number of components processed at once.
	ComponentConcurrency int
	// FileConcurrency is the number of files of one component processed at once.
	FileConcurrency int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{Strategy: PerFile, ComponentConcurrency: 4, FileConcurrency: 10}
}
