package core

import (
	"fmt"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/executor"
	"github.com/JonMunkholm/tabula/internal/operation"
)

// Step records one operation of a pipeline run.
type Step struct {
	Operation operation.Operation `json:"operation"`
	Label     string              `json:"label"`
	Message   string              `json:"message"`
	Stats     executor.Stats      `json:"stats"`
}

// RunPipeline applies ops to d in order through the same validate and
// execute path the service uses, without storing anything. It stops at the
// first failing step; the error names the step and keeps its fault kind.
func RunPipeline(d *dataset.Dataset, ops []operation.Operation) (*dataset.Dataset, []Step, error) {
	steps := make([]Step, 0, len(ops))
	for i, op := range ops {
		v, err := operation.Validate(op, d)
		if err != nil {
			return nil, steps, fmt.Errorf("step %d (%s): %w", i+1, op.Kind, err)
		}
		res, err := executor.Apply(v, d)
		if err != nil {
			return nil, steps, fmt.Errorf("step %d (%s): %w", i+1, op.Kind, err)
		}
		d = res.Dataset
		steps = append(steps, Step{Operation: op, Label: res.Label, Message: res.Message, Stats: res.Stats})
	}
	return d, steps, nil
}
