package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunResult_Step(t *testing.T) {
	r := &RunResult{Steps: []StepResult{
		{Name: StepFetch, Status: StepStatusComplete},
		{Name: StepExtract, Status: StepStatusFailed, Error: "boom"},
	}}

	s := r.Step(StepExtract)
	require.NotNil(t, s)
	assert.Equal(t, "boom", s.Error)

	s.Detail = "changed"
	assert.Equal(t, "changed", r.Steps[1].Detail, "Step returns a pointer into the slice")

	assert.Nil(t, r.Step(StepNotify))
}
