package types

import (
	"reflect"
	"testing"
)

func sampleResult() *ValidationResult {
	return &ValidationResult{
		Passed: false,
		Phases: []PhaseResult{
			{
				Name:   "lint",
				Passed: true,
				Steps: []StepResult{
					{Name: "eslint", Passed: true},
					{Name: "prettier", Passed: true},
				},
			},
			{
				Name:   "test",
				Passed: false,
				Steps: []StepResult{
					{Name: "unit", Passed: false, ExitCode: 1},
					{Name: "integration", Passed: true},
				},
			},
			{
				Name:    "build",
				Skipped: true,
				Steps:   []StepResult{{Name: "compile"}},
			},
		},
	}
}

func TestStepOutcomes(t *testing.T) {
	got := sampleResult().StepOutcomes()
	want := map[string]bool{
		"lint/eslint":      true,
		"lint/prettier":    true,
		"test/unit":        false,
		"test/integration": true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StepOutcomes = %v, want %v", got, want)
	}
	if _, ok := got["build/compile"]; ok {
		t.Error("skipped phase leaked into outcomes")
	}
}

func TestFailedSteps(t *testing.T) {
	got := sampleResult().FailedSteps()
	want := []string{"test/unit"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FailedSteps = %v, want %v", got, want)
	}
}

func TestStepKey(t *testing.T) {
	if got := StepKey("test", "unit"); got != "test/unit" {
		t.Errorf("StepKey = %q, want %q", got, "test/unit")
	}
}
