package model_test

import (
	"testing"

	"codegrade/internal/grading/model"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := model.Fingerprint("two-sum", 3, "python3", "print(1)")
	b := model.Fingerprint("two-sum", 3, "python3", "print(1)")
	if a != b {
		t.Fatalf("identical inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := model.Fingerprint("two-sum", 3, "python3", "print(1)")

	cases := map[string]string{
		"challenge":   model.Fingerprint("three-sum", 3, "python3", "print(1)"),
		"version":     model.Fingerprint("two-sum", 4, "python3", "print(1)"),
		"environment": model.Fingerprint("two-sum", 3, "node20", "print(1)"),
		"code":        model.Fingerprint("two-sum", 3, "python3", "print(2)"),
	}
	for name, fp := range cases {
		if fp == base {
			t.Fatalf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestFingerprintEnvironmentCanonicalized(t *testing.T) {
	a := model.Fingerprint("two-sum", 1, "Python3", "x")
	b := model.Fingerprint("two-sum", 1, " python3 ", "x")
	if a != b {
		t.Fatalf("environment canonicalization should collapse case and spacing")
	}
}

func TestFingerprintNoFieldBoundaryCollision(t *testing.T) {
	// Without length prefixes "ab"+"c" and "a"+"bc" would hash equal.
	a := model.Fingerprint("x", 1, "ab", "c")
	b := model.Fingerprint("x", 1, "a", "bc")
	if a == b {
		t.Fatalf("field boundary shift must not collide")
	}
}
