package envelope

import "testing"

func TestBuilderSuccessValidates(t *testing.T) {
	env := NewBuilder().
		Success(map[string]any{"message": "x"}).
		WithProvenance(Provenance{Source: "capsule.echo", Version: "v1", Instance: "engine-1"}).
		Build()

	if err := Validate(env); err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}
	if !env.Result.Success {
		t.Fatal("expected Result.Success = true")
	}
}

func TestBuilderErrorValidates(t *testing.T) {
	env := NewBuilder().
		Error("denied by policy", "quota_exceeded").
		Diagnostic(SeverityWarning, "quota nearly exhausted").
		Build()

	if err := Validate(env); err != nil {
		t.Fatalf("expected valid error envelope, got %v", err)
	}
	if env.Result.Success {
		t.Fatal("expected Result.Success = false")
	}
	if env.Result.Error.Code != "quota_exceeded" {
		t.Fatalf("Error.Code = %q, want quota_exceeded", env.Result.Error.Code)
	}
}

func TestValidateRejectsBadSeverity(t *testing.T) {
	env := NewBuilder().Success(nil).Build()
	env.Diagnostics = append(env.Diagnostics, Diagnostic{Severity: "catastrophic", Message: "oops"})

	if err := Validate(env); err == nil {
		t.Fatal("expected an invalid severity to fail schema validation")
	}
}

func TestSuggestionDecodedPatch(t *testing.T) {
	s := Suggestion{
		Priority: PriorityHigh,
		Message:  "bump the retry budget",
		Patch:    []byte(`[{"op":"replace","path":"/retries","value":5}]`),
	}
	patch, err := s.DecodedPatch()
	if err != nil {
		t.Fatal(err)
	}
	if len(patch) != 1 {
		t.Fatalf("expected one patch operation, got %d", len(patch))
	}
}

func TestSuggestionWithoutPatchDecodesToNil(t *testing.T) {
	s := Suggestion{Priority: PriorityLow, Message: "no patch here"}
	patch, err := s.DecodedPatch()
	if err != nil {
		t.Fatal(err)
	}
	if patch != nil {
		t.Fatalf("expected nil patch, got %v", patch)
	}
}
