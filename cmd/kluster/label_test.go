package main

import (
	"bytes"
	"strings"
	"testing"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

func TestResolveLabelArgumentWins(t *testing.T) {
	var out bytes.Buffer
	label, err := resolveLabel([]string{" Drama "}, strings.NewReader("Comedy\n"), &out, true)
	if err != nil {
		t.Fatalf("resolveLabel failed: %v", err)
	}
	if label != "Drama" {
		t.Fatalf("expected Drama, got %q", label)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no prompt, got %q", out.String())
	}
}

func TestResolveLabelPrompts(t *testing.T) {
	var out bytes.Buffer
	label, err := resolveLabel(nil, strings.NewReader("Sci-Fi"), &out, true)
	if err != nil {
		t.Fatalf("resolveLabel failed: %v", err)
	}
	if label != "Sci-Fi" || out.String() != labelPrompt {
		t.Fatalf("unexpected label %q prompt %q", label, out.String())
	}
}

func TestResolveLabelSilentWithoutTerminal(t *testing.T) {
	var out bytes.Buffer
	if _, err := resolveLabel(nil, strings.NewReader("Drama\n"), &out, false); err != nil {
		t.Fatalf("resolveLabel failed: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no prompt, got %q", out.String())
	}
}

func TestResolveLabelRejectsEmpty(t *testing.T) {
	var out bytes.Buffer
	if _, err := resolveLabel(nil, strings.NewReader("   \n"), &out, false); !kerrors.HasCode(err, kerrors.CodeConfiguration) {
		t.Fatalf("expected CONFIGURATION_ERROR, got %v", err)
	}
	if _, err := resolveLabel([]string{"a", "b"}, strings.NewReader(""), &out, false); !kerrors.HasCode(err, kerrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
