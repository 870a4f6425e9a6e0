package archiver

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfirmAcceptsY(t *testing.T) {
	out := &bytes.Buffer{}
	ok, err := Confirm(strings.NewReader("y\n"), out, "proceed?")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !ok {
		t.Error("expected true for 'y'")
	}
	if !strings.Contains(out.String(), "proceed?") {
		t.Error("expected prompt to be written to out")
	}
}

func TestConfirmAcceptsN(t *testing.T) {
	out := &bytes.Buffer{}
	ok, err := Confirm(strings.NewReader("N\n"), out, "proceed?")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if ok {
		t.Error("expected false for 'N'")
	}
}

func TestConfirmReprompsOnUnrecognizedAnswer(t *testing.T) {
	out := &bytes.Buffer{}
	ok, err := Confirm(strings.NewReader("maybe\nY\n"), out, "proceed?")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !ok {
		t.Error("expected the second, recognized answer to win")
	}
}
