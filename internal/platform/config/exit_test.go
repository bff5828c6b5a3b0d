package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func captureExit(t *testing.T) (*bytes.Buffer, *int) {
	t.Helper()
	var buf bytes.Buffer
	code := -1
	prevWriter, prevExit := exitWriter, exitFunc
	exitWriter = &buf
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() {
		exitWriter = prevWriter
		exitFunc = prevExit
	})
	return &buf, &code
}

func TestExitfWritesMessageAndExitsWithCode1(t *testing.T) {
	buf, code := captureExit(t)

	Exitf("fatal: %s", "something broke")

	if *code != 1 {
		t.Fatalf("exit code = %d, want 1", *code)
	}
	if !strings.Contains(buf.String(), "fatal: something broke") {
		t.Fatalf("output = %q, want fatal message", buf.String())
	}
}

func TestExitOnErrorIgnoresNil(t *testing.T) {
	buf, code := captureExit(t)

	ExitOnError(nil, "parse flags")

	if *code != -1 {
		t.Fatalf("exit called with %d for nil error", *code)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestExitOnErrorPrefixesContext(t *testing.T) {
	buf, code := captureExit(t)

	ExitOnError(errors.New("boom"), "parse flags")

	if *code != 1 {
		t.Fatalf("exit code = %d, want 1", *code)
	}
	if got := strings.TrimSpace(buf.String()); got != "parse flags: boom" {
		t.Fatalf("output = %q, want %q", got, "parse flags: boom")
	}
}
