package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const countdown = `// prints 3 2 1
n = 3;
while (n > 0) {
	print(n);
	n = n - 1;
}
`

func tyro(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(args)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSource(t *testing.T) {
	src := writeFile(t, t.TempDir(), "count.ty", countdown)
	out, stderr, err := tyro(t, src)
	if err != nil {
		t.Fatalf("%v\n%s", err, stderr)
	}
	if out != "3\n2\n1\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestEveryOutputFormatRunsTheSame(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "count.ty", "seed(1); "+countdown)

	tbc := filepath.Join(dir, "count.tbc")
	tyi := filepath.Join(dir, "count.tyi")
	tasm := filepath.Join(dir, "count.tasm")
	for _, args := range [][]string{
		{"-c", src},
		{"--image", src},
		{"-S", "-o", tasm, src},
	} {
		if _, stderr, err := tyro(t, args...); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, stderr)
		}
	}

	for _, input := range []string{tbc, tyi, tasm} {
		out, stderr, err := tyro(t, input)
		if err != nil {
			t.Fatalf("%s: %v\n%s", input, err, stderr)
		}
		if out != "3\n2\n1\n" {
			t.Errorf("%s: stdout = %q", input, out)
		}
	}
}

func TestCompileErrorsAreReported(t *testing.T) {
	src := writeFile(t, t.TempDir(), "bad.ty", "print(1, 2);\nlaunch();\n")
	_, stderr, err := tyro(t, src)
	if err == nil {
		t.Fatal("bad program compiled")
	}
	for _, want := range []string{
		"does not take 2 parameters",
		"reference to unknown function 'launch'",
		"compilation failed: 2 error(s)",
	} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestFaultDumpsStack(t *testing.T) {
	src := writeFile(t, t.TempDir(), "div.tasm", "push 7\npush 10\npush 0\nidiv\n")
	_, stderr, err := tyro(t, "--dump-stack", src)
	if err == nil {
		t.Fatal("division by zero did not fail")
	}
	if !strings.Contains(stderr, "integer division by zero") || !strings.Contains(stderr, "00000007 0000000a") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tyro.toml", "[vm]\nstack-size = 2\n")
	src := writeFile(t, dir, "deep.tasm", "push 1\npush 2\npush 3\n")

	if _, stderr, err := tyro(t, src); err == nil || !strings.Contains(stderr, "stack overflow") {
		t.Fatalf("err = %v, stderr = %q", err, stderr)
	}
	if _, stderr, err := tyro(t, "--stack-size", "8", src); err != nil {
		t.Fatalf("flag did not override the project file: %v\n%s", err, stderr)
	}
}

func TestDumpIR(t *testing.T) {
	src := writeFile(t, t.TempDir(), "x.ty", "x = 1;")
	out, _, err := tyro(t, "-d", "--dump-ast", src)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Assign x", "push", "store"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestRejectsUnknownInput(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", "")
	if _, stderr, err := tyro(t, path); err == nil || !strings.Contains(stderr, "unknown input kind") {
		t.Errorf("err = %v, stderr = %q", err, stderr)
	}
}
