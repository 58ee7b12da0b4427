package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/xplshn/tyro/pkg/config"
	"github.com/xplshn/tyro/pkg/token"
)

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one reported problem, positioned in a source file.
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Message  string
	Flag     string // the -W name for warnings
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
	if d.Flag != "" {
		fmt.Fprintf(&sb, " [-W%s]", d.Flag)
	}
	return sb.String()
}

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

var (
	errorLabel   = color.New(color.FgRed, color.Bold)
	warningLabel = color.New(color.FgYellow, color.Bold)
	caretColor   = color.New(color.FgGreen)
)

// Diagnostics collects the errors and warnings of one compilation. It replaces
// a process-wide error hook: every stage that can fail receives the context
// explicitly. Messages are echoed to Out as they arrive when Out is non-nil.
type Diagnostics struct {
	Out io.Writer

	cfg    *config.Config
	files  []SourceFileRecord
	list   []Diagnostic
	errors int
}

func NewDiagnostics(cfg *config.Config, out io.Writer) *Diagnostics {
	return &Diagnostics{Out: out, cfg: cfg}
}

func (d *Diagnostics) SetSourceFiles(files []SourceFileRecord) { d.files = files }

func (d *Diagnostics) ErrorCount() int { return d.errors }

func (d *Diagnostics) List() []Diagnostic { return d.list }

// Errors returns only the error-severity diagnostics.
func (d *Diagnostics) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, diag := range d.list {
		if diag.Severity == SeverityError {
			errs = append(errs, diag)
		}
	}
	return errs
}

func (d *Diagnostics) Reset() {
	d.list, d.errors = nil, 0
}

func (d *Diagnostics) fileName(tok token.Token) string {
	if tok.FileIndex < 0 || tok.FileIndex >= len(d.files) {
		return "unknown"
	}
	return d.files[tok.FileIndex].Name
}

// Error records an error at tok.
func (d *Diagnostics) Error(tok token.Token, format string, args ...any) {
	diag := Diagnostic{
		File: d.fileName(tok), Line: tok.Line, Column: max(tok.Column, 1),
		Severity: SeverityError, Message: fmt.Sprintf(format, args...),
	}
	d.list = append(d.list, diag)
	d.errors++
	d.echo(diag, tok)
}

// Warn records a warning if the corresponding warning is enabled.
func (d *Diagnostics) Warn(wt config.Warning, tok token.Token, format string, args ...any) {
	if d.cfg != nil && !d.cfg.IsWarningEnabled(wt) {
		return
	}
	diag := Diagnostic{
		File: d.fileName(tok), Line: tok.Line, Column: max(tok.Column, 1),
		Severity: SeverityWarning, Message: fmt.Sprintf(format, args...),
	}
	if d.cfg != nil {
		diag.Flag = d.cfg.Warnings[wt].Name
	}
	d.list = append(d.list, diag)
	d.echo(diag, tok)
}

func (d *Diagnostics) echo(diag Diagnostic, tok token.Token) {
	if d.Out == nil {
		return
	}
	label := errorLabel
	if diag.Severity == SeverityWarning {
		label = warningLabel
	}
	fmt.Fprintf(d.Out, "%s:%d:%d: %s %s", diag.File, diag.Line, diag.Column, label.Sprint(diag.Severity.String()+":"), diag.Message)
	if diag.Flag != "" {
		fmt.Fprintf(d.Out, " [-W%s]", diag.Flag)
	}
	fmt.Fprintln(d.Out)
	d.printErrorLine(tok)
}

// printErrorLine prints the source line and a caret indicating the error position
func (d *Diagnostics) printErrorLine(tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(d.files) || tok.Line == 0 {
		return
	}

	content := d.files[tok.FileIndex].Content
	lineNum := tok.Line
	lineStart := 0
	for i, r := range content {
		if lineNum <= 1 {
			break
		}
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}

	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(d.Out, "  %s\n", string(content[lineStart:lineEnd]))
	if tok.Column < 1 {
		return
	}
	caret := "^"
	if tok.Len > 1 {
		caret += strings.Repeat("~", tok.Len-1)
	}
	fmt.Fprintf(d.Out, "  %s%s\n", strings.Repeat(" ", tok.Column-1), caretColor.Sprint(caret))
}
