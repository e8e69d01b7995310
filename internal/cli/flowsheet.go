package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/hygiene/internal/flowsheet"
	"github.com/roach88/hygiene/internal/flowspec"
	"github.com/roach88/hygiene/internal/pipeline"
)

// loaded is a flowsheet file built into a model with its run config.
type loaded struct {
	doc   *flowspec.Document
	model *flowsheet.Model
	cfg   pipeline.Config
}

// loadFlowsheet reads, validates and builds a flowsheet file. Errors are
// flowspec LoadErrors, possibly joined.
func loadFlowsheet(path string) (*loaded, error) {
	doc, err := flowspec.Load(path)
	if err != nil {
		return nil, err
	}
	m, err := doc.Build()
	if err != nil {
		return nil, err
	}
	cfg, err := doc.Apply(pipeline.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &loaded{doc: doc, model: m, cfg: cfg}, nil
}

// documentError is the JSON form of a flowspec.LoadError.
type documentError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// documentErrors converts err into documentErrors. An error that carries
// no LoadError becomes a single E001 entry.
func documentErrors(err error) []documentError {
	if err == nil {
		return nil
	}
	var out []documentError
	for _, le := range flowspec.Errors(err) {
		de := documentError{Code: le.Code, Field: le.Field, Message: le.Message}
		if le.Pos.IsValid() {
			de.Line = le.Pos.Line()
		}
		out = append(out, de)
	}
	if len(out) == 0 {
		out = []documentError{{Code: flowspec.ErrCodeGeneric, Message: err.Error()}}
	}
	return out
}

// reportDocument writes the problems of a flowsheet file and returns the
// exit error. Files that cannot be read are command errors; files that
// were read but are invalid are failures.
func reportDocument(f *OutputFormatter, path string, err error) error {
	errs := documentErrors(err)
	code := ExitFailure
	var le *flowspec.LoadError
	if errors.As(err, &le) && (le.Code == flowspec.ErrCodeNotFound || le.Code == flowspec.ErrCodeFormat) {
		code = ExitCommandError
	}

	if f.JSON() {
		if encErr := f.Error(errs[0].Code, fmt.Sprintf("%s: invalid flowsheet", path), errs); encErr != nil {
			return encErr
		}
		return NewExitError(code, "invalid flowsheet")
	}

	w := f.Writer
	fmt.Fprintf(w, "✗ %s\n", path)
	for _, e := range errs {
		fmt.Fprintf(w, "  %s\n", formatDocumentError(e))
	}
	return NewExitError(code, "invalid flowsheet")
}

func formatDocumentError(e documentError) string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	b.WriteString(": ")
	if e.Field != "" {
		b.WriteString(e.Field + ": ")
	}
	b.WriteString(e.Message)
	return b.String()
}
