package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hygiene/internal/flowspec"
	"github.com/roach88/hygiene/internal/pipeline"
)

// FileValidation is the validation outcome of one flowsheet file.
type FileValidation struct {
	Path   string          `json:"path"`
	Name   string          `json:"name,omitempty"`
	Valid  bool            `json:"valid"`
	Errors []documentError `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Files []FileValidation `json:"files"`
	Valid bool             `json:"valid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <flowsheet>...",
		Short: "Validate flowsheet files without running them",
		Long: `Validate flowsheet descriptions: structure, unit types, port
references, fix and bound paths, and the pipeline section. Every problem
in a file is reported with its error code.

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - A file could not be read`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result := ValidationResult{Files: make([]FileValidation, 0, len(paths)), Valid: true}
	unreadable := false
	for _, path := range paths {
		fv := validateFile(path)
		f.VerboseLog("validated %s: %d error(s)", path, len(fv.Errors))
		if !fv.Valid {
			result.Valid = false
			for _, e := range fv.Errors {
				if e.Code == flowspec.ErrCodeNotFound || e.Code == flowspec.ErrCodeFormat {
					unreadable = true
				}
			}
		}
		result.Files = append(result.Files, fv)
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: firstCode(result), Message: "invalid flowsheet"}
		}
		if err := f.Envelope(resp); err != nil {
			return err
		}
	} else {
		w := f.Writer
		for _, fv := range result.Files {
			if fv.Valid {
				fmt.Fprintf(w, "✓ %s\n", fv.Path)
				continue
			}
			fmt.Fprintf(w, "✗ %s\n", fv.Path)
			for _, e := range fv.Errors {
				fmt.Fprintf(w, "  %s\n", formatDocumentError(e))
			}
		}
	}

	switch {
	case unreadable:
		return NewExitError(ExitCommandError, "flowsheet could not be read")
	case !result.Valid:
		return NewExitError(ExitFailure, "invalid flowsheet")
	}
	return nil
}

// validateFile runs every check that does not need a solve: document
// structure first, then model construction and the pipeline section.
func validateFile(path string) FileValidation {
	fv := FileValidation{Path: path}
	doc, err := flowspec.Load(path)
	if err != nil {
		fv.Errors = documentErrors(err)
		return fv
	}
	fv.Name = doc.Name

	if _, err := doc.Build(); err != nil {
		fv.Errors = documentErrors(err)
		return fv
	}
	if _, err := doc.Apply(pipeline.DefaultConfig()); err != nil {
		fv.Errors = documentErrors(err)
		return fv
	}
	fv.Valid = true
	return fv
}

func firstCode(r ValidationResult) string {
	for _, fv := range r.Files {
		if len(fv.Errors) > 0 {
			return fv.Errors[0].Code
		}
	}
	return flowspec.ErrCodeGeneric
}
