package client

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by Write
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Report is the document printed by the json and yaml formats. Unlike the
// wire format, output is rendered as text rather than base64.
type Report struct {
	ExitCode *int   `json:"exit_code" yaml:"exit_code"`
	Stdout   string `json:"stdout" yaml:"stdout"`
	Stderr   string `json:"stderr" yaml:"stderr"`
}

// NewReport converts a result for printing
func NewReport(r *Result) Report {
	return Report{
		ExitCode: r.ExitCode,
		Stdout:   string(r.Stdout),
		Stderr:   string(r.Stderr),
	}
}

// Write prints r in format. The text format copies the sandbox's stdout
// and stderr byte for byte to the matching writers.
func Write(stdout, stderr io.Writer, r *Result, format string) error {
	switch format {
	case FormatText:
		if _, err := stdout.Write(r.Stdout); err != nil {
			return err
		}
		_, err := stderr.Write(r.Stderr)
		return err
	case FormatJSON:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(NewReport(r))
	case FormatYAML:
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(NewReport(r)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return CheckFormat(format)
	}
}

// CheckFormat reports whether Write accepts format
func CheckFormat(format string) error {
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("unknown format %q, must be text, json or yaml", format)
	}
}

// ExitCode maps a result to a process exit status. A missing exit code is
// reported as 1.
func ExitCode(r *Result) int {
	if r.ExitCode == nil {
		return 1
	}
	return *r.ExitCode
}
