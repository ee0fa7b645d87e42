package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an -o value. Empty selects the table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q, want table, json or yaml", s)
	}
}

// WriteObject encodes obj as JSON or YAML. Tables are type specific and are
// rejected here.
func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		// Verification URLs carry query strings.
		enc.SetEscapeHTML(false)
		return enc.Encode(obj)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(obj); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return fmt.Errorf("%s output needs a dedicated writer", format)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteAccounts renders views in format.
func WriteAccounts(w io.Writer, format Format, views []AccountView) error {
	if format == FormatTable {
		WriteAccountTable(w, views)
		return nil
	}
	if views == nil {
		views = []AccountView{}
	}
	return WriteObject(w, format, views)
}
