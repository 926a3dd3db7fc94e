package main

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// render writes v in the selected output format. YAML documents are
// separated by "---" when several are written by one command.
func (a *app) render(w io.Writer, v any) error {
	defer func() { a.rendered++ }()

	if a.output == "yaml" {
		if a.rendered > 0 {
			if _, err := io.WriteString(w, "---\n"); err != nil {
				return err
			}
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
