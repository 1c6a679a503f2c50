package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// printer writes a command result as indented JSON or as text.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) *printer {
	return &printer{format: opts.Format, w: w}
}

// print emits data as JSON, or calls text for the text format.
func (p *printer) print(data any, text func(w io.Writer)) error {
	if p.format == "json" {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return err
	}
	text(p.w)
	return nil
}
