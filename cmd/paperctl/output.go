package main

import (
	"encoding/json"
	"io"
	"os"
)

var stdout io.Writer = os.Stdout

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
