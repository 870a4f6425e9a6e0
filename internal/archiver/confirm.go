package archiver

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm writes prompt to out and reads one answer from in, re-prompting
// until it gets "Y" or "N" (case-insensitive), generalizing
// resource_tracking/archive.py's user_confirm to a reusable whitelist gate
// for every destructive entry point in §4.5.5.
func Confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	reader := bufio.NewReader(in)
	for {
		if _, err := fmt.Fprint(out, prompt); err != nil {
			return false, err
		}
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			return false, fmt.Errorf("confirm: reading answer: %w", err)
		}
		switch strings.ToUpper(strings.TrimSpace(line)) {
		case "Y":
			return true, nil
		case "N":
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("confirm: reading answer: %w", err)
		}
	}
}
