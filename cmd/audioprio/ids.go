package main

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"
)

// ULID regex pattern: 26 characters, alphanumeric (0-9, A-Z excluding I, L, O, U)
var ulidPattern = regexp.MustCompile(`\b[0-9A-HJ-KM-NP-TV-Z]{26}\b`)

var errNoID = errors.New("no id given")

// extractDescriptorID accepts a bare descriptor id or any line containing
// one, such as a selection from dmenu output.
func extractDescriptorID(line string) string {
	line = strings.TrimSpace(line)
	if match := ulidPattern.FindString(line); match != "" {
		return match
	}
	return line
}

// extractEndpointID accepts a bare endpoint id or a dmenu line, whose last
// field is the id.
func extractEndpointID(line, sep string) string {
	line = strings.TrimSpace(line)
	if sep != "" {
		if i := strings.LastIndex(line, sep); i >= 0 {
			return strings.TrimSpace(line[i+len(sep):])
		}
	}
	return line
}

// argOrStdin returns args[i] when present, otherwise the first non-empty
// line of r.
func argOrStdin(args []string, i int, r io.Reader) (string, error) {
	if i < len(args) {
		return args[i], nil
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errNoID
}
