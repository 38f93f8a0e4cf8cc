package analysis

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const noIssuesSentinel = "No issues found"

// Issue is one problem the model reported for a chunk.
type Issue struct {
	ID          string
	BasePath    string
	Path        string
	StartLine   int
	EndLine     int
	Description string
	Fix         string // empty when the model suggested none
	Priority    int
	CreatedAt   time.Time
}

// ParseIssues reads the block format the analysis prompt asks for:
//
//	Issue: <description>
//	Fix Suggestion: <fix or None>
//	Priority: <integer>
//	---
//
// Blocks that cannot be read are returned as errors alongside the issues
// that could.
func ParseIssues(chunk Chunk, text string) ([]Issue, []error) {
	if strings.Contains(text, noIssuesSentinel) {
		return nil, nil
	}

	var issues []Issue
	var errs []error
	for _, block := range strings.Split(text, "---") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		issue, err := parseBlock(block)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		issue.Path = chunk.Path
		issue.StartLine = chunk.StartLine
		issue.EndLine = chunk.EndLine
		issues = append(issues, issue)
	}
	return issues, errs
}

func parseBlock(block string) (Issue, error) {
	lines := strings.Split(block, "\n")

	_, description, ok := field(lines[0])
	if !ok || description == "" {
		return Issue{}, fmt.Errorf("no description in %q", cropLine(lines[0], 80))
	}
	issue := Issue{Description: description}

	for _, line := range lines[1:] {
		key, value, ok := field(line)
		if !ok {
			continue
		}
		switch key {
		case "Fix Suggestion", "Fix":
			if value != "None" {
				issue.Fix = value
			}
		case "Priority":
			priority, err := strconv.Atoi(value)
			if err != nil {
				return Issue{}, fmt.Errorf("priority of %q: %w", cropLine(description, 80), err)
			}
			issue.Priority = priority
		}
	}
	return issue, nil
}

// field splits "Key: value", tolerating markdown emphasis around the key.
func field(line string) (key, value string, ok bool) {
	line = strings.TrimLeft(strings.TrimSpace(line), "-* ")
	key, value, ok = strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.Trim(key, "* "), strings.Trim(value, "* \t"), true
}

func cropLine(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width] + "…"
}
