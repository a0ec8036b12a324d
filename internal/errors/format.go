package errors

import (
	"errors"
	"fmt"
	"strings"
)

// FormatForUser returns a user-friendly error message for CLI display.
// If debug is true, the cause chain is included.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	var re *RagonError
	if !errors.As(err, &re) {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(re.Message)
	sb.WriteString("\n")

	if re.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(re.Suggestion)
		sb.WriteString("\n")
	}

	if debug && re.Cause != nil {
		sb.WriteString("\nCause: ")
		sb.WriteString(re.Cause.Error())
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", re.Code))
	return sb.String()
}
