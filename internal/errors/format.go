package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Format renders err for CLI display. OracleError values get their code,
// operation, details and cause laid out on separate lines; plain errors
// fall back to Error().
func Format(err error) string {
	if err == nil {
		return ""
	}

	var oe *OracleError
	if !errors.As(err, &oe) {
		return err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", oe.Code, oe.Message)
	if oe.Op != "" {
		fmt.Fprintf(&b, "\n  operation: %s", oe.Op)
	}

	if len(oe.Details) > 0 {
		keys := make([]string, 0, len(oe.Details))
		for k := range oe.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n  %s: %s", k, oe.Details[k])
		}
	}

	if oe.Cause != nil {
		fmt.Fprintf(&b, "\n  cause: %v", oe.Cause)
	}

	return b.String()
}
