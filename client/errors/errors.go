package errors

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// formatError renders all errors on a single line so they fit a log entry or an update result reason
func formatError(es []error) string {
	if len(es) == 1 {
		return es[0].Error()
	}

	points := make([]string, len(es))
	for i, err := range es {
		points[i] = err.Error()
	}

	return fmt.Sprintf("%d errors occurred: %s", len(es), strings.Join(points, "; "))
}

// FormatErrorOrNil returns nil when err holds no errors
func FormatErrorOrNil(err *multierror.Error) error {
	if err != nil {
		err.ErrorFormat = formatError
	}
	return err.ErrorOrNil()
}
