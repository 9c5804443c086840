package errors

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
)

func TestFormatErrorOrNil(t *testing.T) {
	assert.NoError(t, FormatErrorOrNil(nil))

	var merr *multierror.Error
	merr = multierror.Append(merr, errors.New("a failed"))
	assert.EqualError(t, FormatErrorOrNil(merr), "a failed")

	merr = multierror.Append(merr, errors.New("b failed"))
	assert.EqualError(t, FormatErrorOrNil(merr), "2 errors occurred: a failed; b failed")
}
