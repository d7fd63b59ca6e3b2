package executor

import (
	"regexp"
	"strings"
)

// matches reports whether output satisfies assertion, first as a literal
// substring and then as a regular expression. An assertion that is not a
// valid pattern only matches literally; the compile error is returned for
// the step record.
func matches(output, assertion string) (bool, error) {
	if strings.Contains(output, assertion) {
		return true, nil
	}
	re, err := regexp.Compile(assertion)
	if err != nil {
		return false, err
	}
	return re.MatchString(output), nil
}
