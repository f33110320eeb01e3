// Package uri turns submission URIs into routing dimensions.
package uri

import "strings"

// Split breaks a submission URI into its non-empty path segments. Runs of
// consecutive separators collapse to a single boundary, so "/", "" and
// "///" all yield no components. It never fails; a malformed URI simply
// yields fewer components than the route requires.
func Split(uri string) []string {
	return strings.FieldsFunc(uri, func(r rune) bool { return r == '/' })
}
