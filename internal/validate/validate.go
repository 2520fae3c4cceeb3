// Package validate holds the input validators shared across the engine.
// Everything a client or operator supplies that ends up inside the rendered
// proxy configuration must pass through here: the rule expressions are built
// by string interpolation, so an unconstrained value could rewrite them.
package validate

import (
	"fmt"
	"regexp"
)

var (
	hostnamePattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	prefixPattern   = regexp.MustCompile(PrefixPattern)
	pathPattern     = regexp.MustCompile(PathPattern)
)

// PrefixPattern and PathPattern are the charsets as JSON Schema patterns.
// Kept in sync with RoutePrefix/RoutePath so schema rejection and code
// rejection agree.
const (
	PrefixPattern = `^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`
	PathPattern   = `^/[a-z0-9._/-]*$`
)

// reservedNames are router/middleware keys the renderer emits itself. A
// client prefix equal to one of these would silently clobber the HTTPS
// redirect in the rendered config.
var reservedNames = map[string]bool{
	"redirect-to-https": true,
	"https-redirect":    true,
}

// Hostname reports whether s is a well-formed DNS hostname.
func Hostname(s string) bool {
	return len(s) <= 253 && hostnamePattern.MatchString(s)
}

// RoutePrefix checks a client-supplied route prefix. The charset excludes
// everything with meaning in a rule expression (backticks, operators,
// slashes), so a prefix can never escape its Host/PathPrefix matcher.
func RoutePrefix(s string) error {
	if len(s) > 63 || !prefixPattern.MatchString(s) {
		return fmt.Errorf("prefix %q must be a lowercase DNS label", s)
	}
	if reservedNames[s] {
		return fmt.Errorf("prefix %q is reserved", s)
	}
	return nil
}

// RoutePath checks an explicit route path. Same constraint as RoutePrefix:
// the charset must not be able to terminate the PathPrefix matcher.
func RoutePath(s string) error {
	if len(s) > 253 || !pathPattern.MatchString(s) {
		return fmt.Errorf("path %q must be absolute and use [a-z0-9._/-]", s)
	}
	return nil
}
