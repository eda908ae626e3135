package functions

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/querybind/internal/edm"
	"github.com/roach88/querybind/internal/expr"
)

var (
	lower = cases.Lower(language.Und)
	upper = cases.Upper(language.Und)
)

func stringFunctions() []*expr.Function {
	str := edm.String
	i64 := edm.Int64
	return []*expr.Function{
		fn("contains", tBool, func(a []any) (any, error) {
			return strings.Contains(a[0].(string), a[1].(string)), nil
		}, str, str),
		fn("startswith", tBool, func(a []any) (any, error) {
			return strings.HasPrefix(a[0].(string), a[1].(string)), nil
		}, str, str),
		fn("endswith", tBool, func(a []any) (any, error) {
			return strings.HasSuffix(a[0].(string), a[1].(string)), nil
		}, str, str),
		fn("length", tInt32, func(a []any) (any, error) {
			return int64(utf8.RuneCountInString(a[0].(string))), nil
		}, str),
		fn("indexof", tInt32, func(a []any) (any, error) {
			return runeIndex(a[0].(string), a[1].(string)), nil
		}, str, str),
		fn("substring", tString, func(a []any) (any, error) {
			return substring(a[0].(string), a[1].(int64), -1), nil
		}, str, i64),
		fn("substring", tString, func(a []any) (any, error) {
			return substring(a[0].(string), a[1].(int64), a[2].(int64)), nil
		}, str, i64, i64),
		fn("tolower", tString, func(a []any) (any, error) {
			return lower.String(a[0].(string)), nil
		}, str),
		fn("toupper", tString, func(a []any) (any, error) {
			return upper.String(a[0].(string)), nil
		}, str),
		fn("trim", tString, func(a []any) (any, error) {
			return strings.TrimSpace(a[0].(string)), nil
		}, str),
		fn("concat", tString, func(a []any) (any, error) {
			return a[0].(string) + a[1].(string), nil
		}, str, str),
		fn("matchesPattern", tBool, func(a []any) (any, error) {
			re, err := patterns.compile(a[1].(string))
			if err != nil {
				return nil, err
			}
			return re.MatchString(a[0].(string)), nil
		}, str, str),
	}
}

// runeIndex is strings.Index counted in characters; -1 when absent.
func runeIndex(s, sub string) int64 {
	i := strings.Index(s, sub)
	if i < 0 {
		return -1
	}
	return int64(utf8.RuneCountInString(s[:i]))
}

// substring takes length characters from start; a negative length takes the
// rest. Out-of-range bounds are clamped.
func substring(s string, start, length int64) string {
	r := []rune(s)
	n := int64(len(r))
	start = max(start, 0)
	if start >= n {
		return ""
	}
	end := n
	if length >= 0 && start+length < n {
		end = start + length
	}
	return string(r[start:end])
}

type patternCache struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}

var patterns = &patternCache{m: make(map[string]*regexp.Regexp)}

func (c *patternCache) compile(p string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.m[p]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", expr.ErrInvalidValue, p, err)
	}
	c.mu.Lock()
	c.m[p] = re
	c.mu.Unlock()
	return re, nil
}
