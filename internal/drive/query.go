package drive

import (
	"fmt"
	"net/url"
	"strings"
)

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quote renders v as a single-quoted Drive query string literal.
func quote(v string) string {
	return "'" + queryEscaper.Replace(v) + "'"
}

// nameQuery selects live files named name directly under parent.
func nameQuery(name, parent string) string {
	return fmt.Sprintf("name=%s and %s in parents and trashed=false", quote(name), quote(parent))
}

// parentQuery selects every live file directly under parent.
func parentQuery(parent string) string {
	return fmt.Sprintf("%s in parents and trashed=false", quote(parent))
}

// listPath builds a files.list request path.
func listPath(q, fields, pageToken string) string {
	v := url.Values{}
	v.Set("q", q)
	v.Set("fields", fields)

	if pageToken != "" {
		v.Set("pageToken", pageToken)
	}

	return "/files?" + v.Encode()
}
