package adapter

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/imageflow/pathexpr"
)

// markdownImage matches ![alt](url) with an optional quoted title.
var markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)

// extractImages evaluates a path expression against a response document
// and sniffs each match for image content: direct URLs, long base64
// strings, {url}/{b64_json} objects, and Markdown image syntax. Matches
// are kept in source order.
func extractImages(doc any, path string) (urls []string, blobs [][]byte) {
	expr, err := pathexpr.Compile(path)
	if err != nil {
		return nil, nil
	}
	for _, match := range expr.Eval(doc) {
		appendImageValue(match, &urls, &blobs)
	}
	return urls, blobs
}

func appendImageValue(v any, urls *[]string, blobs *[][]byte) {
	switch val := v.(type) {
	case string:
		if matches := markdownImage.FindAllStringSubmatch(val, -1); len(matches) > 0 {
			for _, m := range matches {
				if isHTTPURL(m[1]) {
					*urls = append(*urls, m[1])
				}
			}
			return
		}
		if isHTTPURL(val) {
			*urls = append(*urls, val)
			return
		}
		// Anything this long that decodes is taken as raw image base64.
		if len(val) > 100 {
			if data, err := base64.StdEncoding.DecodeString(val); err == nil {
				*blobs = append(*blobs, data)
			}
		}
	case map[string]any:
		if u, ok := val["url"].(string); ok && u != "" {
			*urls = append(*urls, u)
			return
		}
		if b64, ok := val["b64_json"].(string); ok && b64 != "" {
			if data, err := base64.StdEncoding.DecodeString(b64); err == nil {
				*blobs = append(*blobs, data)
			}
		}
	}
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// firstString extracts the first match of a path as a string.
func firstString(doc any, path string) (string, bool) {
	expr, err := pathexpr.Compile(path)
	if err != nil {
		return "", false
	}
	v, ok := expr.First(doc)
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// snippet truncates a response body for error messages.
func snippet(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}
