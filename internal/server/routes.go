package server

import (
	"net/url"
	"strings"

	"github.com/Tyrowin/gamedesk/internal/content"
)

// RouteMarker precedes the handler key in dynamic targets, as in
// "/ugmt/chars?view=chars". Everything up to and including its last
// occurrence is discarded.
const RouteMarker = "ugmt"

const (
	contentTypeHTML = "text/html"
	indexFile       = "index.html"
	errorFile       = "error.html"
	listingTemplate = "dir"
)

// mimeTypes is matched in order against the target path.
var mimeTypes = []struct {
	ext         string
	contentType string
}{
	{".html", contentTypeHTML},
	{".txt", "text/text"},
	{".xml", "text/xml"},
	{".xsl", "application/xml"},
	{".js", "text/javascript"},
	{".css", "text/css"},
	{".png", "image/png"},
	{".ico", "image/png"},
	{".jpg", "image/jpeg"},
	{".gif", "image/gif"},
	{".pdf", "application/pdf"},
	{".wav", "audio/x-wav"},
	{".ogg", "audio/ogg"},
	{".svg", "image/svg+xml"},
}

// mimeType returns the content type for a file path, or "" when its
// extension is not served statically.
func mimeType(path string) string {
	for _, m := range mimeTypes {
		if strings.HasSuffix(path, m.ext) {
			return m.contentType
		}
	}
	return ""
}

// splitQuery separates the path from a trailing query string.
func splitQuery(target string) (path, query string) {
	path, query, _ = strings.Cut(target, "?")
	return path, query
}

// parseDynamic derives the handler key and arguments from a target. The
// target is split on '?', '&' and '='; the first part names the handler and
// the rest are key/value pairs. Values are unescaped once more and '"' is
// read as '&'.
func parseDynamic(target string) (string, content.Params) {
	args := splitArgs(target)
	params := make(content.Params)
	for i := 1; i+1 < len(args); i += 2 {
		params[args[i]] = decodeValue(args[i+1])
	}
	return handlerKey(args[0]), params
}

// handlerKey returns the segment after the last route marker, e.g.
// "data" for "/ugmt/data/x".
func handlerKey(head string) string {
	if i := strings.LastIndex(head, RouteMarker); i >= 0 {
		head = head[i+len(RouteMarker):]
	}
	head = strings.TrimLeft(head, "./")
	key, _, _ := strings.Cut(head, "/")
	return key
}

// splitArgs splits on every ?, & and = so names and values alternate.
// Trailing empty arguments are dropped.
func splitArgs(s string) []string {
	var args []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '?', '&', '=':
			args = append(args, s[start:i])
			start = i + 1
		}
	}
	args = append(args, s[start:])
	for len(args) > 1 && args[len(args)-1] == "" {
		args = args[:len(args)-1]
	}
	return args
}

// decodeValue percent-decodes v and turns double quotes into ampersands.
func decodeValue(v string) string {
	if d, err := url.QueryUnescape(v); err == nil {
		v = d
	}
	return strings.ReplaceAll(v, `"`, "&")
}
