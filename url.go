package restfetch

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// ArrayFormat selects how array-valued query parameters are serialized.
type ArrayFormat int

const (
	// ArrayRepeat serializes arrays as repeated keys: a=1&a=2.
	ArrayRepeat ArrayFormat = iota
	// ArrayBracket serializes arrays with bracket suffixes: a[]=1&a[]=2.
	ArrayBracket
	// ArrayComma serializes arrays as one comma-joined value: a=1,2.
	ArrayComma
	// ArrayDelimiter serializes arrays joined by a custom delimiter.
	ArrayDelimiter
)

// QueryOptions tunes query-string serialization.
type QueryOptions struct {
	Format ArrayFormat
	// Delimiter joins array values when Format is ArrayDelimiter.
	Delimiter string
}

// ComposePath combines an accumulated parent path with a local path.
// A path with a leading slash is absolute relative to the base's root and
// replaces the parent path; a relative path appends to it with exactly one
// separating slash; an empty path leaves the parent path untouched.
func ComposePath(parentPath, pathPart string) string {
	switch {
	case pathPart == "":
		return parentPath
	case pathPart == "/":
		return "/"
	case strings.HasPrefix(pathPart, "/"):
		return pathPart
	case parentPath == "":
		return pathPart
	default:
		return strings.TrimSuffix(parentPath, "/") + "/" + pathPart
	}
}

// ComposeURL composes a base URL, an accumulated parent path and a local path
// into one absolute URL. The base's own path component is always preserved;
// dot segments in relative paths are resolved against it.
func ComposeURL(base, parentPath, pathPart string) string {
	composed := ComposePath(parentPath, pathPart)
	if composed == "" {
		return base
	}
	joined := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(composed, "/")
	return resolveDotSegments(joined)
}

// resolveDotSegments collapses "./" and "../" path segments. URLs without dot
// segments pass through untouched so trailing slashes survive composition.
func resolveDotSegments(rawURL string) string {
	if !strings.Contains(rawURL, "../") && !strings.Contains(rawURL, "/./") {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return rawURL
	}

	hadTrailing := strings.HasSuffix(u.Path, "/")
	cleaned := path.Clean(u.Path)
	if cleaned == "." || cleaned == ".." {
		cleaned = "/"
	}
	if hadTrailing && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	u.Path = cleaned
	return u.String()
}

// MergeQueryParams shallow-merges query parameter layers; later layers take
// precedence per key. A nil result means no layer carried any parameters.
func MergeQueryParams(layers ...map[string]interface{}) map[string]interface{} {
	var merged map[string]interface{}
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]interface{}, len(layer))
		}
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// EncodeQuery serializes query parameters deterministically (keys sorted).
// Arrays follow opts.Format; nested maps are bracket-encoded as k[sub]=v.
func EncodeQuery(params map[string]interface{}, opts QueryOptions) string {
	if len(params) == 0 {
		return ""
	}

	var pairs []string
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		pairs = append(pairs, encodeQueryValue(k, params[k], opts)...)
	}
	return strings.Join(pairs, "&")
}

func encodeQueryValue(key string, value interface{}, opts QueryOptions) []string {
	switch v := value.(type) {
	case nil:
		return []string{url.QueryEscape(key) + "="}
	case []string:
		items := make([]interface{}, len(v))
		for i, s := range v {
			items[i] = s
		}
		return encodeArray(key, items, opts)
	case []interface{}:
		return encodeArray(key, v, opts)
	case map[string]interface{}:
		subKeys := make([]string, 0, len(v))
		for sk := range v {
			subKeys = append(subKeys, sk)
		}
		sort.Strings(subKeys)
		var pairs []string
		for _, sk := range subKeys {
			pairs = append(pairs, encodeQueryValue(key+"["+sk+"]", v[sk], opts)...)
		}
		return pairs
	default:
		return []string{url.QueryEscape(key) + "=" + url.QueryEscape(fmt.Sprint(v))}
	}
}

func encodeArray(key string, items []interface{}, opts QueryOptions) []string {
	switch opts.Format {
	case ArrayBracket:
		pairs := make([]string, 0, len(items))
		for _, item := range items {
			pairs = append(pairs, url.QueryEscape(key+"[]")+"="+url.QueryEscape(fmt.Sprint(item)))
		}
		return pairs
	case ArrayComma, ArrayDelimiter:
		sep := ","
		if opts.Format == ArrayDelimiter && opts.Delimiter != "" {
			sep = opts.Delimiter
		}
		joined := make([]string, 0, len(items))
		for _, item := range items {
			joined = append(joined, fmt.Sprint(item))
		}
		return []string{url.QueryEscape(key) + "=" + url.QueryEscape(strings.Join(joined, sep))}
	default:
		pairs := make([]string, 0, len(items))
		for _, item := range items {
			pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(fmt.Sprint(item)))
		}
		return pairs
	}
}

// appendQuery attaches an encoded query string to a composed URL.
func appendQuery(composedURL, encoded string) string {
	if encoded == "" {
		return composedURL
	}
	if strings.Contains(composedURL, "?") {
		return composedURL + "&" + encoded
	}
	return composedURL + "?" + encoded
}

// endpointFromURL extracts a host+path label for metrics and logging.
func endpointFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(u.Host)

	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
