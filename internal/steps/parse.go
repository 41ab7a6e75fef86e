package steps

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n(.*?)```")

// ExtractJSON finds the structured payload in a model response. Fenced code
// blocks holding valid JSON win; otherwise the first balanced object or
// array in the text is used.
func ExtractJSON(text string) (gjson.Result, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if gjson.Valid(body) && (strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[")) {
			return gjson.Parse(body), true
		}
	}
	if raw, ok := firstBalanced(text); ok {
		return gjson.Parse(raw), true
	}
	return gjson.Result{}, false
}

func firstBalanced(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		end, ok := matchClose(text, start)
		if !ok {
			continue
		}
		if candidate := text[start : end+1]; gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func matchClose(text string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// items returns the list in the payload: the payload itself when it is an
// array, or the first array found under one of keys.
func items(text string, keys ...string) []gjson.Result {
	res, ok := ExtractJSON(text)
	if !ok {
		return nil
	}
	if res.IsArray() {
		return res.Array()
	}
	for _, k := range keys {
		if v := res.Get(k); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

// object returns the payload object, unwrapping one of keys when present.
func object(text string, keys ...string) (gjson.Result, bool) {
	res, ok := ExtractJSON(text)
	if !ok || !res.IsObject() {
		return gjson.Result{}, false
	}
	for _, k := range keys {
		if v := res.Get(k); v.IsObject() {
			return v, true
		}
	}
	return res, true
}

// str returns the first non-empty string among the aliased fields.
func str(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r.Get(k).String()); v != "" {
			return v
		}
	}
	return ""
}

// stringsOf reads a list of strings. Comma separated strings are accepted too.
func stringsOf(r gjson.Result, keys ...string) []string {
	for _, k := range keys {
		v := r.Get(k)
		var out []string
		switch {
		case v.IsArray():
			for _, item := range v.Array() {
				s := strings.TrimSpace(item.String())
				if item.IsObject() {
					s = str(item, "name", "title", "id")
				}
				if s != "" {
					out = append(out, s)
				}
			}
		case v.Type == gjson.String:
			for _, part := range strings.Split(v.String(), ",") {
				if s := strings.TrimSpace(part); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// records reads an array of flat objects into string maps.
func records(r gjson.Result, keys ...string) []map[string]string {
	for _, k := range keys {
		v := r.Get(k)
		if !v.IsArray() {
			continue
		}
		var out []map[string]string
		for _, item := range v.Array() {
			if !item.IsObject() {
				continue
			}
			rec := map[string]string{}
			item.ForEach(func(key, value gjson.Result) bool {
				rec[key.String()] = value.String()
				return true
			})
			out = append(out, rec)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func encode(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
