// Package toon encodes JSON documents as TOON (Token-Oriented Object Notation).
//
// DESIGN: TOON keeps the JSON data model but drops most punctuation:
//   - Objects:           key: value lines, nested objects indented by two spaces
//   - Primitive arrays:  key[N]: a,b,c
//   - Uniform objects:   key[N]{f1,f2}: header, then one comma-separated row per element
//   - Everything else:   key[N]: header, then "- item" list entries
//
// Key order follows the source document (gjson iterates in document order),
// so the same JSON always produces the same TOON text.
package toon

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	indentUnit = "  "
	delimiter  = ","
)

// ErrInvalidJSON is returned when the input is not a JSON document.
var ErrInvalidJSON = errors.New("toon: input is not valid JSON")

var (
	bareKeyPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	numericLikePattern = regexp.MustCompile(`(?i)^-?\d+(?:\.\d+)?(?:e[+-]?\d+)?$`)
	leadingZeroPattern = regexp.MustCompile(`^0\d+$`)
)

// Encode converts a JSON document to TOON.
func Encode(doc []byte) (string, error) {
	if !gjson.ValidBytes(doc) {
		return "", ErrInvalidJSON
	}
	e := &encoder{}
	e.root(gjson.ParseBytes(doc))
	return strings.Join(e.lines, "\n"), nil
}

// EncodeString is Encode for string input.
func EncodeString(doc string) (string, error) {
	return Encode([]byte(doc))
}

type encoder struct {
	lines []string
}

func (e *encoder) line(depth int, s string) {
	e.lines = append(e.lines, strings.Repeat(indentUnit, depth)+s)
}

func (e *encoder) root(v gjson.Result) {
	switch {
	case v.IsObject():
		e.object(v, 0)
	case v.IsArray():
		e.array("", v, 0)
	default:
		e.line(0, primitive(v))
	}
}

func (e *encoder) object(obj gjson.Result, depth int) {
	obj.ForEach(func(k, v gjson.Result) bool {
		e.field(encodeKey(k.String()), v, depth)
		return true
	})
}

func (e *encoder) field(key string, v gjson.Result, depth int) {
	switch {
	case v.IsObject():
		e.line(depth, key+":")
		e.object(v, depth+1)
	case v.IsArray():
		e.array(key, v, depth)
	default:
		e.line(depth, key+": "+primitive(v))
	}
}

func (e *encoder) array(key string, arr gjson.Result, depth int) {
	items := arr.Array()
	header := fmt.Sprintf("%s[%d]", key, len(items))
	if len(items) == 0 {
		e.line(depth, header+":")
		return
	}

	if allPrimitive(items) {
		e.line(depth, header+": "+joinPrimitives(items))
		return
	}

	if fields, ok := tabularFields(items); ok {
		encoded := make([]string, len(fields))
		for i, f := range fields {
			encoded[i] = encodeKey(f)
		}
		e.line(depth, header+"{"+strings.Join(encoded, delimiter)+"}:")
		for _, item := range items {
			row := make([]string, len(fields))
			for i, f := range fields {
				row[i] = primitive(item.Get(gjson.Escape(f)))
			}
			e.line(depth+1, strings.Join(row, delimiter))
		}
		return
	}

	e.line(depth, header+":")
	for _, item := range items {
		e.listItem(item, depth+1)
	}
}

func (e *encoder) listItem(v gjson.Result, depth int) {
	switch {
	case v.IsObject():
		sub := &encoder{}
		sub.object(v, depth+1)
		if len(sub.lines) == 0 {
			e.line(depth, "-")
			return
		}
		// The first field shares the hyphen line; the rest stay one level deeper.
		first := strings.TrimPrefix(sub.lines[0], strings.Repeat(indentUnit, depth+1))
		e.line(depth, "- "+first)
		e.lines = append(e.lines, sub.lines[1:]...)
	case v.IsArray():
		items := v.Array()
		header := fmt.Sprintf("[%d]", len(items))
		if len(items) == 0 {
			e.line(depth, "- "+header+":")
			return
		}
		if allPrimitive(items) {
			e.line(depth, "- "+header+": "+joinPrimitives(items))
			return
		}
		e.line(depth, "- "+header+":")
		for _, item := range items {
			e.listItem(item, depth+1)
		}
	default:
		e.line(depth, "- "+primitive(v))
	}
}

func allPrimitive(items []gjson.Result) bool {
	for _, it := range items {
		if it.IsObject() || it.IsArray() {
			return false
		}
	}
	return true
}

func joinPrimitives(items []gjson.Result) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = primitive(it)
	}
	return strings.Join(parts, delimiter)
}

// tabularFields reports the shared field list when every element is an
// object with the same keys and only primitive values.
func tabularFields(items []gjson.Result) ([]string, bool) {
	var fields []string
	for i, item := range items {
		if !item.IsObject() {
			return nil, false
		}
		var keys []string
		primitiveOnly := true
		item.ForEach(func(k, v gjson.Result) bool {
			if v.IsObject() || v.IsArray() {
				primitiveOnly = false
				return false
			}
			keys = append(keys, k.String())
			return true
		})
		if !primitiveOnly || len(keys) == 0 {
			return nil, false
		}
		if i == 0 {
			fields = keys
			continue
		}
		if len(keys) != len(fields) {
			return nil, false
		}
		for _, f := range fields {
			if !item.Get(gjson.Escape(f)).Exists() {
				return nil, false
			}
		}
	}
	return fields, true
}

func primitive(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return "null"
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.Number:
		return canonicalNumber(v.Raw)
	default:
		return quoteValue(v.String())
	}
}

// canonicalNumber renders numbers without exponents and normalizes -0.
func canonicalNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		if raw == "-0" {
			return "0"
		}
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if s == "-0" {
		return "0"
	}
	return s
}

func quoteValue(s string) string {
	if needsQuotes(s) {
		return quote(s)
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return true
	}
	switch s {
	case "true", "false", "null":
		return true
	}
	if numericLikePattern.MatchString(s) || leadingZeroPattern.MatchString(s) {
		return true
	}
	if strings.HasPrefix(s, "-") {
		return true
	}
	return strings.ContainsAny(s, ":\"\\[]{}\n\r\t"+delimiter)
}

func encodeKey(k string) string {
	if bareKeyPattern.MatchString(k) {
		return k
	}
	return quote(k)
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
