package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// encoder writes fields as one line: known keys first in their configured
// order, the rest sorted by name.
type encoder struct {
	json  bool
	order []string
}

func newEncoder(format logFormat, order []string) encoder {
	return encoder{json: format == formatJSON, order: order}
}

func (e encoder) keys(f fields) []string {
	out := make([]string, 0, len(f))
	known := make(map[string]bool, len(e.order))
	for _, k := range e.order {
		known[k] = true
		if _, ok := f[k]; ok {
			out = append(out, k)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(f)) {
		if !known[k] {
			out = append(out, k)
		}
	}
	return out
}

func (e encoder) encode(f fields) ([]byte, error) {
	var buf bytes.Buffer
	if e.json {
		buf.WriteByte('{')
	}
	for i, k := range e.keys(f) {
		if e.json {
			if i > 0 {
				buf.WriteByte(',')
			}
			val, err := json.Marshal(f[k])
			if err != nil {
				return nil, fmt.Errorf("logger: encode %s: %w", k, err)
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteByte(':')
			buf.Write(val)
			continue
		}
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(kvValue(f[k]))
	}
	if e.json {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func kvValue(v any) string {
	s := fmt.Sprint(v)
	if strings.ContainsFunc(s, needsQuote) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}
