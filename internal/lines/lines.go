// Package lines prepares iCalendar and vCard text for strict decoders by
// unfolding content lines and dropping the ones a decoder would reject.
package lines

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

var propName = regexp.MustCompile(`^[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)?$`)

// Options tune the sanitizer for one format.
type Options struct {
	// BareParamsAsType rewrites vCard 2.1 style parameters without a value,
	// like "PHOTO;JPEG:", into TYPE parameters.
	BareParamsAsType bool
	// Container is the outermost component name, e.g. "VCALENDAR".
	Container string
}

// Unfold joins folded continuation lines and returns the logical lines with
// line terminators removed. Empty lines are dropped.
func Unfold(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		out = append(out, line)
	}
	return out
}

// Sanitize returns data reduced to the first well-nested opts.Container
// block, with malformed lines removed and unclosed components closed.
// Property names and parameter names are upper-cased.
func Sanitize(data []byte, opts Options) []byte {
	blocks := Blocks(data, opts)
	if len(blocks) == 0 {
		return nil
	}
	return blocks[0]
}

// Blocks is like Sanitize but returns every top-level opts.Container block.
func Blocks(data []byte, opts Options) [][]byte {
	var (
		blocks [][]byte
		buf    bytes.Buffer
		stack  []string
	)
	for _, line := range Unfold(data) {
		head, value, ok := Split(line)
		if !ok {
			continue
		}
		name, params := SplitParams(head)
		if !propName.MatchString(name) {
			continue
		}
		upper := strings.ToUpper(name)
		switch upper {
		case "BEGIN":
			comp := strings.ToUpper(strings.TrimSpace(value))
			if comp == "" || (len(stack) == 0 && comp != opts.Container) {
				continue
			}
			stack = append(stack, comp)
			writeLine(&buf, "BEGIN:"+comp)
			continue
		case "END":
			comp := strings.ToUpper(strings.TrimSpace(value))
			if len(stack) == 0 || stack[len(stack)-1] != comp {
				continue
			}
			stack = stack[:len(stack)-1]
			writeLine(&buf, "END:"+comp)
			if len(stack) == 0 {
				blocks = append(blocks, bytes.Clone(buf.Bytes()))
				buf.Reset()
			}
			continue
		}
		if len(stack) == 0 {
			continue
		}
		params = cleanParams(params, opts.BareParamsAsType)
		writeLine(&buf, joinHead(upper, params)+":"+value)
	}
	if len(stack) > 0 {
		for i := len(stack) - 1; i >= 0; i-- {
			writeLine(&buf, "END:"+stack[i])
		}
		blocks = append(blocks, bytes.Clone(buf.Bytes()))
	}
	return blocks
}

// Split separates a content line at the first colon that is not inside a
// quoted parameter value.
func Split(line string) (head, value string, ok bool) {
	quoted := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ':':
			if !quoted {
				return line[:i], line[i+1:], i > 0
			}
		}
	}
	return "", "", false
}

// SplitParams separates the property name from its raw parameter segments.
func SplitParams(head string) (name string, params []string) {
	parts := splitUnquoted(head, ';')
	return parts[0], parts[1:]
}

func cleanParams(params []string, bareAsType bool) []string {
	out := params[:0:0]
	for _, p := range params {
		if p == "" {
			continue
		}
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			if !bareAsType || !propName.MatchString(p) {
				continue
			}
			key, val = "TYPE", p
		}
		if !propName.MatchString(key) {
			continue
		}
		out = append(out, strings.ToUpper(key)+"="+val)
	}
	return out
}

func joinHead(name string, params []string) string {
	if len(params) == 0 {
		return name
	}
	return name + ";" + strings.Join(params, ";")
}

func splitUnquoted(s string, sep byte) []string {
	var (
		parts  []string
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteString("\r\n")
}
