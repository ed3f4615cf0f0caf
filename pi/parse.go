package pi

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FormatFloat renders a float the way commands and replies carry them
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatBool renders a flag as 1 or 0
func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// joinArgs builds "VERB A v A v ..." with axes in wire order
func joinArgs(verb string, args Axes) string {
	pieces := make([]string, 0, 1+2*len(args))
	pieces = append(pieces, verb)
	for _, a := range args.Sorted() {
		pieces = append(pieces, a.String(), FormatFloat(args[a]))
	}
	return strings.Join(pieces, " ")
}

// joinFlags builds "VERB A 1 A 0 ..." with axes in wire order
func joinFlags(verb string, flags map[Axis]bool) string {
	pieces := []string{verb}
	for _, a := range AllAxes {
		if b, ok := flags[a]; ok {
			pieces = append(pieces, a.String(), FormatBool(b))
		}
	}
	return strings.Join(pieces, " ")
}

// allAxesQuery is "VERB X Y Z U V W"
func allAxesQuery(verb string) string {
	return verb + " " + strings.Join(axisNames[:], " ")
}

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedReply, format, args...)
}

// parseTokens splits reply lines into KEY=value pairs.  A line may carry
// more than one pair separated by blanks.
func parseTokens(lines []string) (map[string]string, error) {
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		for _, tok := range strings.Fields(line) {
			idx := strings.IndexByte(tok, '=')
			if idx < 1 {
				return nil, malformed("token %q is not KEY=value", tok)
			}
			out[strings.ToUpper(tok[:idx])] = tok[idx+1:]
		}
	}
	return out, nil
}

// parseAxisTokens parses one value string per axis
func parseAxisTokens(lines []string) ([NumAxes]string, error) {
	var out [NumAxes]string
	toks, err := parseTokens(lines)
	if err != nil {
		return out, err
	}
	for _, a := range AllAxes {
		s, ok := toks[a.String()]
		if !ok {
			return out, malformed("reply is missing axis %s", a)
		}
		out[a] = s
	}
	return out, nil
}

// ParseAxisVector parses six AXIS=float lines
func ParseAxisVector(lines []string) (AxisVector, error) {
	var v AxisVector
	strs, err := parseAxisTokens(lines)
	if err != nil {
		return v, err
	}
	for _, a := range AllAxes {
		f, err := strconv.ParseFloat(strs[a], 64)
		if err != nil {
			return v, malformed("axis %s value %q", a, strs[a])
		}
		v.Set(a, f)
	}
	return v, nil
}

// ParseAxisFlags parses six AXIS=1|0 lines
func ParseAxisFlags(lines []string) ([NumAxes]bool, error) {
	var out [NumAxes]bool
	strs, err := parseAxisTokens(lines)
	if err != nil {
		return out, err
	}
	for _, a := range AllAxes {
		b, err := strconv.ParseBool(strs[a])
		if err != nil {
			return out, malformed("axis %s flag %q", a, strs[a])
		}
		out[a] = b
	}
	return out, nil
}

// ParsePivot parses the three X=, Y=, Z= lines of SPI?
func ParsePivot(lines []string) (PivotPoint, error) {
	var p PivotPoint
	toks, err := parseTokens(lines)
	if err != nil {
		return p, err
	}
	dst := map[string]*float64{"X": &p.X, "Y": &p.Y, "Z": &p.Z}
	for k, ptr := range dst {
		s, ok := toks[k]
		if !ok {
			return p, malformed("pivot reply is missing %s", k)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return p, malformed("pivot %s value %q", k, s)
		}
		*ptr = f
	}
	return p, nil
}

// ParseMask parses a hexadecimal status bitmask, with or without 0x
func ParseMask(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	u, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, malformed("bitmask %q", s)
	}
	return u, nil
}

// scalar strips an optional KEY= prefix from a single value reply
func scalar(s string) string {
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// ParseScalar parses a single float reply, "10" or "VLS=10"
func ParseScalar(s string) (float64, error) {
	f, err := strconv.ParseFloat(scalar(strings.TrimSpace(s)), 64)
	if err != nil {
		return 0, malformed("value %q", s)
	}
	return f, nil
}

// ParseErrorCode parses the reply to ERR?
func ParseErrorCode(s string) (ErrorCode, error) {
	i, err := strconv.Atoi(scalar(strings.TrimSpace(s)))
	if err != nil {
		return 0, malformed("error code %q", s)
	}
	return ErrorCode(i), nil
}

// FormatMask renders a status bitmask as uppercase hex without prefix
func FormatMask(mask uint64) string {
	return strings.ToUpper(strconv.FormatUint(mask, 16))
}
