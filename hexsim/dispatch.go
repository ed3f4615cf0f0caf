package hexsim

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/hexapod/pi"
)

// ErrUnknownCommand is generated when a line matches no entry of the command
// table.  The device also sets GCS error 2.
var ErrUnknownCommand = errors.New("unknown command")

type kind int

const (
	kindRealPosition kind = iota
	kindMotionStatus
	kindPositionChanged
	kindReady
	kindStop
	kindMove
	kindMoveRelative
	kindTarget
	kindPosition
	kindReference
	kindReferenceResult
	kindCheckMove
	kindSetLowLimit
	kindLowLimit
	kindSetHighLimit
	kindHighLimit
	kindSetSoftLimit
	kindSoftLimit
	kindSetPivot
	kindPivot
	kindSetVelocity
	kindVelocity
	kindError
)

// shape is how the parameters after the verb are laid out
type shape int

const (
	noArgs    shape = iota
	axisList        // "X Y Z", possibly empty
	axisPairs       // "X 1.0 Y 2.0"
	flagPairs       // "X 1 Y 0"
	value           // "10"
)

// request is a parsed command line
type request struct {
	kind  kind
	line  string
	axes  []pi.Axis
	args  pi.Axes
	flags map[pi.Axis]bool
	value float64
}

type matcher struct {
	re    *regexp.Regexp
	kind  kind
	shape shape
}

// commandTable is evaluated in order, the first match wins.  Queries come
// before their setters since "MOV?" would otherwise look like "MOV" with
// malformed arguments.
var commandTable = []matcher{
	{regexp.MustCompile(`^\x03$`), kindRealPosition, noArgs},
	{regexp.MustCompile(`^\x05$`), kindMotionStatus, noArgs},
	{regexp.MustCompile(`^\x06$`), kindPositionChanged, noArgs},
	{regexp.MustCompile(`^\x07$`), kindReady, noArgs},
	{regexp.MustCompile(`^\x18$`), kindStop, noArgs},
	{regexp.MustCompile(`^MOV\?((?: \S+)*)$`), kindTarget, axisList},
	{regexp.MustCompile(`^POS\?((?: \S+)*)$`), kindPosition, axisList},
	{regexp.MustCompile(`^MOV((?: \S+)+)$`), kindMove, axisPairs},
	{regexp.MustCompile(`^MVR((?: \S+)+)$`), kindMoveRelative, axisPairs},
	{regexp.MustCompile(`^FRF\?((?: \S+)*)$`), kindReferenceResult, axisList},
	{regexp.MustCompile(`^FRF((?: \S+)*)$`), kindReference, axisList},
	{regexp.MustCompile(`^VMO\?((?: \S+)+)$`), kindCheckMove, axisPairs},
	{regexp.MustCompile(`^NLM\?((?: \S+)*)$`), kindLowLimit, axisList},
	{regexp.MustCompile(`^NLM((?: \S+)+)$`), kindSetLowLimit, axisPairs},
	{regexp.MustCompile(`^PLM\?((?: \S+)*)$`), kindHighLimit, axisList},
	{regexp.MustCompile(`^PLM((?: \S+)+)$`), kindSetHighLimit, axisPairs},
	{regexp.MustCompile(`^SSL\?((?: \S+)*)$`), kindSoftLimit, axisList},
	{regexp.MustCompile(`^SSL((?: \S+)+)$`), kindSetSoftLimit, flagPairs},
	{regexp.MustCompile(`^SPI\?$`), kindPivot, noArgs},
	{regexp.MustCompile(`^SPI((?: \S+)+)$`), kindSetPivot, axisPairs},
	{regexp.MustCompile(`^VLS\?$`), kindVelocity, noArgs},
	{regexp.MustCompile(`^VLS (\S+)$`), kindSetVelocity, value},
	{regexp.MustCompile(`^ERR\?$`), kindError, noArgs},
}

// match finds the table entry for line and parses its parameters.  A line
// that matches no entry returns ErrUnknownCommand.  A line that matches but
// has bad parameters returns the GCS error code to set.
func match(line string) (request, pi.ErrorCode, error) {
	for _, m := range commandTable {
		sub := m.re.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		req := request{kind: m.kind, line: line}
		params := ""
		if len(sub) > 1 {
			params = sub[1]
		}
		code := req.parse(m.shape, strings.Fields(params))
		return req, code, nil
	}
	return request{line: line}, 2, errors.Wrapf(ErrUnknownCommand, "%q", line)
}

func (r *request) parse(s shape, fields []string) pi.ErrorCode {
	switch s {
	case axisList:
		seen := map[pi.Axis]bool{}
		for _, f := range fields {
			a, err := pi.ParseAxis(f)
			if err != nil {
				return 15
			}
			if seen[a] {
				return 22
			}
			seen[a] = true
			r.axes = append(r.axes, a)
		}
		if len(r.axes) == 0 {
			r.axes = pi.AllAxes[:]
		}
	case axisPairs, flagPairs:
		if len(fields)%2 != 0 {
			return 24
		}
		r.args = pi.Axes{}
		r.flags = map[pi.Axis]bool{}
		for i := 0; i < len(fields); i += 2 {
			a, err := pi.ParseAxis(fields[i])
			if err != nil {
				return 15
			}
			if _, dup := r.args[a]; dup {
				return 22
			}
			f, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return 25
			}
			if s == flagPairs {
				if f != 0 && f != 1 {
					return 17
				}
				r.flags[a] = f == 1
			}
			r.args[a] = f
			r.axes = append(r.axes, a)
		}
	case value:
		if len(fields) != 1 {
			return 24
		}
		f, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 25
		}
		r.value = f
	}
	return 0
}
