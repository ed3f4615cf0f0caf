package pi

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hexapod/comm"
)

// scripted is an Exchanger that records commands and replies from a table
type scripted struct {
	sent    []comm.Command
	replies map[string][]string
	err     error
}

func (s *scripted) WriteCommand(ctx context.Context, cmd comm.Command) ([]string, error) {
	s.sent = append(s.sent, cmd)
	if s.err != nil {
		return nil, s.err
	}
	if !cmd.Response {
		return nil, nil
	}
	return s.replies[cmd.Text], nil
}

func (s *scripted) last() comm.Command {
	return s.sent[len(s.sent)-1]
}

var sixLines = []string{"X=1.5", "Y=-2", "Z=3.25", "U=0", "V=0.001", "W=-0.5"}

func TestMoveOnlyNamesGivenAxes(t *testing.T) {
	s := &scripted{}
	h := NewHexapod(s)
	require.NoError(t, h.Move(context.Background(), Axes{Z: 3, X: 1}))
	assert.Equal(t, comm.Command{Text: "MOV X 1 Z 3"}, s.last())

	require.NoError(t, h.MoveRelative(context.Background(), Axes{W: -0.25}))
	assert.Equal(t, "MVR W -0.25", s.last().Text)
	assert.False(t, s.last().Response)
}

func TestMoveWithoutAxes(t *testing.T) {
	h := NewHexapod(&scripted{})
	assert.Equal(t, ErrNoAxes, h.Move(context.Background(), Axes{}))
}

func TestVectorQueriesDeclareSixLines(t *testing.T) {
	cases := []struct {
		name string
		text string
		call func(*Hexapod) (AxisVector, error)
	}{
		{"real", CmdRealPosition, func(h *Hexapod) (AxisVector, error) { return h.RealPosition(context.Background()) }},
		{"pos", "POS? X Y Z U V W", func(h *Hexapod) (AxisVector, error) { return h.Position(context.Background()) }},
		{"target", "MOV? X Y Z U V W", func(h *Hexapod) (AxisVector, error) { return h.TargetPosition(context.Background()) }},
		{"low", "NLM? X Y Z U V W", func(h *Hexapod) (AxisVector, error) { return h.LowLimit(context.Background()) }},
		{"high", "PLM? X Y Z U V W", func(h *Hexapod) (AxisVector, error) { return h.HighLimit(context.Background()) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &scripted{replies: map[string][]string{tc.text: sixLines}}
			v, err := tc.call(NewHexapod(s))
			require.NoError(t, err)
			assert.Equal(t, comm.Query(tc.text, 6), s.last())
			assert.Equal(t, AxisVector{1.5, -2, 3.25, 0, 0.001, -0.5}, v)
		})
	}
}

func TestParseAxisVectorSingleLine(t *testing.T) {
	v, err := ParseAxisVector([]string{"X=1 Y=2 Z=3 U=4 V=5 W=6"})
	require.NoError(t, err)
	assert.Equal(t, AxisVector{1, 2, 3, 4, 5, 6}, v)
}

func TestParseAxisVectorMalformed(t *testing.T) {
	_, err := ParseAxisVector([]string{"X=1", "Y=2", "Z=3", "U=4", "V=5"})
	assert.True(t, errors.Is(err, ErrMalformedReply))

	_, err = ParseAxisVector([]string{"X=1", "Y=2", "Z=3", "U=4", "V=5", "W=abc"})
	assert.True(t, errors.Is(err, ErrMalformedReply))

	_, err = ParseAxisVector([]string{"garbage", "Y=2", "Z=3", "U=4", "V=5", "W=6"})
	assert.True(t, errors.Is(err, ErrMalformedReply))
}

func TestMotionStatusBitOrder(t *testing.T) {
	for _, a := range AllAxes {
		mask := uint64(1) << uint(a)
		reply := FormatMask(mask)
		s := &scripted{replies: map[string][]string{CmdMotionStatus: {reply}}}
		flags, err := NewHexapod(s).MotionStatus(context.Background())
		require.NoError(t, err)
		require.Len(t, flags, NumAxes)
		for _, b := range AllAxes {
			assert.Equal(t, a == b, flags[b], "mask %s axis %s", reply, b)
		}
	}
}

func TestMotionStatusIdle(t *testing.T) {
	s := &scripted{replies: map[string][]string{CmdMotionStatus: {"0"}}}
	flags, err := NewHexapod(s).MotionStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, Any(flags))
}

func TestPositionChangedEightWide(t *testing.T) {
	s := &scripted{replies: map[string][]string{CmdPositionChanged: {"0x81"}}}
	h := NewHexapod(s)
	h.MaskWidth = 8
	flags, err := h.PositionChanged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, false, false, false, true}, flags)
}

func TestParseMask(t *testing.T) {
	for in, want := range map[string]uint64{"0": 0, "3F": 0x3f, "0x3f": 0x3f, " 21 ": 0x21} {
		got, err := ParseMask(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMask("moving")
	assert.True(t, errors.Is(err, ErrMalformedReply))
}

func TestControllerReady(t *testing.T) {
	cases := map[string]struct {
		reply string
		ready bool
		bad   bool
	}{
		"ready":    {string([]byte{ReadySentinel}), true, false},
		"notready": {string([]byte{NotReadySentinel}), false, false},
		"junk":     {"1", false, true},
		"long":     {"\xb1\xb1", false, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := &scripted{replies: map[string][]string{CmdControllerReady: {tc.reply}}}
			ready, err := NewHexapod(s).ControllerReady(context.Background())
			if tc.bad {
				assert.True(t, errors.Is(err, ErrMalformedReply))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.ready, ready)
		})
	}
}

func TestReferencingResult(t *testing.T) {
	s := &scripted{replies: map[string][]string{"FRF?": {"X=1", "Y=1", "Z=1", "U=1", "V=1", "W=0"}}}
	st, err := NewHexapod(s).ReferencingResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReferenceStatus{true, true, true, true, true, false}, st)
	assert.False(t, st.All())
}

func TestCheckMove(t *testing.T) {
	s := &scripted{replies: map[string][]string{"VMO? X 100 Y 1": {"X=0", "Y=1", "Z=1", "U=1", "V=1", "W=1"}}}
	ok, err := NewHexapod(s).CheckMove(context.Background(), Axes{X: 100, Y: 1})
	require.NoError(t, err)
	assert.False(t, ok[X])
	assert.True(t, ok[Y])
	assert.Len(t, ok, NumAxes)
}

func TestPivot(t *testing.T) {
	s := &scripted{replies: map[string][]string{"SPI?": {"X=1", "Y=2.5", "Z=-3"}}}
	h := NewHexapod(s)
	require.NoError(t, h.SetPivotPoint(context.Background(), PivotPoint{1, 2.5, -3}))
	assert.Equal(t, "SPI X 1 Y 2.5 Z -3", s.last().Text)
	p, err := h.PivotPoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, comm.Query("SPI?", 3), s.last())
	assert.Equal(t, PivotPoint{1, 2.5, -3}, p)
}

func TestSoftLimitActivation(t *testing.T) {
	s := &scripted{}
	h := NewHexapod(s)
	require.NoError(t, h.ActivateSoftLimit(context.Background(), map[Axis]bool{U: true, X: false}))
	assert.Equal(t, "SSL X 0 U 1", s.last().Text)
}

func TestScalarReplies(t *testing.T) {
	s := &scripted{replies: map[string][]string{"VLS?": {"12.5"}, "ERR?": {"9"}}}
	h := NewHexapod(s)
	v, err := h.SystemVelocity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	code, err := h.Error(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ErrorCode(9), code)
	assert.Equal(t, "Attempt to set pivot point while U, V and W not all 0", code.Description())
}

func TestPopErrorAsDeviceError(t *testing.T) {
	s := &scripted{replies: map[string][]string{"ERR?": {"7"}}}
	err := NewHexapod(s).PopError(context.Background())
	var de DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrorCode(7), de.Code)
	assert.Equal(t, "7 - Position out of limits", err.Error())

	s.replies["ERR?"] = []string{"0"}
	assert.NoError(t, NewHexapod(s).PopError(context.Background()))
}

func TestUnknownErrorCode(t *testing.T) {
	assert.Equal(t, "12345 - UNKNOWN ERROR CODE", ErrorCode(12345).String())
}

func TestExchangeFailurePropagates(t *testing.T) {
	s := &scripted{err: comm.ErrTimeout}
	_, err := NewHexapod(s).RealPosition(context.Background())
	assert.Equal(t, comm.ErrTimeout, err)
	_, err = NewHexapod(s).Error(context.Background())
	assert.Equal(t, comm.ErrTimeout, err)
}
