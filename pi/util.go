package pi

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedReply is generated when a reply does not follow the GCS
	// grammar for the command that produced it
	ErrMalformedReply = errors.New("malformed reply from controller")

	// ErrMap maps GCS error codes to friendly strings
	ErrMap = map[ErrorCode]string{
		0:   "No error",
		1:   "Parameter syntax error",
		2:   "Unknown command",
		3:   "Command length out of limits or command buffer overrun",
		4:   "Error while scanning",
		5:   "Unallowable move attempted on unreferenced axis, or move attempted with servo off",
		7:   "Position out of limits",
		8:   "Velocity out of limits",
		9:   "Attempt to set pivot point while U, V and W not all 0",
		10:  "Controller was stopped by command",
		15:  "Invalid axis identifier",
		17:  "Parameter out of range",
		22:  "Axis identifier specified more than once",
		23:  "Illegal axis",
		24:  "Incorrect number of parameters",
		25:  "Invalid floating point number",
		26:  "Parameter missing",
		27:  "Soft limit out of range",
		45:  "Referencing failed",
		50:  "Attempt to reference axis with referencing disabled",
		52:  "Controller detected communication error",
		53:  "MOV! motion still in progress",
		56:  "Password invalid",
		60:  "Protected Param: current Command Level (CCL) too low",
		63:  "Initialization still in progress",
		200: "No stage connected to axis",
		214: "Position calculations failed",
		215: "The connection between controller and stage may be broken",
		216: "The connected stage has driven into a limit switch, call CLR to resume operation",
		217: "Strut test command failed because of an unexpected strut stop",
		218: "Position can be estimated only while MOV! is running",
		219: "Position was calculated while MOV is running",
		301: "Send buffer overflow",
		304: "Received command is too long",
		307: "Timeout while receiving command",
		308: "A lengthy operation has not finished in the expected time",
		333: "Internal hardware error",
		555: "BasMac: unknown controller error",
		601: "not enough memory",
		602: "hardware voltage error",
		603: "hardware temperature out of range",
	}
)

// ErrorCode is the content of the controller's error register.  Zero means no
// error.  Reading it with ERR? clears it.
type ErrorCode int

// Description returns the human readable meaning of the code
func (c ErrorCode) Description() string {
	if s, ok := ErrMap[c]; ok {
		return s
	}
	return "UNKNOWN ERROR CODE"
}

func (c ErrorCode) String() string {
	return fmt.Sprintf("%d - %s", int(c), c.Description())
}

// Err converts the code to something that implements the error interface,
// nil for zero
func (c ErrorCode) Err() error {
	if c == 0 {
		return nil
	}
	return DeviceError{Code: c}
}

// DeviceError is a fault reported by the controller through its error register
type DeviceError struct {
	Code ErrorCode
}

func (e DeviceError) Error() string {
	return e.Code.String()
}
