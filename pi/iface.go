package pi

import (
	"context"

	"github.jpl.nasa.gov/bdube/hexapod/comm"
)

// Exchanger performs one serialized command/reply exchange.  *comm.Client
// satisfies it.
type Exchanger interface {
	WriteCommand(context.Context, comm.Command) ([]string, error)
}
