package comm

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// makeSerConf makes a new serial.Config with 8N1 framing.  ReadTimeout is the
// per-read timeout; an expired read returns io.EOF.
func makeSerConf(addr string, baud int, timeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: timeout}
}

func openSerial(addr string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	return serial.OpenPort(makeSerConf(addr, baud, timeout))
}
