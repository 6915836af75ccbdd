package serialmux

import "io"

// SerialPorter is the minimal interface needed for a serial port. It lets
// the mux run over a real device, a fixture replay or a test double.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortOpener opens a port at path. NewRealSerialMux uses serial.Open;
// tests substitute their own.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
