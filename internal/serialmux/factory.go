package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// NewRealSerialMux opens the device at path with opts and returns a mux over it.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}

// OpenSerialMux opens path through opener. It is the seam used by tests in
// place of NewRealSerialMux.
func OpenSerialMux(opener SerialPortOpener, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	if _, err := opts.Normalise(); err != nil {
		return nil, err
	}
	port, err := opener(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialMux(port), nil
}

// ListPorts returns the serial devices visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
