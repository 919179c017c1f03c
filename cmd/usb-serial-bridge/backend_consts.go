package main

const (
	backendSerial   = "serial"
	backendLoopback = "loopback"

	// probeBaud is used for the startup open check only; the UART reopens
	// the port with the host's framing once it is enabled.
	probeBaud = 9600
)
