// Package mlrs is the transmitter half of a bidirectional half-duplex LoRa link for
// remote control of small aircraft. It drives one or two SX1280 transceivers through a
// fixed periodic TDD frame, carrying control channels downstream and telemetry plus
// serial payload upstream. It uses kidoman/embd for the low level access to the hardware
// pins. Each concern is in its own directory and is stand-alone; the transmitter binary
// lives in the cmd directory tree.
package mlrs
