// Package sender transmits audio packets over UDP from a dedicated worker
// goroutine. Packets are pulled from a PacketSupplier once per cycle and
// sent best effort; failures are counted and never stop the loop.
package sender
