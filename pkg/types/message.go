package types

// ConsumedMessage is one fetched-but-unacknowledged message from the
// source queue. The Ack/Nack closures wrap the broker's delivery handle;
// each must be called exactly once, after which the handle is spent.
type ConsumedMessage struct {
	// ID is the broker's identifier for the delivery, used only for logging.
	ID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// Ack reports the message as durably handled; the broker drops it.
	Ack func()
	// Nack reports a processing failure; the broker requeues the message
	// for redelivery.
	Nack func()
}
