package models

import "time"

// WOLConfig holds Wake-on-LAN settings for waking the backup host before a
// remote run.
type WOLConfig struct {
	MACAddress  string
	BroadcastIP string
	// StabilizeWait is how long to wait after the packet is sent before the
	// transport connects, giving the host time to boot.
	StabilizeWait time.Duration
}

// WOLResult holds the result of a Wake-on-LAN attempt.
type WOLResult struct {
	PacketSent   bool
	WaitDuration time.Duration
	Error        error
}
