// Package wol wakes a sleeping backup host with a magic packet before a
// remote run.
package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("creating WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}
	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("sending WOL packet: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{wolClient: &DefaultClient{}, logger: logger}
}

// NewWithClient creates a new WOL service with a custom client (for testing).
func NewWithClient(logger zerolog.Logger, wolClient Client) *Impl {
	return &Impl{wolClient: wolClient, logger: logger}
}

// Wake sends a magic packet and waits the configured stabilization delay so
// the host has time to come up before the transport connects.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	broadcast := cfg.BroadcastIP
	if broadcast == "" {
		broadcast = "255.255.255.255"
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", broadcast).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(broadcast, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // caller reads result.Error
	}
	result.PacketSent = true

	if cfg.StabilizeWait > 0 {
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.WaitDuration = time.Since(start)
	return result, nil
}
