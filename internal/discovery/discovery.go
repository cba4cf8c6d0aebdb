// Package discovery enumerates the outputs of a Domestia controller and
// decodes their polled state.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"domestia-go-home/internal/protocol"
)

// DefaultTimeout bounds each discovery request.
const DefaultTimeout = 3 * time.Second

// ErrShortResponse marks a reply too short to carry the expected fields.
var ErrShortResponse = errors.New("short response")

// Requester sends a command and waits for its reply. *network.Client
// satisfies it.
type Requester interface {
	SendAwait(ctx context.Context, cmd []byte, timeout time.Duration) ([]byte, error)
}

// Discoverer enumerates the outputs of one controller.
type Discoverer struct {
	req     Requester
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Discoverer. A zero timeout means DefaultTimeout.
func New(req Requester, timeout time.Duration, logger *slog.Logger) *Discoverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Discoverer{req: req, timeout: timeout, logger: logger}
}

// LoadAll reads the type table, builds one Device per output and resolves the
// names of lights and covers. A transport failure on the type table is
// returned. A short type table yields an empty list. Name failures never abort
// the enumeration.
func (d *Discoverer) LoadAll(ctx context.Context) ([]Device, error) {
	types, err := d.readTypes(ctx)
	if err != nil {
		if errors.Is(err, ErrShortResponse) {
			d.logger.Warn("type table short response, no devices", "err", err)
			return nil, nil
		}
		return nil, fmt.Errorf("read type table: %w", err)
	}

	devices := make([]Device, 0, len(types))
	for id, t := range types {
		dev := NewDevice(id, t, "")
		if dev.Category() == CategoryIgnored {
			d.logger.Debug("output ignored", "id", id, "type", t)
			devices = append(devices, dev)
			continue
		}
		name := d.readName(ctx, id)
		switch v := dev.(type) {
		case *Light:
			v.Name = name
		case *Cover:
			v.Name = name
		}
		d.logger.Info("output discovered", "id", id, "type", t, "category", dev.Category(), "name", name)
		devices = append(devices, dev)
	}
	return devices, nil
}

// readTypes returns the per-output type codes.
func (d *Discoverer) readTypes(ctx context.Context) ([]OutputType, error) {
	reply, err := d.req.SendAwait(ctx, protocol.TypeTableRequest(), d.timeout)
	if err != nil {
		return nil, err
	}
	if len(reply) < 4 {
		return nil, fmt.Errorf("%w: type table has %d bytes", ErrShortResponse, len(reply))
	}
	n := int(reply[3])
	if avail := len(reply) - 4; n > avail {
		d.logger.Warn("type table truncated", "announced", n, "present", avail)
		n = avail
	}
	types := make([]OutputType, n)
	for i := range types {
		types[i] = OutputType(reply[4+i])
	}
	return types, nil
}

func (d *Discoverer) readName(ctx context.Context, id int) string {
	reply, err := d.req.SendAwait(ctx, protocol.NameRequest(id), d.timeout)
	if err != nil {
		d.logger.Warn("name request failed", "id", id, "err", err)
		return FallbackName(id)
	}
	if name := DecodeName(reply); name != "" {
		return name
	}
	return FallbackName(id)
}

// DecodeName reads a Latin-1 name from offset 4 up to the first 0xFF.
func DecodeName(payload []byte) string {
	if len(payload) <= 4 {
		return ""
	}
	var b strings.Builder
	for _, c := range payload[4:] {
		if c == 0xFF {
			break
		}
		b.WriteRune(rune(c))
	}
	return strings.TrimSpace(b.String())
}
