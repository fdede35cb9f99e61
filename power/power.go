// Package power controls the telescope drive power supply over Modbus
// RTU. The supply sequences the axis drives up after a spinup delay;
// motion commands should be held back until both axes report active.
package power

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/k3pgx/skytrack/internal/modbus"
)

// Status is one snapshot of the power controller's registers.
type Status struct {
	// SpinupDelay is the configured delay, in seconds, between the
	// enable command and the drives coming up.
	SpinupDelay int

	// Commanded state of the enable coils.
	CommandAzmEnabled bool
	CommandAltEnabled bool

	// Observed state of the supply and the axis drives.
	SupplyActive bool
	AzmActive    bool
	AltActive    bool
}

// Ready reports whether the mount can safely be commanded to move.
func (s Status) Ready() bool {
	return s.SupplyActive && s.AzmActive && s.AltActive
}

type StatusCallback func(status Status)

// Controller polls the power supply and pushes each snapshot to the
// status callback.
type Controller struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	client         *modbus.Client
	relays         int
	delay          int
	coils          []bool
	inputs         []bool
}

// Connect opens the serial port and starts polling. The callback fires on
// every successful poll.
func Connect(ctx context.Context, port string, baud int, statusCallback StatusCallback) (*Controller, error) {
	c := &Controller{
		client: &modbus.Client{
			Port:     port,
			BaudRate: baud,
			SlaveId:  1,
		},
		statusCallback: statusCallback,
	}
	c.client.Poll = c.pollOnce
	return c, c.client.Connect(ctx)
}

func (c *Controller) pollOnce() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	results, err := c.client.ReadInputRegisters(0, 1)
	if err != nil {
		return err
	}
	relays := binary.BigEndian.Uint16(results)

	results, err = c.client.ReadHoldingRegisters(0, 1)
	if err != nil {
		return err
	}
	c.delay = int(binary.BigEndian.Uint16(results))

	coils, err := c.client.ReadCoils(0, relays)
	if err != nil {
		return err
	}
	inputs, err := c.client.ReadDiscreteInputs(0, relays+1)
	if err != nil {
		return err
	}
	c.relays = int(relays)
	c.coils = modbus.BytesToBits(coils)
	c.inputs = modbus.BytesToBits(inputs)
	c.statusCallback(c.parseRegisters())
	return nil
}

func (c *Controller) parseRegisters() Status {
	return Status{
		SpinupDelay: c.delay,

		CommandAzmEnabled: c.coils[0],
		CommandAltEnabled: c.coils[1],

		SupplyActive: c.inputs[0],
		AzmActive:    c.inputs[1],
		AltActive:    c.inputs[2],
	}
}

// SetDrivesEnabled commands both axis drive enable coils.
func (c *Controller) SetDrivesEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.WriteCoil(0, enabled); err != nil {
		return err
	}
	return c.client.WriteCoil(1, enabled)
}
