// Package modbus wraps goburrow/modbus with the reconnect-and-poll loop
// our Modbus RTU devices need.
package modbus

import (
	"context"
	"log"
	"time"

	"github.com/goburrow/modbus"
)

type Client struct {
	// Port and BaudRate configure the serial connection.
	Port string
	// BaudRate defaults to 19200.
	BaudRate int
	SlaveId  byte

	// Poll function to be called in a loop while the connection is active.
	Poll func() error

	handler *modbus.RTUClientHandler
	modbus.Client
}

func (c *Client) Connect(ctx context.Context) error {
	handler := modbus.NewRTUClientHandler(c.Port)
	handler.BaudRate = c.BaudRate
	if handler.BaudRate == 0 {
		handler.BaudRate = 19200
	}
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = c.SlaveId
	c.handler = handler
	c.Client = modbus.NewClient(c.handler)
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}

		err := c.handler.Connect()
		if err != nil {
			log.Printf("opening %q: %v", c.Port, err)
			continue
		}
		if err := c.watch(ctx); err != nil {
			log.Printf("watching %q: %v", c.Port, err)
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.Poll(); err != nil {
			return err
		}
	}
}

func (c *Client) WriteCoil(coil int, value bool) error {
	var v uint16
	if value {
		v = 0xFF00
	}
	_, err := c.WriteSingleCoil(uint16(coil), v)
	return err
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
