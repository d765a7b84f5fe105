package modbus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/w1xm/mount_control/internal/modbus/modbushttp"
	"go.uber.org/zap"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Client is a register client for a single modbus slave.
type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 4800
	BaudRate int
	DataBits int
	// Parity is "N", "E" or "O"
	Parity   string
	StopBits int
	Timeout  time.Duration
	SlaveId  byte
	// URL creates a remote connection through a modbus bridge
	URL string

	Logger *zap.SugaredLogger

	mu      sync.Mutex
	handler modbusHandler
	client  modbus.Client
}

func (c *Client) endpoint() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Port
}

// Connect opens the bus. Unlike a polling device, a register client is only useful
// once connected, so failures are returned rather than retried.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.URL != "" {
		c.handler = modbushttp.NewClient(c.URL, c.SlaveId)
	} else {
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = c.BaudRate
		if handler.BaudRate == 0 {
			handler.BaudRate = 4800
		}
		handler.DataBits = c.DataBits
		if handler.DataBits == 0 {
			handler.DataBits = 8
		}
		handler.Parity = c.Parity
		if handler.Parity == "" {
			handler.Parity = "N"
		}
		handler.StopBits = c.StopBits
		if handler.StopBits == 0 {
			handler.StopBits = 1
		}
		handler.Timeout = c.Timeout
		if handler.Timeout == 0 {
			handler.Timeout = 1 * time.Second
		}
		handler.SlaveId = c.SlaveId
		if handler.SlaveId == 0 {
			handler.SlaveId = 1
		}
		if c.Logger != nil {
			if l, err := zap.NewStdLogAt(c.Logger.Desugar(), zap.DebugLevel); err == nil {
				handler.Logger = l
			}
		}
		c.handler = handler
	}
	if err := c.handler.Connect(); err != nil {
		c.handler = nil
		return fmt.Errorf("opening %q: %w", c.endpoint(), err)
	}
	c.client = modbus.NewClient(c.handler)
	return nil
}

// ReadHoldingRegisters returns quantity registers starting at address.
func (c *Client) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("%q: not connected", c.endpoint())
	}
	results, err := c.client.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return nil, err
	}
	if len(results) != int(quantity)*2 {
		return nil, fmt.Errorf("short register read: got %d bytes, want %d", len(results), quantity*2)
	}
	return BytesToRegisters(results), nil
}

func (c *Client) WriteRegister(address, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return fmt.Errorf("%q: not connected", c.endpoint())
	}
	_, err := c.client.WriteSingleRegister(address, value)
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler = nil
	c.client = nil
	return err
}

// BytesToRegisters decodes big-endian register words.
func BytesToRegisters(bs []byte) []uint16 {
	out := make([]uint16, len(bs)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(bs[2*i:])
	}
	return out
}
