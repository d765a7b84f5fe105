// Package modbustest provides an in-memory register device reachable through the
// modbushttp bridge protocol.
package modbustest

import (
	"encoding/binary"
	"fmt"
	"net/http/httptest"
	"sync"

	"github.com/goburrow/modbus"
	"github.com/w1xm/mount_control/internal/modbus/modbushttp"
)

// Device answers read-holding-register and write-single-register requests from a
// register map.
type Device struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	writes    []Write
	fail      string
}

type Write struct {
	Address, Value uint16
}

func NewDevice(registers map[uint16]uint16) *Device {
	d := &Device{registers: make(map[uint16]uint16)}
	for k, v := range registers {
		d.registers[k] = v
	}
	return d
}

// Set replaces one register value.
func (d *Device) Set(address, value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers[address] = value
}

// Fail makes all subsequent requests fail with msg; an empty msg clears the failure.
func (d *Device) Fail(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = msg
}

func (d *Device) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

// Send handles one RTU request frame.
func (d *Device) Send(aduRequest []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != "" {
		return nil, fmt.Errorf("%s", d.fail)
	}
	if len(aduRequest) < 4 {
		return nil, fmt.Errorf("short request")
	}
	packager := modbus.NewRTUClientHandler("")
	packager.SlaveId = aduRequest[0]
	pdu, err := packager.Decode(aduRequest)
	if err != nil {
		return nil, err
	}
	resp := &modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode}
	switch pdu.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		address := binary.BigEndian.Uint16(pdu.Data)
		quantity := binary.BigEndian.Uint16(pdu.Data[2:])
		resp.Data = make([]byte, 1+2*int(quantity))
		resp.Data[0] = byte(2 * quantity)
		for i := uint16(0); i < quantity; i++ {
			binary.BigEndian.PutUint16(resp.Data[1+2*i:], d.registers[address+i])
		}
	case modbus.FuncCodeWriteSingleRegister:
		address := binary.BigEndian.Uint16(pdu.Data)
		value := binary.BigEndian.Uint16(pdu.Data[2:])
		d.registers[address] = value
		d.writes = append(d.writes, Write{address, value})
		resp.Data = pdu.Data
	default:
		return nil, fmt.Errorf("unsupported function code %d", pdu.FunctionCode)
	}
	return packager.Encode(resp)
}

// NewServer starts an HTTP bridge in front of d. The caller closes it.
func NewServer(d *Device) *httptest.Server {
	return httptest.NewServer(&modbushttp.Handler{Sender: d})
}
