// Copyright 2026 The EOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package uart simulates the NS16550A character device the kernel uses
// for diagnostic output. The memory core depends on it only as an
// io.Writer; the register model exists so the boot sequence can
// program the device the way the real driver does.
package uart

import (
	"io"

	"github.com/danbrodsky/eos/pkg/memarch"
)

// Register offsets from the device base.
const (
	regTHR = 0 // transmit holding (write) / receive buffer (read)
	regIER = 1 // interrupt enable
	regFCR = 2 // FIFO control
	regLCR = 3 // line control
	regLSR = 5 // line status

	// With the divisor latch access bit set, offsets 0 and 1 address
	// the divisor latch bytes instead.
	regDLL = 0
	regDLM = 1
)

// Register bits.
const (
	lcrWordLen8 = 1<<1 | 1<<0
	lcrDLAB     = 1 << 7

	fcrFIFOEnable = 1 << 0

	ierRxReady = 1 << 0

	lsrDataReady = 1 << 0
	lsrTHREmpty  = 1 << 5
)

// divisor for 2400 baud at the platform clock rate, split across the
// two divisor latch bytes.
const baudDivisor = 592

// Uart is a simulated NS16550A. Transmitted bytes go to the sink;
// bytes queued with Feed become readable through Get.
type Uart struct {
	base memarch.Addr
	sink io.Writer

	lcr     uint8
	fcr     uint8
	ier     uint8
	divisor uint16

	rx []byte
}

// New returns a Uart at the given base address, transmitting to sink.
func New(base memarch.Addr, sink io.Writer) *Uart {
	return &Uart{base: base, sink: sink}
}

// Base returns the device's MMIO base address, the page boot must map
// before the driver can be used under virtual addressing.
func (u *Uart) Base() memarch.Addr {
	return u.base
}

// Init programs the device: 8-bit words, FIFO on, receive interrupts
// enabled, and the baud divisor installed through the divisor latch.
func (u *Uart) Init() {
	u.storeReg(regLCR, lcrWordLen8)
	u.storeReg(regFCR, fcrFIFOEnable)
	u.storeReg(regIER, ierRxReady)

	// The latch bytes only decode with DLAB set; flip it, write both
	// halves, then restore the line control value.
	u.storeReg(regLCR, lcrWordLen8|lcrDLAB)
	u.storeReg(regDLL, uint8(baudDivisor&0xff))
	u.storeReg(regDLM, uint8(baudDivisor>>8))
	u.storeReg(regLCR, lcrWordLen8)
}

// storeReg models a register write at the given offset.
func (u *Uart) storeReg(off int, v uint8) {
	dlab := u.lcr&lcrDLAB != 0
	switch {
	case off == regDLL && dlab:
		u.divisor = u.divisor&0xff00 | uint16(v)
	case off == regDLM && dlab:
		u.divisor = u.divisor&0x00ff | uint16(v)<<8
	case off == regTHR:
		u.transmit(v)
	case off == regIER:
		u.ier = v
	case off == regFCR:
		u.fcr = v
	case off == regLCR:
		u.lcr = v
	}
}

// loadReg models a register read at the given offset.
func (u *Uart) loadReg(off int) uint8 {
	switch off {
	case regTHR:
		if len(u.rx) == 0 {
			return 0
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return b
	case regLSR:
		v := uint8(lsrTHREmpty)
		if len(u.rx) > 0 {
			v |= lsrDataReady
		}
		return v
	case regIER:
		return u.ier
	case regLCR:
		return u.lcr
	}
	return 0
}

func (u *Uart) transmit(b byte) {
	if u.sink != nil {
		u.sink.Write([]byte{b})
	}
}

// Put transmits one byte.
func (u *Uart) Put(b byte) {
	u.storeReg(regTHR, b)
}

// Get reads one received byte. ok is false when the line status shows
// no data ready.
func (u *Uart) Get() (b byte, ok bool) {
	if u.loadReg(regLSR)&lsrDataReady == 0 {
		return 0, false
	}
	return u.loadReg(regTHR), true
}

// Feed queues bytes on the receive side.
func (u *Uart) Feed(data []byte) {
	u.rx = append(u.rx, data...)
}

// Write implements io.Writer over the transmit path. This is the
// single operation the memory core consumes.
func (u *Uart) Write(p []byte) (int, error) {
	for _, b := range p {
		u.Put(b)
	}
	return len(p), nil
}
