// Copyright (c) 2018, Google LLC All rights reserved.
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

// Package tcp provides access to a TPM over TCP, using the protocol of the
// reference implementation's simulator.
package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/go-tpm-demo/tpm2/transport"
)

var (
	ErrPlatformFailed = errors.New("platform command failed")
	ErrTPMFailed      = errors.New("TPM command failed")
	ErrResponseTooBig = errors.New("response too big")
	ErrTransport      = errors.New("TCP transport error")
	ErrEmptyResponse  = errors.New("TPM returned empty response (does it need to be powered on?)")
)

const (
	maxBufferSize = 1048576
)

// The de-facto TPM-over-TCP protocol is defined by the Reference Implementation.
// See https://github.com/TrustedComputingGroup/TPM/blob/main/TPMCmd/Simulator/include/TpmTcpProtocol.h

type regularCommand uint32

const (
	tpmSendCommand regularCommand = 8
	tpmSessionEnd  regularCommand = 20
)

type platformCommand uint32

const (
	platformPowerOn    platformCommand = 1
	platformPowerOff   platformCommand = 2
	platformNVOn       platformCommand = 11
	platformNVOff      platformCommand = 12
	platformReset      platformCommand = 17
	platformSessionEnd platformCommand = 20
)

func (c platformCommand) String() string {
	switch c {
	case platformPowerOn:
		return "POWER_ON"
	case platformPowerOff:
		return "POWER_OFF"
	case platformNVOn:
		return "NV_ON"
	case platformNVOff:
		return "NV_OFF"
	case platformReset:
		return "RESET"
	case platformSessionEnd:
		return "SESSION_END"
	default:
		return fmt.Sprintf("unknown platform command (%v)", uint32(c))
	}
}

// TPM is a connection to a TCP TPM: one stream for commands and one for
// platform signals.
type TPM struct {
	cmd     net.Conn
	plat    net.Conn
	timeout time.Duration
}

var _ transport.TPMCloser = (*TPM)(nil)

type tpmCommandHeader struct {
	TCPCommand regularCommand
	Locality   uint8
	CmdLen     uint32
}

// Send implements the TPMCloser interface. The whole exchange must finish
// within the configured timeout.
func (t *TPM) Send(cmd []byte) ([]byte, error) {
	if err := t.cmd.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer t.cmd.SetDeadline(time.Time{})

	hdr := tpmCommandHeader{
		TCPCommand: tpmSendCommand,
		CmdLen:     uint32(len(cmd)),
	}
	// Write the header followed by the request
	if err := binary.Write(t.cmd, binary.BigEndian, hdr); err != nil {
		return nil, fmt.Errorf("%w: could not send TPM command to service: %w", ErrTransport, err)
	}
	if n, err := t.cmd.Write(cmd); err != nil {
		return nil, fmt.Errorf("%w: could not send TPM command to service: %w", ErrTransport, err)
	} else if n != len(cmd) {
		return nil, fmt.Errorf("%w: could not send full TPM command: only sent %v out of %v bytes", ErrTransport, n, len(cmd))
	}

	var rspLen uint32
	if err := binary.Read(t.cmd, binary.BigEndian, &rspLen); err != nil {
		return nil, fmt.Errorf("%w: could not read TPM response from service: %w", ErrTransport, err)
	}
	if rspLen > maxBufferSize {
		return nil, fmt.Errorf("%w: response (%v bytes) was bigger than max size (%v bytes)", ErrResponseTooBig, rspLen, maxBufferSize)
	}
	rsp := make([]byte, int(rspLen))
	if _, err := io.ReadFull(t.cmd, rsp); err != nil {
		return nil, fmt.Errorf("%w: could not read full TPM response: %w", ErrTransport, err)
	}
	// The server also provides a TCP error code at the end.
	var rspCode uint32
	if err := binary.Read(t.cmd, binary.BigEndian, &rspCode); err != nil {
		return nil, fmt.Errorf("%w: reading trailer: %w", ErrTransport, err)
	}
	if rspCode != 0 {
		return nil, fmt.Errorf("%w: SEND_COMMAND returned %v", ErrTPMFailed, rspCode)
	}
	if rspLen == 0 {
		return nil, ErrEmptyResponse
	}
	return rsp, nil
}

// Close ends both sessions with the server and closes the connections.
func (t *TPM) Close() error {
	binary.Write(t.cmd, binary.BigEndian, tpmSessionEnd)
	binary.Write(t.plat, binary.BigEndian, platformSessionEnd)
	return errors.Join(t.cmd.Close(), t.plat.Close())
}

// PowerOn powers on the TPM.
// Note: This is distinct from sending the TPM2_Startup command.
func (t *TPM) PowerOn() error {
	return errors.Join(t.sendBasicPlatformCommand(platformPowerOn),
		t.sendBasicPlatformCommand(platformNVOn))
}

// PowerOff powers off the TPM.
func (t *TPM) PowerOff() error {
	return errors.Join(t.sendBasicPlatformCommand(platformPowerOff),
		t.sendBasicPlatformCommand(platformNVOff))
}

// Reset power-cycles the TPM if it is already on. If it is not already on,
// nothing happens.
func (t *TPM) Reset() error {
	return t.sendBasicPlatformCommand(platformReset)
}

// Config provides the connection information for a running TCP TPM.
type Config struct {
	// CommandAddress is the full host:port address of the Command server, e.g.,
	// "localhost:2321"
	CommandAddress string
	// PlatformAddress is the full host:port address of the Platform server,
	// e.g., "localhost:2322"
	PlatformAddress string
	// Timeout bounds dialing and every exchange. Zero selects
	// transport.DefaultTimeout.
	Timeout time.Duration
}

// Open opens a connection to the TPM. It may still need to be powered on using PowerOn().
func Open(config Config) (*TPM, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	cmd, err := net.DialTimeout("tcp", config.CommandAddress, timeout)
	if err != nil {
		return nil, fmt.Errorf("could not connect to command service at %q: %w", config.CommandAddress, err)
	}
	plat, err := net.DialTimeout("tcp", config.PlatformAddress, timeout)
	if err != nil {
		cmd.Close()
		return nil, fmt.Errorf("could not connect to platform service at %q: %w", config.PlatformAddress, err)
	}

	return &TPM{
		cmd:     cmd,
		plat:    plat,
		timeout: timeout,
	}, nil
}

// sendBasicPlatformCommand sends a command to the platform service. This only
// supports 'basic' commands (i.e., send just a command code, receive just a
// response code).
func (t *TPM) sendBasicPlatformCommand(cmd platformCommand) error {
	if err := t.plat.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return err
	}
	defer t.plat.SetDeadline(time.Time{})
	if err := binary.Write(t.plat, binary.BigEndian, cmd); err != nil {
		return fmt.Errorf("could not write %v to platform service: %w", cmd, err)
	}
	var result uint32
	if err := binary.Read(t.plat, binary.BigEndian, &result); err != nil {
		return fmt.Errorf("could not read %v result from platform service: %w", cmd, err)
	}
	if result != 0 {
		return fmt.Errorf("%w: %v returned %v", ErrPlatformFailed, cmd, result)
	}
	return nil
}
