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

package tpmutil

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RawBytes is for Pack arguments that are already encoded. Unlike U16Bytes,
// RawBytes is written as-is without a length prefix.
type RawBytes []byte

// U16Bytes is a byte slice with a 16-bit size header, the wire form of every
// TPM2B_* structure.
type U16Bytes []byte

// TPMMarshal packs U16Bytes.
func (b *U16Bytes) TPMMarshal(out io.Writer) error {
	if len(*b) > 0xffff {
		return fmt.Errorf("sized buffer of %d bytes does not fit a 16-bit size", len(*b))
	}
	if err := binary.Write(out, binary.BigEndian, uint16(len(*b))); err != nil {
		return err
	}
	_, err := out.Write(*b)
	return err
}

// TPMUnmarshal unpacks U16Bytes. The slice is resized to exactly the size
// read from the wire.
func (b *U16Bytes) TPMUnmarshal(in io.Reader) error {
	var size uint16
	if err := binary.Read(in, binary.BigEndian, &size); err != nil {
		return err
	}
	buf := make([]byte, int(size))
	if _, err := io.ReadFull(in, buf); err != nil {
		return err
	}
	*b = buf
	return nil
}

// Tag is a command or response tag (TPM_ST).
type Tag uint16

// Command is an identifier of a TPM command (TPM_CC).
type Command uint32

// ResponseCode is a response code returned by the TPM (TPM_RC).
type ResponseCode uint32

// RCSuccess is the response code for a successful command.
const RCSuccess ResponseCode = 0x000

// CommandHeader is the fixed header at the start of every TPM command.
type CommandHeader struct {
	Tag  Tag
	Size uint32
	Cmd  Command
}

// ResponseHeader is the fixed header at the start of every TPM response.
type ResponseHeader struct {
	Tag  Tag
	Size uint32
	Res  ResponseCode
}

// HeaderSize is the encoded size of both CommandHeader and ResponseHeader.
const HeaderSize = 10
