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

package tpm2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/go-tpm-demo/tpmutil"
)

// maxSessions is the largest number of authorization sessions a command may
// carry.
const maxSessions = 3

// Command is implemented by every command structure.
type Command interface {
	// Command returns the command code of the structure.
	Command() TPMCC
}

// Response is implemented by every response structure.
type Response interface {
	// Response returns the command code the structure answers.
	Response() TPMCC
}

// hasTag reports whether the gotpm struct tag of f contains tag.
func hasTag(f reflect.StructField, tag string) bool {
	for _, t := range strings.Split(f.Tag.Get("gotpm"), ",") {
		if t == tag {
			return true
		}
	}
	return false
}

// areas splits the exported fields of the structure behind v into its
// handle area and its parameter area. It also reports how many handles
// require authorization.
func areas(v reflect.Value) (handles, params []reflect.Value, auths int, err error) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil, 0, errors.New("nil structure")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, nil, 0, fmt.Errorf("%v is not a structure", v.Type())
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if hasTag(f, "handle") {
			if len(params) > 0 {
				return nil, nil, 0, fmt.Errorf("%v.%s: handle after parameters", t, f.Name)
			}
			if f.Type != reflect.TypeOf(TPMHandle(0)) {
				return nil, nil, 0, fmt.Errorf("%v.%s: handle field has type %v", t, f.Name, f.Type)
			}
			handles = append(handles, v.Field(i))
			if hasTag(f, "auth") {
				auths++
			}
			continue
		}
		params = append(params, v.Field(i))
	}
	return handles, params, auths, nil
}

func interfaces(vs []reflect.Value) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v.Interface()
	}
	return out
}

func addrs(vs []reflect.Value) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v.Addr().Interface()
	}
	return out
}

// AuthHandles returns the number of handles of cmd that require an
// authorization session.
func AuthHandles(cmd Command) int {
	_, _, n, err := areas(reflect.ValueOf(cmd))
	if err != nil {
		return 0
	}
	return n
}

// Marshal encodes cmd with the given authorization area, bounded by
// MaxCommandSize.
func Marshal(cmd Command, sessions []TPMSAuthCommand) ([]byte, error) {
	return marshal(cmd, sessions, MaxCommandSize)
}

func marshal(cmd Command, sessions []TPMSAuthCommand, maxSize int) ([]byte, error) {
	handles, params, auths, err := areas(reflect.ValueOf(cmd))
	if err != nil {
		return nil, err
	}
	if len(sessions) < auths {
		return nil, fmt.Errorf("%v needs %d authorization sessions, got %d", cmd.Command(), auths, len(sessions))
	}
	if len(sessions) > maxSessions {
		return nil, fmt.Errorf("too many sessions: %d", len(sessions))
	}

	tag := TPMSTNoSessions
	body := interfaces(handles)
	if len(sessions) > 0 {
		tag = TPMSTSessions
		area := make([]interface{}, len(sessions))
		for i := range sessions {
			area[i] = &sessions[i]
		}
		auth, err := tpmutil.Pack(area...)
		if err != nil {
			return nil, fmt.Errorf("packing authorization area: %w", err)
		}
		body = append(body, uint32(len(auth)), tpmutil.RawBytes(auth))
	}
	body = append(body, interfaces(params)...)

	ch := tpmutil.CommandHeader{Tag: tpmutil.Tag(tag), Cmd: tpmutil.Command(cmd.Command())}
	b, err := tpmutil.PackWithHeader(ch, maxSize, body...)
	if errors.Is(err, tpmutil.ErrTooLarge) {
		return nil, fmt.Errorf("%v: %w: %v", cmd.Command(), ErrCommandTooLarge, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", cmd.Command(), err)
	}
	return b, nil
}

// Unmarshal decodes a response buffer into rsp. A non-success response
// code is returned as the matching typed error. withSessions states whether
// the command was sent with an authorization area, in which case the
// response carries a parameter size and one TPMSAuthResponse per session.
//
// Decoding is all-or-nothing: rsp is only written when the whole buffer was
// consumed without error. Structural violations match ErrMalformedResponse.
func Unmarshal(buf []byte, rsp Response, withSessions bool) ([]TPMSAuthResponse, error) {
	rv := reflect.ValueOf(rsp)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, fmt.Errorf("response must be a non-nil pointer, got %T", rsp)
	}
	var hdr tpmutil.ResponseHeader
	if err := tpmutil.UnpackBuf(bytes.NewReader(buf), &hdr); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrMalformedResponse, err)
	}
	if int(hdr.Size) != len(buf) {
		return nil, fmt.Errorf("%w: header size %d, received %d bytes", ErrMalformedResponse, hdr.Size, len(buf))
	}
	if hdr.Res != tpmutil.RCSuccess {
		return nil, decodeResponse(hdr.Res)
	}
	wantTag := TPMSTNoSessions
	if withSessions {
		wantTag = TPMSTSessions
	}
	if TPMST(hdr.Tag) != wantTag {
		return nil, fmt.Errorf("%w: tag 0x%x, want 0x%x", ErrMalformedResponse, uint16(hdr.Tag), uint16(wantTag))
	}

	tmp := reflect.New(rv.Elem().Type())
	handles, params, _, err := areas(tmp)
	if err != nil {
		return nil, err
	}
	rest := bytes.NewReader(buf[tpmutil.HeaderSize:])
	if err := tpmutil.UnpackBuf(rest, addrs(handles)...); err != nil {
		return nil, fmt.Errorf("%w: handle area: %w", ErrMalformedResponse, err)
	}

	var auths []TPMSAuthResponse
	if !withSessions {
		tail := make([]byte, rest.Len())
		rest.Read(tail)
		if err := tpmutil.UnpackExact(tail, addrs(params)...); err != nil {
			return nil, fmt.Errorf("%w: parameters: %w", ErrMalformedResponse, err)
		}
	} else {
		var size uint32
		if err := binary.Read(rest, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: parameter size: %w", ErrMalformedResponse, err)
		}
		if int64(size) > int64(rest.Len()) {
			return nil, fmt.Errorf("%w: parameter size %d, %d bytes left", ErrMalformedResponse, size, rest.Len())
		}
		area := make([]byte, int(size))
		rest.Read(area)
		if err := tpmutil.UnpackExact(area, addrs(params)...); err != nil {
			return nil, fmt.Errorf("%w: parameters: %w", ErrMalformedResponse, err)
		}
		for rest.Len() > 0 {
			if len(auths) == maxSessions {
				return nil, fmt.Errorf("%w: %d unaccounted-for bytes after %d sessions", ErrMalformedResponse, rest.Len(), maxSessions)
			}
			var a TPMSAuthResponse
			if err := tpmutil.UnpackBuf(rest, &a); err != nil {
				return nil, fmt.Errorf("%w: auth session %d: %w", ErrMalformedResponse, len(auths), err)
			}
			auths = append(auths, a)
		}
	}
	rv.Elem().Set(tmp.Elem())
	return auths, nil
}

// UnmarshalCommand decodes a command buffer into cmd, whose command code
// must match the header. It is the device-side mirror of Marshal.
func UnmarshalCommand(buf []byte, cmd Command) (tpmutil.CommandHeader, []TPMSAuthCommand, error) {
	var hdr tpmutil.CommandHeader
	cv := reflect.ValueOf(cmd)
	if cv.Kind() != reflect.Ptr || cv.IsNil() {
		return hdr, nil, fmt.Errorf("command must be a non-nil pointer, got %T", cmd)
	}
	r := bytes.NewReader(buf)
	if err := tpmutil.UnpackBuf(r, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("reading header: %w", err)
	}
	if int(hdr.Size) != len(buf) {
		return hdr, nil, fmt.Errorf("header size %d, received %d bytes", hdr.Size, len(buf))
	}
	if TPMCC(hdr.Cmd) != cmd.Command() {
		return hdr, nil, fmt.Errorf("command code %v, want %v", TPMCC(hdr.Cmd), cmd.Command())
	}
	handles, params, _, err := areas(cv)
	if err != nil {
		return hdr, nil, err
	}
	if err := tpmutil.UnpackBuf(r, addrs(handles)...); err != nil {
		return hdr, nil, fmt.Errorf("handle area: %w", err)
	}
	var auths []TPMSAuthCommand
	switch TPMST(hdr.Tag) {
	case TPMSTNoSessions:
	case TPMSTSessions:
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return hdr, nil, fmt.Errorf("authorization size: %w", err)
		}
		if int64(size) > int64(r.Len()) {
			return hdr, nil, fmt.Errorf("authorization size %d, %d bytes left", size, r.Len())
		}
		area := make([]byte, int(size))
		r.Read(area)
		ar := bytes.NewReader(area)
		for ar.Len() > 0 {
			if len(auths) == maxSessions {
				return hdr, nil, fmt.Errorf("more than %d sessions", maxSessions)
			}
			var a TPMSAuthCommand
			if err := tpmutil.UnpackBuf(ar, &a); err != nil {
				return hdr, nil, fmt.Errorf("auth session %d: %w", len(auths), err)
			}
			auths = append(auths, a)
		}
	default:
		return hdr, nil, fmt.Errorf("unknown tag 0x%x", uint16(hdr.Tag))
	}
	tail := make([]byte, r.Len())
	r.Read(tail)
	if err := tpmutil.UnpackExact(tail, addrs(params)...); err != nil {
		return hdr, nil, fmt.Errorf("parameters: %w", err)
	}
	return hdr, auths, nil
}

// MarshalResponse encodes a response. A non-success rc produces a bare
// header. When auths is non-empty the response carries a parameter size and
// the given session entries, as for a command sent with sessions.
func MarshalResponse(rc TPMRC, rsp Response, auths []TPMSAuthResponse) ([]byte, error) {
	if rc != TPMRCSuccess {
		return tpmutil.Pack(tpmutil.ResponseHeader{
			Tag:  tpmutil.Tag(TPMSTNoSessions),
			Size: tpmutil.HeaderSize,
			Res:  tpmutil.ResponseCode(rc),
		})
	}
	handles, params, _, err := areas(reflect.ValueOf(rsp))
	if err != nil {
		return nil, err
	}
	body, err := tpmutil.Pack(interfaces(handles)...)
	if err != nil {
		return nil, err
	}
	p, err := tpmutil.Pack(interfaces(params)...)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", rsp.Response(), err)
	}
	tag := TPMSTNoSessions
	if len(auths) > 0 {
		tag = TPMSTSessions
		body = binary.BigEndian.AppendUint32(body, uint32(len(p)))
		body = append(body, p...)
		for i := range auths {
			a, err := tpmutil.Pack(&auths[i])
			if err != nil {
				return nil, err
			}
			body = append(body, a...)
		}
	} else {
		body = append(body, p...)
	}
	hdr, err := tpmutil.Pack(tpmutil.ResponseHeader{
		Tag:  tpmutil.Tag(tag),
		Size: uint32(tpmutil.HeaderSize + len(body)),
	})
	if err != nil {
		return nil, err
	}
	return append(hdr, body...), nil
}
