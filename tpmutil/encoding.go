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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// SelfMarshaler is implemented by types with a wire form that encoding/binary
// cannot express: sized buffers, counted lists and unions.
type SelfMarshaler interface {
	TPMMarshal(out io.Writer) error
	TPMUnmarshal(in io.Reader) error
}

var (
	selfMarshalerType = reflect.TypeOf((*SelfMarshaler)(nil)).Elem()
	rawBytesType      = reflect.TypeOf(RawBytes(nil))

	// ErrTrailingBytes is returned by UnpackExact when the input holds more
	// bytes than the destination values consume.
	ErrTrailingBytes = errors.New("unexpected trailing bytes")
	// ErrTooLarge is returned by PackWithHeader when the encoded command
	// would exceed the given maximum.
	ErrTooLarge = errors.New("encoded command exceeds maximum size")
)

// PackWithHeader packs the body elements first and only then writes the
// header, so that the header's Size field always equals the final length.
func PackWithHeader(ch CommandHeader, maxSize int, body ...interface{}) ([]byte, error) {
	b, err := Pack(body...)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack message body: %w", err)
	}
	total := HeaderSize + len(b)
	if maxSize > 0 && total > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, total, maxSize)
	}
	ch.Size = uint32(total)
	out := make([]byte, 0, total)
	hdr, err := Pack(ch)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack message header: %w", err)
	}
	out = append(out, hdr...)
	return append(out, b...), nil
}

// Pack encodes a set of elements into a single byte array, big-endian.
//
// It differs from encoding/binary in that byte slices must be either
// U16Bytes (size-prefixed) or RawBytes (written verbatim), and types
// implementing SelfMarshaler encode themselves.
func Pack(elts ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range elts {
		if err := packValue(&buf, reflect.ValueOf(e)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// tryMarshal uses TPMMarshal if v, or a pointer to v, implements
// SelfMarshaler. The bool reports whether the method was attempted.
func tryMarshal(buf io.Writer, v reflect.Value) (bool, error) {
	t := v.Type()
	if t.Implements(selfMarshalerType) {
		if t.Kind() == reflect.Ptr && v.IsNil() {
			return true, fmt.Errorf("cannot pack nil %s", t)
		}
		return true, v.Interface().(SelfMarshaler).TPMMarshal(buf)
	}
	if reflect.PtrTo(t).Implements(selfMarshalerType) {
		tmp := reflect.New(t)
		tmp.Elem().Set(v)
		return true, tmp.Interface().(SelfMarshaler).TPMMarshal(buf)
	}
	return false, nil
}

func packValue(buf io.Writer, v reflect.Value) error {
	if !v.IsValid() {
		return errors.New("cannot pack invalid value")
	}
	if ok, err := tryMarshal(buf, v); ok {
		return err
	}
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot pack nil %s", v.Type())
		}
		return packValue(buf, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := packValue(buf, v.Field(i)); err != nil {
				return fmt.Errorf("%s.%s: %w", v.Type().Name(), v.Type().Field(i).Name, err)
			}
		}
		return nil
	case reflect.Slice:
		if v.Type() != rawBytesType {
			return fmt.Errorf("cannot pack slice of type %s; use RawBytes, U16Bytes or a counted list", v.Type())
		}
		_, err := buf.Write(v.Bytes())
		return err
	case reflect.Bool, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Array:
		return binary.Write(buf, binary.BigEndian, v.Interface())
	default:
		return fmt.Errorf("cannot pack value of kind %s (%s)", v.Kind(), v.Type())
	}
}

// tryUnmarshal uses TPMUnmarshal if v's address implements SelfMarshaler.
func tryUnmarshal(buf io.Reader, v reflect.Value) (bool, error) {
	t := v.Type()
	if t.Kind() == reflect.Ptr && t.Implements(selfMarshalerType) {
		if v.IsNil() {
			if !v.CanSet() {
				return true, fmt.Errorf("cannot unpack into nil %s", t)
			}
			v.Set(reflect.New(t.Elem()))
		}
		return true, v.Interface().(SelfMarshaler).TPMUnmarshal(buf)
	}
	if v.CanAddr() && reflect.PtrTo(t).Implements(selfMarshalerType) {
		return true, v.Addr().Interface().(SelfMarshaler).TPMUnmarshal(buf)
	}
	return false, nil
}

func unpackValue(buf io.Reader, v reflect.Value) error {
	if ok, err := tryUnmarshal(buf, v); ok {
		return err
	}
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot unpack into nil %s", v.Type())
		}
		return unpackValue(buf, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := unpackValue(buf, v.Field(i)); err != nil {
				return fmt.Errorf("%s.%s: %w", v.Type().Name(), v.Type().Field(i).Name, err)
			}
		}
		return nil
	case reflect.Slice:
		return fmt.Errorf("cannot unpack unsized slice of type %s", v.Type())
	}
	if !v.CanAddr() {
		return fmt.Errorf("cannot unpack unaddressable leaf type %q", v.Type())
	}
	return binary.Read(buf, binary.BigEndian, v.Addr().Interface())
}

// Unpack decodes b into elts, which must be pointers. It returns the number
// of bytes consumed.
func Unpack(b []byte, elts ...interface{}) (int, error) {
	r := bytes.NewReader(b)
	err := UnpackBuf(r, elts...)
	return len(b) - r.Len(), err
}

// UnpackExact is Unpack that additionally fails with ErrTrailingBytes if b is
// not consumed entirely.
func UnpackExact(b []byte, elts ...interface{}) error {
	n, err := Unpack(b, elts...)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: %d of %d bytes left", ErrTrailingBytes, len(b)-n, len(b))
	}
	return nil
}

// UnpackBuf recursively unpacks big-endian values from a reader. A short
// read surfaces as io.ErrUnexpectedEOF.
func UnpackBuf(buf io.Reader, elts ...interface{}) error {
	for _, e := range elts {
		v := reflect.ValueOf(e)
		if v.Kind() != reflect.Ptr {
			return fmt.Errorf("non-pointer value %q passed to UnpackBuf", v.Type())
		}
		if v.IsNil() {
			return errors.New("nil pointer passed to UnpackBuf")
		}
		if err := unpackValue(buf, v); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%v: %w", err, io.ErrUnexpectedEOF)
			}
			return err
		}
	}
	return nil
}
