// Copyright 2025 Edgeo SCADA
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

package simulator

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/edgeo-scada/meter-simulator/modbus"
)

// Configuration defaults.
const (
	DefaultDeviceID      = 1
	DefaultInterval      = 60 * time.Second
	DefaultListenPort    = modbus.DefaultPort
	DefaultListenAddress = "0.0.0.0"

	// MinInterval is the shortest accepted generation interval.
	MinInterval = 100 * time.Millisecond
)

// Config is the runtime configuration of a simulator. Changing it recreates
// the Modbus listener and restarts the generator; the register layout and
// store are kept.
type Config struct {
	DeviceID      int
	Interval      time.Duration
	ListenPort    int
	ListenAddress string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		DeviceID:      DefaultDeviceID,
		Interval:      DefaultInterval,
		ListenPort:    DefaultListenPort,
		ListenAddress: DefaultListenAddress,
	}
}

// Addr returns the host:port the Modbus listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(c.ListenPort))
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs FieldErrors
	if err := validateDeviceID(c.DeviceID); err != nil {
		errs = append(errs, &FieldError{Field: FieldDeviceID, Err: err})
	}
	if err := validateInterval(c.Interval); err != nil {
		errs = append(errs, &FieldError{Field: FieldInterval, Err: err})
	}
	if err := validatePort(c.ListenPort); err != nil {
		errs = append(errs, &FieldError{Field: FieldListenPort, Err: err})
	}
	if err := validateAddress(c.ListenAddress); err != nil {
		errs = append(errs, &FieldError{Field: FieldListenAddress, Err: err})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ConfigUpdate carries a partial configuration change. Nil fields are left
// untouched.
type ConfigUpdate struct {
	DeviceID      *int
	Interval      *time.Duration
	ListenPort    *int
	ListenAddress *string
}

// Empty reports whether the update sets no field.
func (u ConfigUpdate) Empty() bool {
	return u.fields() == 0
}

func (u ConfigUpdate) fields() int {
	n := 0
	if u.DeviceID != nil {
		n++
	}
	if u.Interval != nil {
		n++
	}
	if u.ListenPort != nil {
		n++
	}
	if u.ListenAddress != nil {
		n++
	}
	return n
}

// apply returns c with every valid field of u applied, together with the
// errors of the fields that were rejected.
func (u ConfigUpdate) apply(c Config) (Config, FieldErrors) {
	var errs FieldErrors

	if u.DeviceID != nil {
		if err := validateDeviceID(*u.DeviceID); err != nil {
			errs = append(errs, &FieldError{Field: FieldDeviceID, Err: err})
		} else {
			c.DeviceID = *u.DeviceID
		}
	}
	if u.Interval != nil {
		if err := validateInterval(*u.Interval); err != nil {
			errs = append(errs, &FieldError{Field: FieldInterval, Err: err})
		} else {
			c.Interval = *u.Interval
		}
	}
	if u.ListenPort != nil {
		if err := validatePort(*u.ListenPort); err != nil {
			errs = append(errs, &FieldError{Field: FieldListenPort, Err: err})
		} else {
			c.ListenPort = *u.ListenPort
		}
	}
	if u.ListenAddress != nil {
		addr := strings.TrimSpace(*u.ListenAddress)
		if err := validateAddress(addr); err != nil {
			errs = append(errs, &FieldError{Field: FieldListenAddress, Err: err})
		} else {
			c.ListenAddress = addr
		}
	}

	return c, errs
}

// Field names used in FieldError.
const (
	FieldDeviceID      = "deviceId"
	FieldInterval      = "interval"
	FieldListenPort    = "modbusPort"
	FieldListenAddress = "modbusIp"
)

// ErrInvalidValue is wrapped by every configuration field error.
var ErrInvalidValue = errors.New("simulator: invalid value")

// FieldError reports a rejected configuration field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// FieldErrors collects the rejected fields of one update.
type FieldErrors []*FieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (e FieldErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, fe := range e {
		out[i] = fe
	}
	return out
}

func validateDeviceID(id int) error {
	if id < 0 || id > 255 {
		return fmt.Errorf("%w: unit id %d outside 0-255", ErrInvalidValue, id)
	}
	return nil
}

func validateInterval(d time.Duration) error {
	if d < MinInterval {
		return fmt.Errorf("%w: interval %v shorter than %v", ErrInvalidValue, d, MinInterval)
	}
	return nil
}

func validatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: port %d outside 0-65535", ErrInvalidValue, port)
	}
	return nil
}

func validateAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalidValue)
	}
	return nil
}
