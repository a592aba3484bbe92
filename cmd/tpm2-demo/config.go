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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/google/go-tpm-demo/pipeline"
	"github.com/google/go-tpm-demo/tpm2"
	"github.com/google/go-tpm-demo/tpm2/transport"
	"github.com/google/go-tpm-demo/tpm2/transport/linuxtpm"
	"github.com/google/go-tpm-demo/tpm2/transport/linuxudstpm"
	"github.com/google/go-tpm-demo/tpm2/transport/loopback"
	"github.com/google/go-tpm-demo/tpm2/transport/simulator"
	"github.com/google/go-tpm-demo/tpm2/transport/tcp"
)

// pipelineKeys are the settings decoded into a pipeline.Config.
var pipelineKeys = []string{
	"bank",
	"policy-bank",
	"session-hash",
	"extend-index",
	"policy-index",
	"hierarchy",
	"auth",
	"teardown-timeout",
}

func defaultDevicePaths() []string { return linuxtpm.DefaultPaths }

// readConfig merges the configuration file, if any, under the flags and
// enables environment overrides.
func (a *app) readConfig() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	path := a.v.GetString("config")
	if path == "" {
		return nil
	}
	a.v.SetConfigFile(path)
	a.v.SetConfigType("yaml")
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading configuration %s: %w", path, err)
	}
	return nil
}

// setupLogger configures the shared logger from the debug, trace, quiet and
// logfile settings. Without a logfile, quiet discards the log.
func (a *app) setupLogger(stderr io.Writer) {
	a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch {
	case a.v.GetBool("trace"):
		a.log.SetLevel(logrus.TraceLevel)
	case a.v.GetBool("debug"):
		a.log.SetLevel(logrus.DebugLevel)
	default:
		a.log.SetLevel(logrus.InfoLevel)
	}

	var out io.Writer = stderr
	if a.v.GetBool("quiet") {
		out = io.Discard
	}
	if logfile := a.v.GetString("logfile"); logfile != "" {
		f, err := os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			a.log.SetOutput(out)
			a.log.Errorf("Could not open %s for logging to file: %v", logfile, err)
			return
		}
		if a.v.GetBool("quiet") {
			out = f
		} else {
			out = io.MultiWriter(stderr, f)
		}
	}
	a.log.SetOutput(out)
}

// pipelineConfig decodes the pipeline settings that were given as flags,
// in the configuration file or in the environment.
func (a *app) pipelineConfig() (pipeline.Config, error) {
	raw := make(map[string]interface{})
	for _, k := range pipelineKeys {
		if a.v.IsSet(k) {
			raw[k] = a.v.Get(k)
		}
	}
	return pipeline.DecodeConfig(raw)
}

// openTransport opens the configured TPM transport.
func (a *app) openTransport() (transport.TPMCloser, error) {
	timeout := a.v.GetDuration("timeout")
	switch kind := a.v.GetString("transport"); kind {
	case "device":
		// The device transport bounds each read by polling the file.
		if path := a.v.GetString("device"); path != "" {
			return linuxtpm.OpenTimeout(path, timeout)
		}
		return linuxtpm.OpenDefaultTimeout(timeout)
	case "uds":
		t, err := linuxudstpm.Open(a.v.GetString("socket"), timeout)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "tcp":
		t, err := tcp.Open(tcp.Config{
			CommandAddress:  a.v.GetString("tcp-command"),
			PlatformAddress: a.v.GetString("tcp-platform"),
			Timeout:         timeout,
		})
		if err != nil {
			return nil, err
		}
		if err := t.PowerOn(); err != nil {
			t.Close()
			return nil, fmt.Errorf("powering on TCP TPM: %w", err)
		}
		return t, nil
	case "simulator":
		t, err := simulator.OpenSimulator()
		if err != nil {
			return nil, err
		}
		return transport.WithTimeout(t, timeout), nil
	case "loopback":
		return loopback.New(), nil
	}
	return nil, fmt.Errorf("unknown transport %q", a.v.GetString("transport"))
}

// openDevice opens the configured transport and makes sure the TPM is
// started. The caller closes the device.
func (a *app) openDevice(ctx context.Context) (*tpm2.Device, error) {
	t, err := a.openTransport()
	if err != nil {
		return nil, err
	}
	a.log.WithField("transport", a.v.GetString("transport")).Debug("opened TPM")
	dev := tpm2.NewDevice(t, tpm2.WithLogger(a.log))
	if err := dev.Startup(ctx, tpm2.TPMSUClear); err != nil {
		dev.Close()
		return nil, err
	}
	return dev, nil
}
