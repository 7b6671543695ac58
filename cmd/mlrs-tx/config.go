// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Prashant0119/mLRS/link"
	"github.com/Prashant0119/mLRS/rc"
)

// TxConfig is the persisted parameter block of the transmitter. The link section is
// what the link engine consumes; the rest wires up pins, ports, and the broker.
type TxConfig struct {
	Link link.Config `json:"link"`

	Radio struct {
		Config string `json:"config"` // entry in sx1280.Configs
		Power  byte   `json:"power"`  // output power index, 0..31
		DCDC   bool   `json:"dcdc"`
	} `json:"radio"`

	Pins struct {
		CSMuxPin string `json:"cs_mux_pin"` // demux select for two radios on one CS
		Dio1     string `json:"dio1"`
		Dio2     string `json:"dio2"`
		Reset1   string `json:"reset1"`
		Reset2   string `json:"reset2"`
		Busy1    string `json:"busy1"`
		Busy2    string `json:"busy2"`
		LedGreen string `json:"led_green"`
		LedRed   string `json:"led_red"`
	} `json:"pins"`

	Serial struct {
		Destination string `json:"destination"` // "serial", "mbridge", "none"
		Port        string `json:"port"`
		Baud        uint   `json:"baud"`
	} `json:"serial"`

	Channels struct {
		Source string `json:"source"` // "sbus", "crsf", "mbridge"
		Port   string `json:"port"`
		Baud   uint   `json:"baud"`
		// sbus variants: "sbus" is inverted on the wire, "sbus_noninverted" isn't;
		// inversion is handled by the port hardware, recorded here for setup
		InMode string `json:"in_mode"`
	} `json:"channels"`

	Mqtt struct {
		Host   string `json:"host"`
		Port   int    `json:"port"`
		User   string `json:"user"`
		Pass   string `json:"pass"`
		Prefix string `json:"prefix"`
	} `json:"mqtt"`
}

// DefaultTxConfig returns a runnable single-antenna SBUS setup.
func DefaultTxConfig() *TxConfig {
	c := &TxConfig{Link: link.DefaultConfig()}
	c.Radio.Config = "sf5bw800li45"
	c.Radio.Power = 31
	c.Pins.Dio1 = "XIO-P0"
	c.Pins.Reset1 = "XIO-P2"
	c.Serial.Destination = "serial"
	c.Serial.Port = "/dev/ttyS1"
	c.Serial.Baud = 57600
	c.Channels.Source = "sbus"
	c.Channels.Port = "/dev/ttyS2"
	c.Channels.Baud = 100000
	c.Channels.InMode = "sbus"
	c.Mqtt.Host = "localhost"
	c.Mqtt.Port = 1883
	c.Mqtt.Prefix = "mlrs/tx"
	return c
}

// LoadConfig reads the parameter block from a JSON file.
func LoadConfig(path string) (*TxConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c := DefaultTxConfig()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveConfig writes the parameter block back; this is what the STORE_PARAMS deferred
// task runs.
func SaveConfig(c *TxConfig, path string) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *TxConfig) validate() error {
	switch c.Channels.Source {
	case "sbus", "crsf", "mbridge":
	default:
		return fmt.Errorf("unknown channels source %q", c.Channels.Source)
	}
	switch c.Serial.Destination {
	case "serial", "mbridge", "none":
	default:
		return fmt.Errorf("unknown serial destination %q", c.Serial.Destination)
	}
	if c.Link.ChannelOrder < rc.OrderAETR || c.Link.ChannelOrder > rc.OrderETAR {
		return fmt.Errorf("channel order %d out of range", c.Link.ChannelOrder)
	}
	return nil
}
