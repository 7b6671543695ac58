// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mq is a handle onto a MQTT broker connection. The transmitter publishes telemetry
// snapshots and connection events and subscribes to operator commands; the payloads
// are JSON hashes, the topics hang below the configured prefix.
type mq struct {
	conn   mqtt.Client
	prefix string
	debug  LogPrintf
}

// newMQ connects to a broker and returns a new mq object. The connection is
// persistent, it re-establishes itself if there is a disconnect; subscriptions are
// made once and are not renewed after a reconnect.
func newMQ(conf *TxConfig, debug LogPrintf) (*mq, error) {
	hostname, _ := os.Hostname()
	id := "mlrs-tx-" + hostname
	if debug != nil {
		debug("Configuring MQTT with client id %s: %s:%d", id, conf.Mqtt.Host, conf.Mqtt.Port)
	}
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Mqtt.Host, conf.Mqtt.Port))
	opts.ClientID = id
	opts.Username = conf.Mqtt.User
	opts.Password = conf.Mqtt.Pass
	opts.AutoReconnect = true

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, token.Error()
	}

	log.Printf("MQTT connected")
	return &mq{conn: conn, prefix: conf.Mqtt.Prefix, debug: debug}, nil
}

// Publish publishes a JSON payload below the prefix.
func (m *mq) Publish(suffix string, payload interface{}) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		log.Printf("cannot json encode payload for %s: %s", suffix, err)
		return
	}
	m.conn.Publish(m.prefix+"/"+suffix, 1, false, jsonPayload)
}

// Subscribe registers a handler for a topic below the prefix.
func (m *mq) Subscribe(suffix string, handler func([]byte)) error {
	h := func(c mqtt.Client, msg mqtt.Message) {
		if m.debug != nil {
			m.debug("MQTT rx %s: %s", msg.Topic(), msg.Payload())
		}
		handler(msg.Payload())
	}
	topic := m.prefix + "/" + suffix
	if token := m.conn.Subscribe(topic, 1, h); !token.WaitTimeout(2 * time.Second) {
		return token.Error()
	}
	return nil
}
