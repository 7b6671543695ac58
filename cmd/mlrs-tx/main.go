// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/chip"
	gserial "github.com/jacobsa/go-serial/serial"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	mlrs "github.com/Prashant0119/mLRS"
	"github.com/Prashant0119/mLRS/link"
	"github.com/Prashant0119/mLRS/rc"
	"github.com/Prashant0119/mLRS/spimux"
	"github.com/Prashant0119/mLRS/sx1280"
	"github.com/Prashant0119/mLRS/thread"
)

type LogPrintf func(format string, v ...interface{})

// loraSyncWord is the modem-level LoRa sync word. Link identification happens one
// layer up via the in-frame sync word, so all transmitters share this value.
const loraSyncWord = 0x1424

func main() {
	configPath := flag.String("config", "/etc/mlrs/tx.json", "path to the parameter block")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "Valid radio configs:\n")
		names := make([]string, 0, len(sx1280.Configs))
		for n := range sx1280.Configs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(os.Stderr, "  %-16s: %s\n", n, sx1280.Configs[n].Info)
		}
		os.Exit(1)
	}
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("No config at %s, using defaults", *configPath)
			cfg = DefaultTxConfig()
		} else {
			fmt.Fprintf(os.Stderr, "Exiting due to error: %s\n", err)
			os.Exit(2)
		}
	}

	var logger LogPrintf
	if *debug {
		logger = log.Printf
	}

	mq, err := newMQ(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to MQTT broker: %s\n", err)
		os.Exit(2)
	}

	log.Printf("Opening radio")
	embd.InitGPIO()
	embd.InitSPI()
	if _, err := host.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "periph init: %s\n", err)
		os.Exit(2)
	}

	ledGreen := mlrs.NewGPIO(cfg.Pins.LedGreen)
	ledRed := mlrs.NewGPIO(cfg.Pins.LedRed)

	radios, dios, err := openRadios(cfg, logger)
	if err != nil {
		// a dead radio is fatal: indicate on the LEDs and never begin operation
		log.Printf("Radio startup failed: %s", err)
		ledFailLoop(ledGreen, ledRed)
	}

	engine, teardown, err := buildEngine(cfg, radios, dios, mq, *configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Exiting due to error: %s\n", err)
		os.Exit(2)
	}
	defer teardown()

	go ledLoop(engine, ledGreen, ledRed)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	if err := thread.Realtime(); err != nil {
		log.Printf("Cannot set realtime priority: %s", err)
	}
	log.Printf("Transmitter is ready")
	engine.Run(stop)
}

// openRadios opens the SPI bus (muxed across both radios on diversity devices),
// resets and configures the transceivers, and arms the DIO1 pins.
func openRadios(cfg *TxConfig, logger LogPrintf) ([2]link.Transceiver, [2]mlrs.GPIO, error) {
	var radios [2]link.Transceiver
	var dios [2]mlrs.GPIO

	var dev1, dev2 mlrs.SPI
	if cfg.Link.UseAntenna2 {
		selPin := gpioreg.ByName(cfg.Pins.CSMuxPin)
		if selPin == nil {
			return radios, dios, fmt.Errorf("cannot open pin %s", cfg.Pins.CSMuxPin)
		}
		dev1, dev2 = spimux.New(mlrs.NewSPI(), selPin)
	} else {
		dev1 = mlrs.NewSPI()
		dev2 = dev1 // single radio, whichever antenna it serves
	}

	open := func(dev mlrs.SPI, resetName, busyName, dioName string) (link.Transceiver, mlrs.GPIO, error) {
		reset := mlrs.NewGPIO(resetName)
		if reset == nil {
			return nil, nil, fmt.Errorf("cannot open pin %s", resetName)
		}
		var busy mlrs.GPIO
		if busyName != "" {
			if busy = mlrs.NewGPIO(busyName); busy == nil {
				return nil, nil, fmt.Errorf("cannot open pin %s", busyName)
			}
		}
		dio := mlrs.NewGPIO(dioName)
		if dio == nil {
			return nil, nil, fmt.Errorf("cannot open pin %s", dioName)
		}
		if err := dio.In(mlrs.GpioRisingEdge); err != nil {
			return nil, nil, fmt.Errorf("error initializing interrupt pin: %s", err)
		}
		radio, err := sx1280.New(dev, reset, busy, sx1280.RadioOpts{
			Sync:   loraSyncWord,
			Freq:   2400000000,
			Config: cfg.Radio.Config,
			Power:  cfg.Radio.Power,
			DCDC:   cfg.Radio.DCDC,
			Logger: sx1280.LogPrintf(logger),
		})
		if err != nil {
			return nil, nil, err
		}
		return radio, dio, nil
	}

	if cfg.Link.UseAntenna1 {
		r, d, err := open(dev1, cfg.Pins.Reset1, cfg.Pins.Busy1, cfg.Pins.Dio1)
		if err != nil {
			return radios, dios, err
		}
		radios[link.Antenna1], dios[link.Antenna1] = r, d
	}
	if cfg.Link.UseAntenna2 {
		r, d, err := open(dev2, cfg.Pins.Reset2, cfg.Pins.Busy2, cfg.Pins.Dio2)
		if err != nil {
			return radios, dios, err
		}
		radios[link.Antenna2], dios[link.Antenna2] = r, d
	}
	log.Printf("LoRa radio ready (%s)", sx1280.Configs[cfg.Radio.Config].Info)
	return radios, dios, nil
}

// buildEngine wires the channel source, the serial destination, the telemetry
// surfaces, and the MQTT operator commands into a link engine.
func buildEngine(cfg *TxConfig, radios [2]link.Transceiver, dios [2]mlrs.GPIO,
	mq *mq, configPath string, logger LogPrintf,
) (*link.Engine, func(), error) {

	opts := link.Opts{
		Radios:  radios,
		DioPins: dios,
		Logger:  link.LogPrintf(logger),
	}

	// the latest snapshot for the handset telemetry, guarded for the telemetry
	// goroutine
	var snapMu sync.Mutex
	var lastSnap link.Snapshot

	var closers []io.Closer
	teardown := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	// channel source
	var crsfDev *rc.CRSF
	var bridge *rc.MBridge
	chanPort, err := openPort(cfg.Channels.Port, cfg.Channels.Baud,
		cfg.Channels.Source == "sbus")
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, chanPort)
	switch cfg.Channels.Source {
	case "sbus":
		opts.Source = rc.NewSBUS(chanPort, rc.LogPrintf(logger))
	case "crsf":
		crsfDev = rc.NewCRSF(chanPort, rc.LogPrintf(logger))
		opts.Source = crsfDev
	case "mbridge":
		bridge = rc.NewMBridge(chanPort, rc.LogPrintf(logger))
		opts.Source = bridge
		opts.Bridge = bridge
		opts.TickMs = append(opts.TickMs, bridge.TickMs)
	}

	// serial payload destination
	switch cfg.Serial.Destination {
	case "serial":
		port, err := openPort(cfg.Serial.Port, cfg.Serial.Baud, false)
		if err != nil {
			teardown()
			return nil, nil, err
		}
		closers = append(closers, port)
		opts.Serial = newSerialPort(port, logger)
	case "mbridge":
		if bridge == nil {
			teardown()
			return nil, nil, fmt.Errorf("serial destination mbridge needs channels source mbridge")
		}
		opts.Serial = bridge
	}

	// telemetry scheduling: the crsf handset gets its stats at the frame rate
	if crsfDev != nil {
		opts.OnFrameTick = append(opts.OnFrameTick, crsfDev.TelemetryStart)
	}

	opts.StoreParams = func() {
		if err := SaveConfig(cfg, configPath); err != nil {
			log.Printf("param store: %s", err)
			return
		}
		log.Printf("param store: saved to %s", configPath)
	}

	opts.OnSnapshot = func(s link.Snapshot) {
		snapMu.Lock()
		lastSnap = s
		snapMu.Unlock()
		mq.Publish("stats", &s)
	}
	opts.OnConnect = func(up bool) {
		log.Printf("Link %s", map[bool]string{true: "connected", false: "disconnected"}[up])
		mq.Publish("connected", map[string]bool{"connected": up})
	}

	engine, err := link.New(cfg.Link, opts)
	if err != nil {
		teardown()
		return nil, nil, err
	}

	// operator commands via MQTT
	err = mq.Subscribe("param_store", func([]byte) { engine.RequestParamStore() })
	if err != nil {
		teardown()
		return nil, nil, err
	}
	err = mq.Subscribe("param_set", func(payload []byte) {
		var p link.RxParams
		if err := json.Unmarshal(payload, &p); err != nil {
			log.Printf("param_set: %s", err)
			return
		}
		engine.SetRxParams(p)
	})
	if err != nil {
		teardown()
		return nil, nil, err
	}

	// handset telemetry pump, outside the link loop so UART writes never stall it
	go func() {
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for range tick.C {
			snapMu.Lock()
			s := lastSnap
			snapMu.Unlock()
			if crsfDev != nil && crsfDev.TelemetryUpdate() {
				crsfDev.SendLinkStatistics(crsfStats(&s))
			}
			if bridge != nil && bridge.TelemetryUpdate() {
				bridge.SendLinkStats(bridgeStats(&s))
			}
		}
	}()

	return engine, teardown, nil
}

// crsfStats converts a link snapshot into the CRSF link statistics record.
func crsfStats(s *link.Snapshot) *rc.CrsfLinkStats {
	return &rc.CrsfLinkStats{
		UplinkRssi1:   uint8(-int16(s.RssiAnt1)),
		UplinkRssi2:   uint8(-int16(s.RssiAnt2)),
		UplinkLQ:      s.LQ,
		UplinkSnr:     s.SnrAnt1,
		ActiveAntenna: s.RxAntenna,
		DownlinkRssi:  uint8(-int16(s.ReceivedRssi)),
		DownlinkLQ:    s.ReceivedLQ,
	}
}

// bridgeStats serializes a snapshot for the mBridge link stats frame.
func bridgeStats(s *link.Snapshot) []byte {
	conn := byte(0)
	if s.Connected {
		conn = 1
	}
	return []byte{
		conn, s.LQ, s.LQSerial,
		byte(s.RssiAnt1), byte(s.RssiAnt2), byte(s.SnrAnt1), byte(s.SnrAnt2),
		byte(s.ReceivedRssi), s.ReceivedLQ, s.TxAntenna, s.RxAntenna,
	}
}

// openPort opens a UART via go-serial. SBUS runs 100000 baud 8E2; everything else
// is 8N1 at the configured rate.
func openPort(name string, baud uint, sbus bool) (io.ReadWriteCloser, error) {
	o := gserial.OpenOptions{
		PortName:        name,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	if sbus {
		o.BaudRate = 100000
		o.ParityMode = gserial.PARITY_EVEN
		o.StopBits = 2
	}
	port, err := gserial.Open(o)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %s", name, err)
	}
	return port, nil
}

// ledLoop indicates the connection state: green slow blink when connected, red fast
// blink while searching.
func ledLoop(engine *link.Engine, green, red mlrs.GPIO) {
	if green == nil || red == nil {
		return
	}
	level := 0
	n := 0
	for {
		time.Sleep(100 * time.Millisecond)
		n++
		if engine.Connected() {
			red.Out(mlrs.GpioLow)
			if n%5 == 0 {
				level = 1 - level
				green.Out(level)
			}
		} else {
			green.Out(mlrs.GpioLow)
			if n%2 == 0 {
				level = 1 - level
				red.Out(level)
			}
		}
	}
}

// ledFailLoop is the boot failure indication: alternating fast red/green, forever.
func ledFailLoop(green, red mlrs.GPIO) {
	level := 0
	for {
		if green != nil {
			green.Out(level)
		}
		if red != nil {
			red.Out(1 - level)
		}
		level = 1 - level
		time.Sleep(25 * time.Millisecond)
	}
}

// serialPort adapts a blocking UART to the link's non-blocking byte interface: a
// reader goroutine buffers inbound bytes, writes go out as they come.
type serialPort struct {
	sync.Mutex
	w  io.Writer
	rx []byte
}

func newSerialPort(rw io.ReadWriter, logger LogPrintf) *serialPort {
	s := &serialPort{w: rw}
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := rw.Read(buf)
			if err != nil {
				if logger != nil {
					logger("serial read: %s", err)
				}
				return
			}
			s.Lock()
			if len(s.rx) < 8192 {
				s.rx = append(s.rx, buf[:n]...)
			}
			s.Unlock()
		}
	}()
	return s
}

func (s *serialPort) Available() bool {
	s.Lock()
	defer s.Unlock()
	return len(s.rx) > 0
}

func (s *serialPort) Getc() byte {
	s.Lock()
	defer s.Unlock()
	if len(s.rx) == 0 {
		return 0
	}
	c := s.rx[0]
	s.rx = s.rx[1:]
	return c
}

func (s *serialPort) Putc(c byte) {
	s.w.Write([]byte{c})
}
