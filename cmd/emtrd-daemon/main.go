// Command emtrd-daemon runs the EMTR driver as a standalone process: it
// opens the serial line and GPIO pins, starts the poll scheduler,
// publishes driver events on an in-process bus.Bus, and logs every
// event it sees there.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"emtrd/bus"
	"emtrd/drivers/emtr"
)

func main() {
	var (
		board    = flag.String("board", "pw240", "embedded board profile name")
		device   = flag.String("device", "", "override serial device path")
		baud     = flag.Uint("baud", 0, "override serial baud rate")
		resetPin = flag.String("reset-pin", "", "override reset GPIO pin name")
		txPin    = flag.String("tx-pin", "", "override TX GPIO pin name")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[emtrd] ", log.LstdFlags)

	cfg, err := emtr.LoadBoardConfig(*board)
	if err != nil {
		logger.Fatalf("board profile %q: %v", *board, err)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *baud != 0 {
		cfg.BaudRate = uint32(*baud)
	}
	if *resetPin != "" {
		cfg.ResetPinName = *resetPin
	}
	if *txPin != "" {
		cfg.TXPinName = *txPin
	}
	cfg.Logger = logger

	logger.Printf("initializing EMTR driver: device=%s baud=%d sockets=%d", cfg.Device, cfg.BaudRate, cfg.NumSockets)
	driver, err := emtr.Init(cfg)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}

	b := bus.NewBus(16)
	conn := b.NewConnection("emtr")
	driver.UseBus(conn)

	if err := driver.Start(); err != nil {
		logger.Fatalf("start: %v", err)
	}
	logger.Printf("poll scheduler running")

	sub := conn.Subscribe(bus.T("emtr", "#"))
	go logEvents(logger, sub)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Printf("shutting down")
	if err := driver.Stop(); err != nil {
		logger.Printf("stop: %v", err)
	}
}

func logEvents(logger *log.Logger, sub *bus.Subscription) {
	for msg := range sub.Channel() {
		logger.Printf("event %v: %+v", msg.Topic, msg.Payload)
	}
}
