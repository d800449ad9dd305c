// Command properad is a command-line Propar client: parse flags, build
// a master, read or act, print.
package main

import (
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	propar "github.com/bronkhorst-developer/bronkhorst-propar"
	"github.com/bronkhorst-developer/bronkhorst-propar/config"
	"github.com/bronkhorst-developer/bronkhorst-propar/transport/serialport"
	"github.com/bronkhorst-developer/bronkhorst-propar/wrappers"
)

func main() {
	log.SetLevel(log.InfoLevel)

	cfgPath := flag.String("c", "", "INI config file (overrides -p/-b/-dump when set)")
	port := flag.String("p", "/dev/ttyUSB0", "serial port")
	baud := flag.Int("b", 38400, "baudrate")
	node := flag.Uint("n", uint(propar.LocalNode), "instrument node address")
	scan := flag.Bool("scan", false, "walk the network and print every responding node")
	wink := flag.Int("wink", 0, "wink the instrument's LED for N seconds (1-9) and exit")
	dump := flag.Int("dump", 0, "wire dump level: 0 silent, 1 non-propar bytes, 2 everything")
	flag.Parse()

	portName, baudrate, dumpLevel := *port, *baud, *dump
	asciiMode := false
	var cataloguePath string
	var responseTimeout time.Duration
	if *cfgPath != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config %s: %v", *cfgPath, err)
		}
		portName, baudrate, dumpLevel = cfg.Port, cfg.Baudrate, cfg.DumpLevel
		asciiMode = cfg.ASCIIMode
		cataloguePath = cfg.CataloguePath
		responseTimeout = cfg.ResponseTimeout
	}
	if dumpLevel > 0 {
		// Wire dumps are logged at debug level.
		log.SetLevel(log.DebugLevel)
	}

	tp := serialport.New(portName, baudrate, 10*time.Millisecond, 10*time.Millisecond)
	var master *propar.Master
	if asciiMode {
		master = propar.NewMasterWithFramer(tp, propar.NewASCIIFramer(), uint8(*node))
	} else {
		master = propar.NewMaster(tp, uint8(*node))
	}
	master.SetDumpLevel(dumpLevel)
	if responseTimeout > 0 {
		master.SetResponseTimeout(responseTimeout)
	}

	if cataloguePath != "" {
		cat, err := propar.LoadCatalogue(cataloguePath)
		if err != nil {
			log.Fatalf("load catalogue %s: %v", cataloguePath, err)
		}
		master.SetCatalogue(cat)
	}

	if err := master.Start(); err != nil {
		log.Fatalf("open %s: %v", portName, err)
	}
	defer master.Stop()

	switch {
	case *wink > 0:
		if wrappers.WinkLED(master, uint8(*node), *wink) {
			fmt.Println("wink ok")
		} else {
			fmt.Println("wink failed")
		}
	case *scan:
		nodes, err := wrappers.ScanNetwork(master, true)
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		for _, n := range nodes {
			fmt.Printf("node %d: type=%q id=%q\n", n.Address, n.Type, n.ID)
		}
	default:
		value, status := wrappers.ReadMeasure(master, uint8(*node))
		fmt.Printf("measure = %v (%s)\n", value, status)
	}
}
