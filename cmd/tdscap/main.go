// Command tdscap passively observes SQL Server traffic, either from a live
// interface or a capture file, and prints decoded SqlEvents as JSON-lines.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tdscap/tdscap/capture"
	"github.com/tdscap/tdscap/event"
)

func main() {
	var (
		iface      = flag.String("i", "", "network interface to capture live from")
		pcapFile   = flag.String("r", "", "read packets from a capture file instead of a live interface")
		bpf        = flag.String("bpf", "", "BPF filter expression; accepted but not applied (filtering uses the SQL Server port set)")
		heuristic  = flag.Bool("heuristic", false, "use the offset-scanning heuristic decoder instead of structured parsing")
		includeRaw = flag.Bool("raw", false, "attach raw TDS message bytes to each event")
	)
	flag.Parse()

	if *iface == "" && *pcapFile == "" {
		log.Fatal("tdscap: one of -i or -r is required")
	}

	cfg := capture.NewConfig(*iface)
	if *heuristic {
		cfg.ParsingMode = capture.ModeHeuristic
	}
	cfg.IncludeRawData = *includeRaw

	var src capture.Source
	var err error
	if *pcapFile != "" {
		src, err = capture.OpenOffline(*pcapFile)
	} else {
		src, err = capture.OpenLive(*iface, int32(cfg.SnapLen), time.Duration(cfg.ReadTimeoutMs)*time.Millisecond)
	}
	if err != nil {
		log.Fatalf("tdscap: %v", err)
	}
	defer src.Close()

	if *bpf != "" {
		log.Printf("tdscap: note: -bpf %q is not applied by this driver; port filtering is done internally against %v", *bpf, cfg.SQLServerPorts)
	}

	out := make(chan event.SqlEvent, 64)
	driver := capture.NewDriver(cfg, out)

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	log.Printf("tdscap: capture session %s starting", driver.SessionID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		stats, err := driver.Run(src, stop)
		if err != nil {
			log.Printf("tdscap: capture stopped: %v", err)
		}
		log.Printf("tdscap: read %d packets, dissected %d, published %d events",
			stats.PacketsRead, stats.PacketsDissected, stats.EventsPublished)
	}()

	enc := json.NewEncoder(os.Stdout)
	for evt := range out {
		if err := enc.Encode(evt); err != nil {
			log.Printf("tdscap: failed to encode event: %v", err)
		}
	}
	<-done
}
