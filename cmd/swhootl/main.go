// Binary swhootl simulates a SkyWatcher wifi adapter: a UDP server
// answering the motor controller protocol from a simulated mount. Point
// skytrack at it with --telescope-protocol=skywatcher-mount-head-wifi.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/k3pgx/skytrack/mount"
	"github.com/k3pgx/skytrack/skywatcher"
)

var port = flag.Int("port", 11880, "UDP port to listen on")

func main() {
	flag.Parse()

	h := skywatcher.NewHootl()
	defer h.Close()

	// The wifi adapter answers much faster than a 9600 baud serial link.
	server, err := skywatcher.NewUdpServer(*port, &mount.DelaySpeaker{
		Speaker: h,
		Before:  5 * time.Millisecond,
		After:   5 * time.Millisecond,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer server.Close()

	log.Printf("serving on %v", server.Addr())
	log.Fatal(server.Run(context.Background()))
}
