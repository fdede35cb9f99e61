// Binary mountserver runs on the computer the telescope is plugged into.
// It exposes the mount's serial interface over the RPC transport so the
// control loop can run elsewhere on the network, and can substitute a
// simulated mount with --hootl.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/k3pgx/skytrack/internal/astro"
	"github.com/k3pgx/skytrack/mount"
	"github.com/k3pgx/skytrack/nexstar"
	"github.com/k3pgx/skytrack/rpc"
	"github.com/k3pgx/skytrack/skywatcher"
)

var (
	networkPort = flag.Int("network-port", 45345, "UDP port to serve RPC on")
	serialPort  = flag.String("serial-port", "auto",
		"serial port of the telescope, or auto to probe /dev/ttyUSB0-9")
	protocol = flag.String("telescope-protocol", "nexstar-hand-control",
		"one of nexstar-hand-control, skywatcher-mount-head-usb, skywatcher-mount-head-eqmod")
	runHootl  = flag.Bool("hootl", false, "simulate the telescope instead of opening a serial port")
	mountMode = flag.String("mount-mode", "altaz", "mount orientation, altaz or eq")

	latitude  = flag.Float64("latitude", 42.36, "observer latitude, degrees north (hootl only)")
	longitude = flag.Float64("longitude", -71.09, "observer longitude, degrees east (hootl only)")
)

const responseTimeout = 500 * time.Millisecond

// serialSpeaker frames commands for the wire and strips the framing off
// responses: a trailing '#' for NexStar, '=' ... '\r' for SkyWatcher.
type serialSpeaker struct {
	port       *serial.Port
	lineEnding string
	nexstar    bool
}

// processResponse returns the response payload if raw is a complete,
// well-formed response, otherwise the empty string and false.
func (s *serialSpeaker) processResponse(raw string) (string, bool) {
	if s.nexstar {
		if len(raw) == 0 || raw[len(raw)-1] != '#' {
			return "", false
		}
		return raw[:len(raw)-1], true
	}
	if len(raw) < 2 || raw[0] != '=' || raw[len(raw)-1] != '\r' {
		return "", false
	}
	return raw[1 : len(raw)-1], true
}

func (s *serialSpeaker) Speak(command string) (string, error) {
	if _, err := s.port.Write([]byte(command + s.lineEnding)); err != nil {
		return "", fmt.Errorf("writing %q: %w", command, err)
	}

	var raw strings.Builder
	buf := make([]byte, 64)
	deadline := time.Now().Add(responseTimeout)
	for time.Now().Before(deadline) {
		if response, ok := s.processResponse(raw.String()); ok {
			return response, nil
		}
		n, err := s.port.Read(buf)
		if n > 0 {
			raw.Write(buf[:n])
		} else if err != nil {
			// Read timeouts surface as errors with nothing read; keep
			// waiting until the overall deadline.
			continue
		}
	}
	if response, ok := s.processResponse(raw.String()); ok {
		return response, nil
	}
	return "", fmt.Errorf("bad response %q to %q", raw.String(), command)
}

func (s *serialSpeaker) Close() error {
	return s.port.Close()
}

func findSerialPort() (string, error) {
	if *serialPort != "auto" {
		return *serialPort, nil
	}
	for i := 0; i < 10; i++ {
		port := fmt.Sprintf("/dev/ttyUSB%d", i)
		if _, err := os.Stat(port); err == nil {
			return port, nil
		}
	}
	return "", fmt.Errorf("no serial port found between /dev/ttyUSB0 and /dev/ttyUSB9")
}

func openSpeaker() (mount.Speaker, error) {
	isNexstar := *protocol == "nexstar-hand-control"

	if *runHootl {
		if isNexstar {
			obs := astro.Observer{
				Latitude: *latitude / 180 * math.Pi,
				LonEast:  *longitude / 180 * math.Pi,
			}
			return &mount.DelaySpeaker{Speaker: nexstar.NewHootl(obs, time.Now(), *mountMode == "altaz")}, nil
		}
		return &mount.DelaySpeaker{Speaker: skywatcher.NewHootl()}, nil
	}

	var baud int
	var lineEnding string
	switch *protocol {
	case "nexstar-hand-control":
		baud = 9600
	case "skywatcher-mount-head-eqmod":
		baud, lineEnding = 9600, "\r"
	case "skywatcher-mount-head-usb":
		baud, lineEnding = 115200, "\r"
	default:
		return nil, fmt.Errorf("unknown telescope protocol %q", *protocol)
	}

	name, err := findSerialPort()
	if err != nil {
		return nil, err
	}
	log.Printf("opening %s", name)
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return &serialSpeaker{port: port, lineEnding: lineEnding, nexstar: isNexstar}, nil
}

func main() {
	flag.Parse()

	speaker, err := openSpeaker()
	if err != nil {
		log.Fatal(err)
	}
	defer speaker.Close()

	server, err := rpc.NewServer(*networkPort)
	if err != nil {
		log.Fatal(err)
	}
	server.AddFunc("hello", func([]string) (string, error) {
		return "hello", nil
	})
	server.AddFunc("speak", func(args []string) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("speak takes one argument, got %d", len(args))
		}
		return speaker.Speak(args[0])
	})

	log.Printf("serving on port %d", *networkPort)
	log.Fatal(server.Run(context.Background()))
}
