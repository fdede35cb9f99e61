package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Status is one snapshot of the control loop, published to every status
// websocket after each tick.
type Status struct {
	// Position of the mount, radians. Azimuth/altitude in altaz mode,
	// RA/declination in eq mode.
	AxisA float64 `json:"axis_a"`
	AxisB float64 `json:"axis_b"`

	Tracking bool    `json:"tracking"`
	TargetA  float64 `json:"target_a"`
	TargetB  float64 `json:"target_b"`

	// CommFailure is set when the mount has stopped answering; the loop
	// keeps retrying.
	CommFailure bool `json:"comm_failure"`

	// PowerReady reports the drive power supply state; always true when
	// no power controller is configured.
	PowerReady bool `json:"power_ready"`

	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Inputs is the operator's desired state, as set by websocket commands.
type Inputs struct {
	Tracking bool
	TargetA  float64
	TargetB  float64

	Kp, Ki, Kd float64
	// GainChanges counts SetGains requests so the control loop can tell
	// a new request from the old values.
	GainChanges int
}

type Server struct {
	inputMu sync.Mutex
	inputs  Inputs

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
}

func NewServer(kp, ki, kd float64) *Server {
	s := &Server{}
	s.inputs.Kp, s.inputs.Ki, s.inputs.Kd = kp, ki, kd
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

// Inputs returns the operator's current desired state.
func (s *Server) Inputs() Inputs {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	return s.inputs
}

// PublishStatus records a new status snapshot and wakes the status
// websockets.
func (s *Server) PublishStatus(status Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusHandler returns the latest status snapshot as JSON.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command string  `json:"command"`
	AxisA   float64 `json:"axis_a"`
	AxisB   float64 `json:"axis_b"`

	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

func (s *Server) handleCommand(msg Command) {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	switch msg.Command {
	case "track":
		s.inputs.Tracking = true
		s.inputs.TargetA = msg.AxisA
		s.inputs.TargetB = msg.AxisB
	case "stop":
		s.inputs.Tracking = false
	case "set_gains":
		s.inputs.Kp, s.inputs.Ki, s.inputs.Kd = msg.Kp, msg.Ki, msg.Kd
		s.inputs.GainChanges++
	default:
		log.Printf("unknown command %q", msg.Command)
	}
}

// StatusSocketHandler streams status snapshots to the client and applies
// the commands it sends back.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// Read and process incoming messages.
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			s.handleCommand(msg)
		}
	}()

	// Wake the send loop when the client goes away.
	go func() {
		<-ctx.Done()
		s.statusCond.Broadcast()
	}()

	send := func(status Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	if err := send(status); err != nil {
		log.Print(err)
		return
	}

	for {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
	}
}
