package rpc

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Handler executes one named function for a client. A returned error is
// reported to the client as a RemoteError.
type Handler func(args []string) (string, error)

// Server services remote procedure calls. Datagrams are processed one at
// a time on a single goroutine, so handlers never run concurrently.
type Server struct {
	conn    *net.UDPConn
	funcs   map[string]Handler
	clients map[uint64]*clientState
}

type clientState struct {
	dups *DupTracker
	// responses caches the encoded reply for every sequence number at or
	// above horizon, so duplicated requests can be answered without
	// re-executing the handler.
	responses  map[int64][]byte
	horizon    int64
	horizonSet bool
}

// NewServer creates a Server listening on the given UDP port.
func NewServer(port int) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("listening on port %d: %w", port, err)
	}
	s := &Server{
		conn:    conn,
		funcs:   make(map[string]Handler),
		clients: make(map[uint64]*clientState),
	}
	s.AddFunc("get_funs", s.getFuns)
	return s, nil
}

// AddFunc registers a function that clients may call.
func (s *Server) AddFunc(name string, h Handler) {
	s.funcs[name] = h
}

func (s *Server) getFuns([]string) (string, error) {
	var names []string
	for name := range s.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, " "), nil
}

func (s *Server) Close() error {
	return s.conn.Close()
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Run processes requests until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			return err
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("reading request: %w", err)
		}
		s.handle(buf[:n], addr)
	}
}

func (s *Server) handle(data []byte, addr *net.UDPAddr) {
	var req request
	if err := cbor.Unmarshal(data, &req); err != nil {
		log.Printf("undecodable request from %v: %v", addr, err)
		return
	}

	st, ok := s.clients[req.ClientID]
	if !ok {
		st = &clientState{
			dups:      NewDupTracker(),
			responses: make(map[int64][]byte),
		}
		s.clients[req.ClientID] = st
	}

	if !st.dups.IsNew(req.Seq) {
		// Already executed; resend the cached response verbatim.
		if cached, ok := st.responses[req.Seq]; ok {
			s.conn.WriteToUDP(cached, addr)
		}
		return
	}

	resp := response{Seq: req.Seq}
	if fn, ok := s.funcs[req.Fun]; ok {
		value, err := fn(req.Args)
		if err != nil {
			resp.Err = err.Error()
		} else {
			resp.Value = value
		}
	} else {
		resp.Err = fmt.Sprintf("unknown function %q", req.Fun)
	}

	message, err := encMode.Marshal(resp)
	if err != nil {
		log.Printf("encoding response: %v", err)
		return
	}
	st.responses[req.Seq] = message
	const salvoSize = 3
	for i := 0; i < salvoSize; i++ {
		s.conn.WriteToUDP(message, addr)
	}

	// The client acknowledged everything below req.Horizon; those cached
	// responses will never be asked for again.
	if !st.horizonSet {
		st.horizon = req.Seq
		st.horizonSet = true
	}
	for st.horizon < req.Horizon {
		delete(st.responses, st.horizon)
		st.horizon++
	}
}
