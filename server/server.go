package server

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	. "github.com/PelionIoT/devicecache/logging"

	"github.com/gorilla/mux"
)

// DefaultRequestTimeout bounds reading a request and writing its response.
// Transfer pushes and content streams are the longest requests served.
const DefaultRequestTimeout = 330 * time.Second

type ServerConfig struct {
	Host string
	Port int
	// RequestTimeout of zero means DefaultRequestTimeout
	RequestTimeout time.Duration
}

// Server is the HTTP listener shared by raft, transfers and the client
// facing routes of one node
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	router     *mux.Router
	host       string
	port       int
	timeout    time.Duration
	lock       sync.Mutex
	stopped    bool
}

func NewServer(config ServerConfig) *Server {
	timeout := config.RequestTimeout

	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	router := mux.NewRouter()

	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)

	return &Server{
		router:  router,
		host:    config.Host,
		port:    config.Port,
		timeout: timeout,
	}
}

func (server *Server) Router() *mux.Router {
	return server.router
}

func (server *Server) Host() string {
	return server.host
}

func (server *Server) Port() int {
	return server.port
}

// Listen binds the server port. It is separate from Serve so that callers
// learn about an unavailable port before any other component starts.
func (server *Server) Listen() error {
	server.lock.Lock()
	defer server.lock.Unlock()

	listener, err := net.Listen("tcp", "0.0.0.0:"+strconv.Itoa(server.port))

	if err != nil {
		Log.Errorf("Error listening on port: %d", server.port)

		return err
	}

	server.listener = listener
	server.httpServer = &http.Server{
		Handler:      server.router,
		WriteTimeout: server.timeout,
		ReadTimeout:  server.timeout,
	}

	return nil
}

// Serve handles requests until Stop is called. It returns nil once the
// server was stopped.
func (server *Server) Serve() error {
	server.lock.Lock()
	httpServer := server.httpServer
	listener := server.listener
	stopped := server.stopped
	server.lock.Unlock()

	if stopped {
		return nil
	}

	if listener == nil {
		if err := server.Listen(); err != nil {
			return err
		}

		return server.Serve()
	}

	Log.Infof("Node listening on %s:%d", server.host, server.port)

	err := httpServer.Serve(listener)

	server.lock.Lock()
	defer server.lock.Unlock()

	if server.stopped {
		return nil
	}

	Log.Errorf("Node server at %s:%d shutting down. Reason: %v", server.host, server.port, err)

	return err
}

func (server *Server) Stop() error {
	server.lock.Lock()
	defer server.lock.Unlock()

	server.stopped = true

	if server.listener != nil {
		return server.listener.Close()
	}

	return nil
}
