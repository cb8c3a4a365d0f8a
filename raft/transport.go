package raft

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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	. "github.com/PelionIoT/devicecache/logging"

	"github.com/coreos/etcd/raft/raftpb"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var ESenderUnknown = errors.New("The receiver does not know who we are")
var EReceiverUnknown = errors.New("The sender does not know the receiver")
var ETimeout = errors.New("The sender timed out while trying to send the message to the receiver")

const DefaultSendTimeout = 10 * time.Second

const MessagesEndpoint = "/raft/messages"

const (
	SenderIDHeader   = "X-Raft-Sender-Id"
	SenderHostHeader = "X-Raft-Sender-Host"
	SenderPortHeader = "X-Raft-Sender-Port"
)

var (
	prometheusRaftMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicecache_raft_messages",
		Help: "Counts raft messages sent and received by the local node",
	}, []string{
		"direction",
		"result",
	})
)

func init() {
	prometheus.MustRegister(prometheusRaftMessages)
}

type PeerAddress struct {
	NodeID uint64 `json:"nodeID"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

func (peerAddress PeerAddress) IsEmpty() bool {
	return peerAddress.NodeID == 0
}

func (peerAddress PeerAddress) ToHTTPURL(endpoint string) string {
	return fmt.Sprintf("http://%s:%d%s", peerAddress.Host, peerAddress.Port, endpoint)
}

// announce writes the identity of the sender into the request headers
func (peerAddress PeerAddress) announce(header http.Header) {
	header.Set(SenderIDHeader, strconv.FormatUint(peerAddress.NodeID, 10))
	header.Set(SenderHostHeader, peerAddress.Host)
	header.Set(SenderPortHeader, strconv.Itoa(peerAddress.Port))
}

// announcedSender reads the sender identity written by announce
func announcedSender(header http.Header) (PeerAddress, bool) {
	nodeID, err := strconv.ParseUint(header.Get(SenderIDHeader), 10, 64)

	if err != nil || nodeID == 0 {
		return PeerAddress{}, false
	}

	port, err := strconv.Atoi(header.Get(SenderPortHeader))

	if err != nil || header.Get(SenderHostHeader) == "" {
		return PeerAddress{}, false
	}

	return PeerAddress{NodeID: nodeID, Host: header.Get(SenderHostHeader), Port: port}, true
}

// TransportHub carries raft messages between nodes over HTTP. Every
// request names its sender so that a receiver can answer a node it has
// not yet learned about from the log.
type TransportHub struct {
	localAddress PeerAddress
	peers        map[uint64]PeerAddress
	httpClient   *http.Client
	onReceiveCB  func(context.Context, raftpb.Message) error
	lock         sync.RWMutex
}

func NewTransportHub(localAddress PeerAddress) *TransportHub {
	return &TransportHub{
		localAddress: localAddress,
		peers:        make(map[uint64]PeerAddress),
		httpClient:   &http.Client{Timeout: DefaultSendTimeout},
	}
}

// SetSendTimeout bounds how long Send waits for a peer to acknowledge a
// message
func (hub *TransportHub) SetSendTimeout(timeout time.Duration) {
	hub.httpClient.Timeout = timeout
}

func (hub *TransportHub) AddPeer(peerAddress PeerAddress) {
	hub.lock.Lock()
	defer hub.lock.Unlock()

	hub.peers[peerAddress.NodeID] = peerAddress
}

func (hub *TransportHub) RemovePeer(peerAddress PeerAddress) {
	hub.lock.Lock()
	defer hub.lock.Unlock()

	delete(hub.peers, peerAddress.NodeID)
}

func (hub *TransportHub) Peer(nodeID uint64) (PeerAddress, bool) {
	hub.lock.RLock()
	defer hub.lock.RUnlock()

	peerAddress, ok := hub.peers[nodeID]

	return peerAddress, ok
}

func (hub *TransportHub) OnReceive(cb func(context.Context, raftpb.Message) error) {
	hub.onReceiveCB = cb
}

func (hub *TransportHub) Send(ctx context.Context, msg raftpb.Message) error {
	err := hub.send(ctx, msg)

	if err != nil {
		prometheusRaftMessages.With(prometheus.Labels{"direction": "out", "result": "error"}).Inc()
	} else {
		prometheusRaftMessages.With(prometheus.Labels{"direction": "out", "result": "ok"}).Inc()
	}

	return err
}

func (hub *TransportHub) send(ctx context.Context, msg raftpb.Message) error {
	peerAddress, ok := hub.Peer(msg.To)

	if !ok {
		return EReceiverUnknown
	}

	encodedMessage, err := msg.Marshal()

	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, peerAddress.ToHTTPURL(MessagesEndpoint), bytes.NewReader(encodedMessage))

	if err != nil {
		return err
	}

	hub.localAddress.announce(request.Header)

	resp, err := hub.httpClient.Do(request)

	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return ETimeout
		}

		return err
	}

	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusForbidden:
		return ESenderUnknown
	}

	errorMessage, err := ioutil.ReadAll(resp.Body)

	if err != nil {
		return err
	}

	return fmt.Errorf("Received error code from server: (%d) %s", resp.StatusCode, string(errorMessage))
}

// knows reports whether messages from the sender can be answered. A sender
// that is not yet a known peer is learned from the headers it announced.
func (hub *TransportHub) knows(header http.Header, senderID uint64) bool {
	if _, ok := hub.Peer(senderID); ok {
		return true
	}

	sender, ok := announcedSender(header)

	if !ok || sender.NodeID != senderID {
		return false
	}

	hub.AddPeer(sender)

	return true
}

func reply(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(status)
	io.WriteString(w, "\n")
}

func (hub *TransportHub) receive(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(r.Body)

	if err != nil {
		Log.Warningf("POST %s: Unable to read message body", MessagesEndpoint)
		reply(w, http.StatusInternalServerError)

		return
	}

	var msg raftpb.Message

	if err := msg.Unmarshal(body); err != nil {
		Log.Warningf("POST %s: Unable to parse message body", MessagesEndpoint)
		reply(w, http.StatusBadRequest)

		return
	}

	if !hub.knows(r.Header, msg.From) {
		Log.Warningf("POST %s: Sender node (%d) is not known by this node", MessagesEndpoint, msg.From)
		reply(w, http.StatusForbidden)

		return
	}

	if err := hub.onReceiveCB(r.Context(), msg); err != nil {
		Log.Warningf("POST %s: Unable to receive message: %v", MessagesEndpoint, err.Error())
		prometheusRaftMessages.With(prometheus.Labels{"direction": "in", "result": "error"}).Inc()
		reply(w, http.StatusInternalServerError)

		return
	}

	prometheusRaftMessages.With(prometheus.Labels{"direction": "in", "result": "ok"}).Inc()
	reply(w, http.StatusOK)
}

func (hub *TransportHub) Attach(router *mux.Router) {
	router.HandleFunc(MessagesEndpoint, hub.receive).Methods(http.MethodPost)
}
