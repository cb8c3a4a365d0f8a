package membership

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
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var EInvalidTransition = errors.New("The membership gate cannot make this transition from its current state")

type GateState int

const (
	Normal   GateState = iota
	Blocked  GateState = iota
	Recovery GateState = iota
	Cleanup  GateState = iota
)

func (state GateState) String() string {
	switch state {
	case Normal:
		return "normal"
	case Blocked:
		return "blocked"
	case Recovery:
		return "recovery"
	case Cleanup:
		return "cleanup"
	}

	return fmt.Sprintf("unknown(%d)", int(state))
}

var (
	prometheusGateState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devicecache",
		Subsystem: "membership",
		Name:      "gate_state",
		Help:      "The state of the local membership gate (0 = normal, 1 = blocked, 2 = recovery, 3 = cleanup)",
	})

	prometheusViewID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devicecache",
		Subsystem: "membership",
		Name:      "view_id",
		Help:      "The id of the current cluster view",
	})
)

func init() {
	prometheus.MustRegister(prometheusGateState, prometheusViewID)
}

// Gate decides which cluster view is authoritative. While a membership
// change is being negotiated or reconciled the last view known to be
// operational stays authoritative.
//
//	Normal   --Block-->           Blocked
//	Blocked  --Unblock-->         Normal
//	any      --EnterRecovery(v)--> Recovery
//	Recovery --EnterCleanup-->    Cleanup
//	Cleanup  --MarkOperational--> Normal (or Blocked while blockers remain)
type Gate struct {
	state           GateState
	blockers        int
	current         ClusterView
	lastOperational ClusterView
	lock            sync.RWMutex
}

func NewGate(initial ClusterView) *Gate {
	gate := &Gate{
		state:           Normal,
		current:         NewClusterView(initial.ID, initial.Members),
		lastOperational: NewClusterView(initial.ID, initial.Members),
	}

	gate.record()

	return gate
}

// Block marks a reconfiguration as in progress. Blocks nest: the gate
// returns to Normal once every Block has been matched by an Unblock.
func (gate *Gate) Block() {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	gate.blockers++

	if gate.state == Normal {
		gate.state = Blocked
	}

	gate.record()
}

func (gate *Gate) Unblock() {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	if gate.blockers > 0 {
		gate.blockers--
	}

	if gate.blockers == 0 && gate.state == Blocked {
		gate.state = Normal
	}

	gate.record()
}

// EnterRecovery installs view as the current view. The last operational
// view stays authoritative until MarkOperational.
func (gate *Gate) EnterRecovery(view ClusterView) error {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	if view.ID <= gate.current.ID {
		return EInvalidTransition
	}

	gate.current = NewClusterView(view.ID, view.Members)
	gate.state = Recovery
	gate.record()

	return nil
}

func (gate *Gate) EnterCleanup() error {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	if gate.state != Recovery {
		return EInvalidTransition
	}

	gate.state = Cleanup
	gate.record()

	return nil
}

func (gate *Gate) MarkOperational() error {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	if gate.state != Cleanup {
		return EInvalidTransition
	}

	gate.lastOperational = NewClusterView(gate.current.ID, gate.current.Members)
	gate.state = Normal

	if gate.blockers > 0 {
		gate.state = Blocked
	}

	gate.record()

	return nil
}

// Reset makes view both the current and the last operational view, as
// after restoring a snapshot. Outstanding blocks are kept.
func (gate *Gate) Reset(view ClusterView) {
	gate.lock.Lock()
	defer gate.lock.Unlock()

	gate.current = NewClusterView(view.ID, view.Members)
	gate.lastOperational = NewClusterView(view.ID, view.Members)
	gate.state = Normal

	if gate.blockers > 0 {
		gate.state = Blocked
	}

	gate.record()
}

func (gate *Gate) State() GateState {
	gate.lock.RLock()
	defer gate.lock.RUnlock()

	return gate.state
}

func (gate *Gate) CurrentView() ClusterView {
	gate.lock.RLock()
	defer gate.lock.RUnlock()

	return NewClusterView(gate.current.ID, gate.current.Members)
}

func (gate *Gate) LastOperationalView() ClusterView {
	gate.lock.RLock()
	defer gate.lock.RUnlock()

	return NewClusterView(gate.lastOperational.ID, gate.lastOperational.Members)
}

// AuthoritativeView is the current view in Normal and the last
// operational view in every other state
func (gate *Gate) AuthoritativeView() ClusterView {
	gate.lock.RLock()
	defer gate.lock.RUnlock()

	if gate.state == Normal {
		return NewClusterView(gate.current.ID, gate.current.Members)
	}

	return NewClusterView(gate.lastOperational.ID, gate.lastOperational.Members)
}

func (gate *Gate) record() {
	prometheusGateState.Set(float64(gate.state))
	prometheusViewID.Set(float64(gate.current.ID))
}
