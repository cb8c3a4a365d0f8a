package routes

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
	"net/http"

	. "github.com/PelionIoT/devicecache/logging"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// WatchEndpoint streams bucket ownership changes to websocket clients as
// JSON encoded OwnershipChange values
type WatchEndpoint struct {
	ClusterFacade ClusterFacade
	Upgrader      websocket.Upgrader
}

func (watchEndpoint *WatchEndpoint) Attach(router *mux.Router) {
	router.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := watchEndpoint.Upgrader.Upgrade(w, r, nil)

		if err != nil {
			Log.Errorf("Unable to upgrade connection: %v", err.Error())

			return
		}

		changes, stop := watchEndpoint.ClusterFacade.WatchOwnership()
		closed := make(chan struct{})

		defer stop()
		defer conn.Close()

		go func() {
			// drain control frames until the client goes away
			for {
				if _, _, err := conn.NextReader(); err != nil {
					close(closed)

					return
				}
			}
		}()

		for {
			select {
			case change, ok := <-changes:
				if !ok {
					return
				}

				if err := conn.WriteJSON(change); err != nil {
					Log.Debugf("Watcher at %s went away: %v", r.RemoteAddr, err)

					return
				}
			case <-closed:
				return
			}
		}
	}).Methods("GET")
}
