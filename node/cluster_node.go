package node

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
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/PelionIoT/devicecache/bucket"
	"github.com/PelionIoT/devicecache/client"
	"github.com/PelionIoT/devicecache/cluster"
	"github.com/PelionIoT/devicecache/dispatch"
	. "github.com/PelionIoT/devicecache/error"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/membership"
	"github.com/PelionIoT/devicecache/raft"
	"github.com/PelionIoT/devicecache/routes"
	"github.com/PelionIoT/devicecache/server"
	"github.com/PelionIoT/devicecache/storage"
	"github.com/PelionIoT/devicecache/transfer"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const ClusterJoinRetryTimeout = 5

// LocalUpdatesBufferSize is the capacity of the channel the cluster
// controller reports local deltas on
const LocalUpdatesBufferSize = 100

type ClusterNodeConfig struct {
	NodeID        uint64
	StorageDriver storage.StorageDriver
	Server        *server.Server
	// TransferTimeout bounds every content copy and restore. Zero means
	// transfer.DefaultTransferTimeout.
	TransferTimeout   time.Duration
	TransferChunkSize int
	RaftTickInterval  time.Duration
}

// ClusterNode owns every component of one cache node and tears them all
// down in Stop
type ClusterNode struct {
	config             ClusterNodeConfig
	address            bucket.NodeAddress
	interClusterClient *client.Client
	store              *storage.BucketStore
	server             *server.Server
	raftTransport      *raft.TransportHub
	configController   *cluster.ConfigController
	transferAgent      *transfer.TransferAgent
	transferProposer   *transfer.TransferProposer
	handler            *BucketMessageHandler
	executor           *CommandExecutor
	broadcaster        *OwnershipBroadcaster
	joinedCluster      chan int
	leftCluster        chan int
	halted             chan error
	shutdown           chan int
	cancel             context.CancelFunc
	isRunning          bool
	initializedCB      func()
	lock               sync.Mutex
}

func New(config ClusterNodeConfig) *ClusterNode {
	if config.TransferChunkSize <= 0 {
		config.TransferChunkSize = transfer.DefaultChunkSize
	}

	return &ClusterNode{
		config:             config,
		server:             config.Server,
		store:              storage.NewBucketStore(config.StorageDriver),
		interClusterClient: client.NewClient(client.ClientConfig{}),
		broadcaster:        NewOwnershipBroadcaster(),
	}
}

func (node *ClusterNode) ID() uint64 {
	return node.config.NodeID
}

// Address is the address other nodes and the bucket directory know this
// node by
func (node *ClusterNode) Address() bucket.NodeAddress {
	return node.address
}

func (node *ClusterNode) Store() *storage.BucketStore {
	return node.store
}

func (node *ClusterNode) ClusterController() *cluster.ClusterController {
	return node.configController.ClusterController()
}

// Proposer submits commands to the replicated cluster log through the
// local node
func (node *ClusterNode) Proposer() Proposer {
	return node.configController
}

func (node *ClusterNode) OnInitialized(cb func()) {
	node.initializedCB = cb
}

func (node *ClusterNode) notifyInitialized() {
	if node.initializedCB != nil {
		node.initializedCB()
	}
}

// build creates the components of the node. It is called once the local
// address is known.
func (node *ClusterNode) build(options NodeInitializationOptions) {
	host, port := options.ClusterAddress()
	nodeID := node.config.NodeID
	node.address = bucket.NodeAddress{Host: host, Port: port}
	localPeer := raft.PeerAddress{NodeID: nodeID, Host: host, Port: port}

	clusterController := &cluster.ClusterController{
		LocalNodeID:  nodeID,
		State:        cluster.NewClusterState(),
		Gate:         membership.NewGate(membership.ClusterView{}),
		LocalUpdates: make(chan cluster.ClusterStateDelta, LocalUpdatesBufferSize),
	}

	clusterController.Directory().OnChange(node.broadcaster.Publish)

	addNodeBody, _ := cluster.EncodeClusterCommandBody(cluster.ClusterAddNodeBody{
		NodeID:     nodeID,
		NodeConfig: cluster.NodeConfig{Address: localPeer},
	})
	addNodeContext, _ := cluster.EncodeClusterCommand(cluster.ClusterCommand{Type: cluster.ClusterAddNode, Data: addNodeBody})

	raftNode := raft.NewRaftNode(&raft.RaftNodeConfig{
		ID:                      nodeID,
		CreateClusterIfNotExist: options.ShouldStartCluster(),
		Context:                 addNodeContext,
		Storage:                 raft.NewRaftMemoryStorage(),
		TickInterval:            node.config.RaftTickInterval,
		GetSnapshot: func() ([]byte, error) {
			return clusterController.Snapshot()
		},
	})

	node.raftTransport = raft.NewTransportHub(localPeer)
	node.configController = cluster.NewConfigController(raftNode, node.raftTransport, clusterController)
	node.transferProposer = transfer.NewTransferProposer(node.configController)
	node.transferAgent = transfer.NewTransferAgent(transfer.TransferAgentConfig{
		LocalAddress:   node.address,
		Store:          node.store,
		Transport:      transfer.NewHTTPTransferTransport(&http.Client{}),
		SourceStrategy: transfer.NewOwnerRestoreSourceStrategy(clusterController.Directory()),
		ChunkSize:      node.config.TransferChunkSize,
		Timeout:        node.config.TransferTimeout,
	})
	node.handler = NewBucketMessageHandler(node.store, node.transferAgent, node.transferProposer)
	node.executor = NewCommandExecutor(node.handler)
	clusterController.Dispatcher = dispatch.NewBucketEventDispatcher(nodeID, clusterController.Gate, node.executor)
}

func (node *ClusterNode) attachRoutes() {
	router := node.server.Router()
	clusterEndpoint := &routes.ClusterEndpoint{ClusterFacade: &ClusterNodeFacade{node: node}}
	cacheEndpoint := &routes.CacheEndpoint{CacheFacade: &CacheNodeFacade{node: node}}
	watchEndpoint := &routes.WatchEndpoint{
		ClusterFacade: &ClusterNodeFacade{node: node},
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	prometheusEndpoint := &routes.PrometheusEndpoint{}

	node.raftTransport.Attach(router)
	node.transferAgent.Attach(router)
	clusterEndpoint.Attach(router)
	cacheEndpoint.Attach(router)
	watchEndpoint.Attach(router)
	prometheusEndpoint.Attach(router)
}

// Start runs the node until Stop is called or one of its components fails.
// A node that is not yet a cluster member creates a new cluster or joins an
// existing one through the seed node named in options.
func (node *ClusterNode) Start(options NodeInitializationOptions) error {
	node.lock.Lock()

	if node.isRunning {
		node.lock.Unlock()

		return nil
	}

	node.isRunning = true
	node.shutdown = make(chan int)
	node.joinedCluster = make(chan int, 1)
	node.leftCluster = make(chan int, 1)
	node.halted = make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel
	node.lock.Unlock()

	defer node.Stop()

	Log.Infof("Local node (id = %d) starting. If it is not yet a cluster member it will %v", node.ID(), options)

	if err := node.store.Open(); err != nil {
		Log.Criticalf("Error opening storage driver: %v", err.Error())

		return EStorage
	}

	node.build(options)

	Log.Infof("Local node (id = %d) starting up at %v...", node.ID(), node.address)

	if err := node.server.Listen(); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return node.executor.Run(ctx)
	})

	group.Go(func() error {
		node.processClusterUpdates(ctx)

		return nil
	})

	node.configController.OnHalt(func(err error) {
		Log.Criticalf("Local node (id = %d) bucket subsystem halted: %v", node.ID(), err)

		node.halted <- err
	})

	if err := node.configController.Start(); err != nil {
		cancel()
		group.Wait()

		return err
	}

	node.attachRoutes()

	group.Go(func() error {
		return node.server.Serve()
	})

	group.Go(func() error {
		<-ctx.Done()
		node.server.Stop()

		return nil
	})

	if _, isMember := node.ClusterController().NodeConfig(node.ID()); !isMember {
		if options.ShouldJoinCluster() {
			seedHost, seedPort := options.SeedNode()

			Log.Infof("Local node (id = %d) joining existing cluster. Seed node at %s:%d", node.ID(), seedHost, seedPort)

			if err := node.joinCluster(ctx, seedHost, seedPort); err != nil {
				Log.Criticalf("Local node (id = %d) unable to join cluster: %v", node.ID(), err.Error())

				cancel()
				group.Wait()

				return err
			}
		} else {
			Log.Infof("Local node (id = %d) creating new cluster...", node.ID())

			select {
			case <-node.joinedCluster:
			case <-ctx.Done():
			}
		}
	}

	if ctx.Err() == nil {
		Log.Infof("Local node (id = %d) is a cluster member", node.ID())

		node.notifyInitialized()
	}

	var result error

	select {
	case <-ctx.Done():
	case err := <-node.halted:
		result = err
	case <-node.leftCluster:
		result = ERemoved
	}

	cancel()

	if err := group.Wait(); err != nil && result == nil {
		Log.Errorf("Local node (id = %d) stopped with error: %v", node.ID(), err.Error())

		result = err
	}

	return result
}

// processClusterUpdates reacts to the deltas the cluster controller reports
// for the local node. It must keep consuming them since the controller
// blocks the raft apply loop on a full channel.
func (node *ClusterNode) processClusterUpdates(ctx context.Context) {
	updates := node.ClusterController().LocalUpdates

	for {
		var delta cluster.ClusterStateDelta

		select {
		case delta = <-updates:
		case <-ctx.Done():
			return
		}

		switch delta.Type {
		case cluster.DeltaNodeAdd:
			Log.Infof("Local node (id = %d) was added to the cluster", node.ID())

			select {
			case node.joinedCluster <- 1:
			default:
			}
		case cluster.DeltaNodeRemove:
			Log.Infof("Local node (id = %d) was removed from the cluster", node.ID())

			node.transferAgent.StopAllTransfers()

			select {
			case node.leftCluster <- 1:
			default:
			}
		case cluster.DeltaCacheCreate:
			settings := delta.Delta.(cluster.CacheCreate).Settings

			Log.Infof("Local node (id = %d) learned about cache %s (buckets = %d, storages = %d)", node.ID(), settings.Name, settings.Buckets, settings.Storages)
		case cluster.DeltaCacheDelete:
			cacheName := delta.Delta.(cluster.CacheDelete).CacheName

			Log.Infof("Local node (id = %d) dropping content of deleted cache %s", node.ID(), cacheName)

			if err := node.store.DropCache(cacheName); err != nil {
				Log.Errorf("Local node (id = %d) unable to drop content of deleted cache %s: %v", node.ID(), cacheName, err.Error())
			}
		case cluster.DeltaRecoveryCancel:
			command := delta.Delta.(cluster.RecoveryCancel).Command

			go func() {
				if err := node.transferProposer.Propose(ctx, command); err != nil {
					Log.Warningf("Local node (id = %d) unable to propose %v: %v", node.ID(), command, err.Error())
				}
			}()
		}
	}
}

func (node *ClusterNode) joinCluster(ctx context.Context, seedHost string, seedPort int) error {
	memberAddress := raft.PeerAddress{
		Host: seedHost,
		Port: seedPort,
	}

	newMemberConfig := cluster.NodeConfig{
		Address: raft.PeerAddress{
			NodeID: node.ID(),
			Host:   node.address.Host,
			Port:   node.address.Port,
		},
	}

	for {
		Log.Infof("Local node (id = %d) is trying to join a cluster through an existing cluster member at %s:%d", node.ID(), seedHost, seedPort)

		err := node.interClusterClient.AddNode(ctx, memberAddress, newMemberConfig)

		if errorStatus, ok := err.(*client.ErrorStatusCode); ok {
			if cacheError, ok := errorStatus.CacheError(); ok && *cacheError == EDuplicateNodeID {
				Log.Criticalf("Local node (id = %d) request to join the cluster failed because its ID is not unique", node.ID())

				return EDuplicateNodeID
			}
		}

		if err == nil {
			// The addition was applied at the seed node. Wait until it
			// reaches the local log.
			select {
			case <-node.joinedCluster:
				return nil
			case <-ctx.Done():
				return EStopped
			}
		}

		Log.Errorf("Local node (id = %d) encountered an error while trying to join cluster: %v", node.ID(), err.Error())
		Log.Infof("Local node (id = %d) will try to join the cluster again in %d seconds", node.ID(), ClusterJoinRetryTimeout)

		select {
		case <-node.joinedCluster:
			// The AddNode() request may have been applied even though the
			// response never made it back to this node
			return nil
		case <-ctx.Done():
			return EStopped
		case <-time.After(time.Second * ClusterJoinRetryTimeout):
		}
	}
}

// LeaveCluster asks the cluster to remove the local node. Buckets it owns
// are orphaned or transferred by whoever issues bucket commands.
func (node *ClusterNode) LeaveCluster(ctx context.Context) error {
	Log.Infof("Local node (id = %d) is leaving the cluster", node.ID())

	return node.configController.RemoveNode(ctx, node.ID())
}

func (node *ClusterNode) Stop() {
	node.lock.Lock()
	defer node.lock.Unlock()

	if !node.isRunning {
		return
	}

	node.isRunning = false
	node.cancel()

	if node.configController != nil {
		node.configController.Stop()
	}

	if node.transferAgent != nil {
		node.transferAgent.StopAllTransfers()
	}

	if node.handler != nil {
		node.handler.Wait()
	}

	node.server.Stop()
	node.broadcaster.Close()
	node.store.Close()
}
