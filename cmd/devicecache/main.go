package main

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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PelionIoT/devicecache/client"
	. "github.com/PelionIoT/devicecache/logging"
	"github.com/PelionIoT/devicecache/node"
	"github.com/PelionIoT/devicecache/raft"
	"github.com/PelionIoT/devicecache/server"
	. "github.com/PelionIoT/devicecache/shared"
	"github.com/PelionIoT/devicecache/storage"

	"github.com/olekukonko/tablewriter"
)

const DEVICECACHE_VERSION = "1.0.0"

var usage string = `Usage: devicecache <command> <arguments> | -version

Commands:
    start      Start a cache node
    conf       Generate a template config file for a cache node
    remove     Remove a node from the cluster
    buckets    List the owner of every bucket of a cache
    help       Show usage for a command

Use "devicecache help <command>" for usage of a command.
`

var commandUsage string = "Usage: devicecache %s <arguments>\n"

func main() {
	startCommand := flag.NewFlagSet("start", flag.ExitOnError)
	confCommand := flag.NewFlagSet("conf", flag.ExitOnError)
	removeCommand := flag.NewFlagSet("remove", flag.ExitOnError)
	bucketsCommand := flag.NewFlagSet("buckets", flag.ExitOnError)
	helpCommand := flag.NewFlagSet("help", flag.ExitOnError)

	startConfigFile := startCommand.String("conf", "", "The config file for this node")

	removeHost := removeCommand.String("host", "localhost", "The hostname or ip of some cluster member to contact to initiate the node removal.")
	removePort := removeCommand.Uint("port", uint(55555), "The port of the cluster member to contact.")
	removeNodeID := removeCommand.Uint64("node", uint64(0), "The ID of the node that should be removed from the cluster. Defaults to the ID of the node being contacted.")

	bucketsHost := bucketsCommand.String("host", "localhost", "The hostname or ip of some cluster member to contact.")
	bucketsPort := bucketsCommand.Uint("port", uint(55555), "The port of the cluster member to contact.")
	bucketsCache := bucketsCommand.String("cache", "", "The name of the cache to list. (Required)")
	bucketsStorage := bucketsCommand.Uint64("storage", uint64(0), "The storage number to list.")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Error: %s", "No command specified\n\n")
		fmt.Fprintf(os.Stderr, "%s", usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startCommand.Parse(os.Args[2:])
	case "conf":
		confCommand.Parse(os.Args[2:])
	case "remove":
		removeCommand.Parse(os.Args[2:])
	case "buckets":
		bucketsCommand.Parse(os.Args[2:])
	case "help":
		helpCommand.Parse(os.Args[2:])
	case "-help":
		fmt.Fprintf(os.Stderr, "%s", usage)
		os.Exit(0)
	case "-version":
		fmt.Fprintf(os.Stdout, "%s\n", DEVICECACHE_VERSION)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Error: \"%s\" is not a recognized command\n\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "%s", usage)
		os.Exit(1)
	}

	if startCommand.Parsed() {
		if *startConfigFile == "" {
			fmt.Fprintf(os.Stderr, "Error: No config file specified\n")
			os.Exit(1)
		}

		start(*startConfigFile)
	}

	if confCommand.Parsed() {
		fmt.Fprintf(os.Stdout, "%s", templateConfig)
		os.Exit(0)
	}

	if removeCommand.Parsed() {
		fmt.Fprintf(os.Stderr, "Removing node %d from the cluster...\n", *removeNodeID)
		client := client.NewClient(client.ClientConfig{})
		err := client.RemoveNode(context.TODO(), raft.PeerAddress{Host: *removeHost, Port: int(*removePort)}, *removeNodeID)

		if err != nil {
			Log.Errorf("Error: Unable to remove node %d from the cluster: %v", *removeNodeID, err.Error())

			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "Removed node %d from the cluster.\n", *removeNodeID)

		os.Exit(0)
	}

	if bucketsCommand.Parsed() {
		if *bucketsCache == "" {
			fmt.Fprintf(os.Stderr, "Error: -cache must be specified\n")
			os.Exit(1)
		}

		listBuckets(fmt.Sprintf("%s:%d", *bucketsHost, *bucketsPort), *bucketsCache, *bucketsStorage)
	}

	if helpCommand.Parsed() {
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "Error: No command specified for help\n")
			os.Exit(1)
		}

		var flagSet *flag.FlagSet

		switch os.Args[2] {
		case "start":
			flagSet = startCommand
		case "conf":
			fmt.Fprintf(os.Stderr, "Usage: devicecache conf\n")
			os.Exit(0)
		case "remove":
			flagSet = removeCommand
		case "buckets":
			flagSet = bucketsCommand
		default:
			fmt.Fprintf(os.Stderr, "Error: \"%s\" is not a valid command.\n", os.Args[2])
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, commandUsage+"\n", os.Args[2])
		flagSet.PrintDefaults()
		os.Exit(0)
	}
}

func start(configFile string) {
	var serverConfig YAMLServerConfig

	if err := serverConfig.LoadFromFile(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Unable to load configuration file: %v\n", err)
		os.Exit(1)
	}

	startOptions := node.OptionsFromConfig(serverConfig)

	storageDriver := storage.NewLevelDBStorageDriver(serverConfig.Store, nil)
	cacheNode := node.New(node.ClusterNodeConfig{
		NodeID:        serverConfig.NodeID,
		StorageDriver: storageDriver,
		Server: server.NewServer(server.ServerConfig{
			Host:           serverConfig.Host,
			Port:           serverConfig.Port,
			RequestTimeout: serverConfig.RequestTimeout(),
		}),
		TransferTimeout:   serverConfig.TransferTimeout(),
		TransferChunkSize: serverConfig.TransferChunkSize,
		RaftTickInterval:  serverConfig.RaftTickInterval(),
	})

	if interval := serverConfig.CompactionInterval(); interval > 0 {
		compactor := NewStorageCompactor(storageDriver, interval)

		cacheNode.OnInitialized(compactor.Start)
		defer compactor.Stop()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		Log.Infof("Shutting down node %d", serverConfig.NodeID)
		cacheNode.Stop()
	}()

	if err := cacheNode.Start(startOptions); err != nil {
		Log.Errorf("Node %d stopped: %v", serverConfig.NodeID, err.Error())

		os.Exit(1)
	}
}

func listBuckets(address string, cacheName string, storageNumber uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	apiClient := client.New(client.APIClientConfig{Servers: []string{address}})
	ownership, err := apiClient.Directory(ctx, cacheName, storageNumber)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Unable to get the bucket directory of %s: %v\n", cacheName, err)

		os.Exit(1)
	}

	bucketTable := tablewriter.NewWriter(os.Stdout)
	bucketTable.SetHeader([]string{"Bucket", "Storage", "State", "Owner", "Transfer To"})

	for _, entry := range ownership {
		var transferTo string

		if entry.Transfer != nil {
			transferTo = fmt.Sprintf("%v (storage %d)", entry.Transfer.To, entry.Transfer.DestinationStorage)
		}

		bucketTable.Append([]string{fmt.Sprintf("%d", entry.Bucket), fmt.Sprintf("%d", entry.Storage), entry.State, entry.Owner, transferTo})
	}

	bucketTable.SetFooter([]string{"", "", "", "", fmt.Sprintf("Buckets: %d", len(ownership))})
	bucketTable.Render()

	os.Exit(0)
}
