package shared

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
	"io/ioutil"
	"path/filepath"
	"time"

	. "github.com/PelionIoT/devicecache/logging"

	"gopkg.in/yaml.v2"
)

const (
	DefaultTransferTimeoutSeconds = 300
	DefaultTransferChunkSize      = 1000
	DefaultRaftTickMilliseconds   = 100
	// Zero disables periodic compaction
	DefaultCompactionIntervalSeconds = 0
)

type YAMLServerConfig struct {
	NodeID                    uint64    `yaml:"nodeID"`
	Host                      string    `yaml:"host"`
	Port                      int       `yaml:"port"`
	Seed                      *YAMLSeed `yaml:"seed"`
	Store                     string    `yaml:"store"`
	LogLevel                  string    `yaml:"logLevel"`
	TransferTimeoutSeconds    uint64    `yaml:"transferTimeoutSeconds"`
	TransferChunkSize         int       `yaml:"transferChunkSize"`
	RaftTickMilliseconds      uint64    `yaml:"raftTickMilliseconds"`
	CompactionIntervalSeconds uint64    `yaml:"compactionIntervalSeconds"`
	RequestTimeoutSeconds     uint64    `yaml:"requestTimeoutSeconds"`
}

// YAMLSeed names an existing cluster member. A node configured without a
// seed creates a new cluster.
type YAMLSeed struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (ysc *YAMLServerConfig) LoadFromFile(file string) error {
	rawConfig, err := ioutil.ReadFile(file)

	if err != nil {
		return err
	}

	if err := ysc.Load(rawConfig); err != nil {
		return err
	}

	// An empty store path keeps all data in memory
	if len(ysc.Store) != 0 {
		ysc.Store = resolveFilePath(file, ysc.Store)
	}

	return nil
}

// Load parses and validates a YAML encoded configuration and fills in
// defaults for omitted settings
func (ysc *YAMLServerConfig) Load(rawConfig []byte) error {
	if err := yaml.Unmarshal(rawConfig, ysc); err != nil {
		return err
	}

	if ysc.NodeID == 0 {
		return errors.New("nodeID must be a positive integer")
	}

	if len(ysc.Host) == 0 {
		return errors.New("host must name the address other nodes reach this node at")
	}

	if ysc.Port == 0 || !isValidPort(ysc.Port) {
		return errors.New(fmt.Sprintf("%d is an invalid port for the node server", ysc.Port))
	}

	if ysc.Seed != nil {
		if len(ysc.Seed.Host) == 0 {
			return errors.New("The host name is empty for the seed node")
		}

		if ysc.Seed.Port == 0 || !isValidPort(ysc.Seed.Port) {
			return errors.New(fmt.Sprintf("%d is an invalid port to connect to the seed node at %s", ysc.Seed.Port, ysc.Seed.Host))
		}
	}

	if len(ysc.LogLevel) != 0 && !LogLevelIsValid(ysc.LogLevel) {
		return errors.New(fmt.Sprintf("%s is not a valid logLevel", ysc.LogLevel))
	}

	if ysc.TransferChunkSize < 0 {
		return errors.New("transferChunkSize must not be negative")
	}

	if ysc.TransferTimeoutSeconds == 0 {
		ysc.TransferTimeoutSeconds = DefaultTransferTimeoutSeconds
	}

	if ysc.TransferChunkSize == 0 {
		ysc.TransferChunkSize = DefaultTransferChunkSize
	}

	if ysc.RaftTickMilliseconds == 0 {
		ysc.RaftTickMilliseconds = DefaultRaftTickMilliseconds
	}

	if len(ysc.LogLevel) != 0 {
		SetLoggingLevel(ysc.LogLevel)
	}

	return nil
}

func (ysc *YAMLServerConfig) TransferTimeout() time.Duration {
	return time.Second * time.Duration(ysc.TransferTimeoutSeconds)
}

func (ysc *YAMLServerConfig) RaftTickInterval() time.Duration {
	return time.Millisecond * time.Duration(ysc.RaftTickMilliseconds)
}

func (ysc *YAMLServerConfig) CompactionInterval() time.Duration {
	return time.Second * time.Duration(ysc.CompactionIntervalSeconds)
}

func (ysc *YAMLServerConfig) RequestTimeout() time.Duration {
	return time.Second * time.Duration(ysc.RequestTimeoutSeconds)
}

func isValidPort(p int) bool {
	return p >= 0 && p < (1<<16)
}

func resolveFilePath(configFileLocation, file string) string {
	if filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(filepath.Dir(configFileLocation), file)
}
