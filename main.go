// Copyright 2018 EnMasse authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	_ "go.uber.org/automaxprocs"

	"github.com/EnMasseProject/http-kafka-bridge/core"
)

var (
	flagConfigFile     string
	flagTestConfigFile string
	flagLoglevel       int
	flagPidFile        string
	flagVersion        bool
)

func main() {
	cmd := &cobra.Command{
		Use:   "http-kafka-bridge",
		Short: "HTTP to Kafka protocol bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	cmd.Flags().StringVarP(&flagConfigFile, "config", "c", "", "Use a given configuration file.")
	cmd.Flags().StringVarP(&flagTestConfigFile, "testconfig", "t", "", "Test a given configuration file and exit.")
	cmd.Flags().IntVarP(&flagLoglevel, "loglevel", "l", 1, "Set the loglevel [0-3]. Higher levels produce more messages.")
	cmd.Flags().StringVarP(&flagPidFile, "pidfile", "p", "", "Write the process id into a given file.")
	cmd.Flags().BoolVarP(&flagVersion, "version", "v", false, "Print version information and quit.")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	if flagVersion {
		fmt.Printf("http-kafka-bridge %s\n", GetVersionString())
		return nil
	}

	configureLogging()

	configFile := flagConfigFile
	if flagTestConfigFile != "" {
		configFile = flagTestConfigFile
	}
	if configFile == "" {
		return fmt.Errorf("no configuration file given")
	}

	conf, err := core.ReadConfig(configFile)
	if err != nil {
		return fmt.Errorf("config: %s", err)
	}
	if flagTestConfigFile != "" {
		fmt.Printf("Config: %s parsed as ok.\n", configFile)
		return nil
	}

	if flagPidFile != "" {
		ioutil.WriteFile(flagPidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
	}

	coordinator := NewCoordinator(conf)
	if err := coordinator.Start(); err != nil {
		return err
	}

	coordinator.Run()
	coordinator.Shutdown()
	return nil
}

func configureLogging() {
	logrus.SetFormatter(new(prefixed.TextFormatter))

	switch flagLoglevel {
	case 0:
		logrus.SetLevel(logrus.ErrorLevel)
	case 1:
		logrus.SetLevel(logrus.InfoLevel)
	case 2:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.TraceLevel)
	}
}
