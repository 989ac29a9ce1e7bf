// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command clustervisor is the administrative client for clustervisord.
// It uses subcommands.
//
// The flags are
//
//	-a <address>	- the admin address of clustervisord, a host:port,
//			  URL, or unix socket path.  Default is
//			  127.0.0.1:8321, or $CLUSTERVISOR_ADMIN.
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//	info                - show the cluster status
//	workers [<id>]      - list workers, or show one
//	pids|ages|states    - map of worker id to one field
//	resize <n>          - set the number of workers
//	restart             - rolling restart of every worker
//	stop                - graceful shutdown (twice to force)
//	kill [<id>]         - kill the cluster, or just one worker
//	log [-f]            - show (and follow) the supervisor log
//	debug <msg>         - send a message to every debug session
//	console             - interactive debug session
//	hash [<password>]   - bcrypt a password for adminPassHash
//	ui                  - full screen interface (the default)
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gdamore/clustervisor/clustervisor/util"
	"github.com/gdamore/clustervisor/rest"
)

var rootCmd = &cobra.Command{
	Use:          "clustervisor",
	Short:        "Administer a clustervisord instance",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doUI(client())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("admin", "a", "127.0.0.1:8321", "clustervisord admin address")
	pf.StringP("user", "u", "", "user:pass authentication")

	viper.SetEnvPrefix("clustervisor")
	viper.AutomaticEnv()
	viper.BindPFlags(pf)

	logCmd.Flags().BoolP("follow", "f", false, "keep printing new records")

	rootCmd.AddCommand(infoCmd, workersCmd, resizeCmd, restartCmd,
		stopCmd, killCmd, logCmd, debugCmd, consoleCmd, hashCmd, uiCmd)
	for _, field := range []string{"pids", "ages", "states"} {
		rootCmd.AddCommand(selectCmd(field))
	}
}

// client returns a client for the configured server.
func client() *rest.Client {
	c := rest.NewClientForAddr(viper.GetString("admin"))
	if auth := viper.GetString("user"); auth != "" {
		user, pass, _ := strings.Cut(auth, ":")
		c.SetAuth(user, pass)
	}
	return c
}

func printJson(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func showWorker(w *rest.WorkerInfo) {
	fmt.Printf("%6d %8d  %-12s %10s  %v\n", w.Id, w.Pid, util.Status(w),
		util.FormatDuration(w.Age), w.Connected)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the cluster status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		i, e := client().Info()
		if e != nil {
			return e
		}
		fmt.Printf("Id:        %s\n", i.Id)
		fmt.Printf("Pid:       %d\n", i.Pid)
		fmt.Printf("Status:    %s\n", util.Describe(i))
		fmt.Printf("Started:   %v\n", i.CreateTime)
		fmt.Printf("Updated:   %v\n", i.UpdateTime)
		return nil
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers [id]",
	Short: "List workers, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		if len(args) == 1 {
			id, e := strconv.Atoi(args[0])
			if e != nil {
				return fmt.Errorf("bad worker id %q", args[0])
			}
			w, e := c.Worker(id)
			if e != nil {
				return e
			}
			return printJson(w)
		}
		ws, e := c.Workers()
		if e != nil {
			return e
		}
		util.SortWorkers(ws)
		for i := range ws {
			showWorker(&ws[i])
		}
		return nil
	},
}

func selectCmd(field string) *cobra.Command {
	return &cobra.Command{
		Use:   field,
		Short: "Map of worker id to " + strings.TrimSuffix(field, "s"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, e := client().Select(field)
			if e != nil {
				return e
			}
			return printJson(m)
		},
	}
}

var resizeCmd = &cobra.Command{
	Use:   "resize <n>",
	Short: "Set the number of workers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, e := strconv.Atoi(args[0])
		if e != nil {
			return fmt.Errorf("bad size %q", args[0])
		}
		return client().Resize(n)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Replace every worker, one at a time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().Restart()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Shut the cluster down gracefully; a second stop forces it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().Stop()
	},
}

var killCmd = &cobra.Command{
	Use:   "kill [id]",
	Short: "Kill the whole cluster at once, or a single worker",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return client().Kill()
		}
		id, e := strconv.Atoi(args[0])
		if e != nil {
			return fmt.Errorf("bad worker id %q", args[0])
		}
		return client().KillWorker(id)
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug <message>",
	Short: "Send a message to every debug session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().Debug(strings.Join(args, " "))
	},
}

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Full screen interface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doUI(client())
	},
}

func main() {
	if e := rootCmd.Execute(); e != nil {
		var re *rest.Error
		if errors.As(e, &re) && re.Code == 401 {
			fmt.Fprintln(os.Stderr, "Use -u user:pass to authenticate")
		}
		os.Exit(1)
	}
}
