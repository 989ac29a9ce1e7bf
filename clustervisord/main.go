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

// Command clustervisord runs a cluster of identical worker processes,
// keeping it at size and restarting it on request.
package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gdamore/clustervisor"
	"github.com/gdamore/clustervisor/rest"
)

var rootCmd = &cobra.Command{
	Use:   "clustervisord [flags] [-- exec args...]",
	Short: "Supervise a cluster of worker processes",
	Long: `Start a cluster of identical worker processes and keep it at size.

The cluster is described by a manifest (JSON, or YAML when the file ends
in .yaml or .yml).  Flags and CLUSTERVISOR_* environment variables
override the manifest.

Example:
  clustervisord -c cluster.yaml
  clustervisord -n 4 -a /run/clustervisor.sock -- ./server --port 8080
`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	f := rootCmd.Flags()
	f.StringP("config", "c", "", "cluster manifest")
	f.StringP("admin", "a", "", "admin address (host:port or socket path)")
	f.IntP("size", "n", 0, "number of workers")
	f.String("exec", "", "worker executable")
	f.Bool("silent", false, "discard worker output")
	f.BoolP("watch", "w", false, "restart the cluster when the executable changes")

	viper.SetEnvPrefix("clustervisor")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(f)
}

// loadConfig merges the manifest with flags and environment.
func loadConfig(args []string) (clustervisor.Config, error) {
	cfg := clustervisor.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		var e error
		if cfg, e = clustervisor.LoadConfig(path); e != nil {
			return cfg, fmt.Errorf("failed to load %s: %w", path, e)
		}
	}
	if viper.IsSet("admin") {
		cfg.Admin = viper.GetString("admin")
	}
	if viper.IsSet("size") {
		cfg.Size = viper.GetInt("size")
	}
	if viper.IsSet("exec") {
		cfg.Exec = viper.GetString("exec")
	}
	if viper.IsSet("silent") {
		cfg.Silent = viper.GetBool("silent")
	}
	if len(args) > 0 {
		cfg.Exec = args[0]
		cfg.Args = args[1:]
	}
	return cfg, cfg.Validate()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, e := loadConfig(args)
	if e != nil {
		return e
	}
	logger := log.New(os.Stderr, "clustervisord: ", log.LstdFlags)
	pmc := clustervisor.NewPrometheusMetricsCollector("")

	var srv *http.Server
	exit := func(code int) {
		if srv != nil {
			// closing the listener also unlinks a unix socket
			srv.Close()
		}
		os.Exit(code)
	}

	sv, e := clustervisor.NewSupervisor(cfg,
		clustervisor.WithLogger(logger),
		clustervisor.WithMetrics(pmc),
		clustervisor.WithExit(exit),
		clustervisor.WithOnMessage(func(id int, msg string) {
			logger.Printf("worker %d: %s", id, msg)
		}))
	if e != nil {
		return e
	}

	if cfg.Admin != "" {
		var lis net.Listener
		if lis, e = rest.Listen(cfg.Admin); e != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Admin, e)
		}
		opts := []rest.HandlerOption{rest.WithGatherer(pmc.Registry())}
		if cfg.AdminUser != "" {
			opts = append(opts, rest.WithBasicAuth(cfg.AdminUser, cfg.AdminPassHash))
		}
		srv = &http.Server{Handler: rest.NewHandler(sv, opts...)}
		go func() {
			if e := srv.Serve(lis); e != nil && !errors.Is(e, http.ErrServerClosed) {
				logger.Printf("Admin server failed: %v", e)
			}
		}()
		logger.Printf("Admin interface on %s", cfg.Admin)
	}

	if cfg.Signals {
		handleSignals(sv, logger)
	}
	if viper.GetBool("watch") {
		w, e := watchExecutable(sv, cfg, logger)
		if e != nil {
			return e
		}
		defer w.Close()
	}

	if e := sv.Start(); e != nil {
		return e
	}
	<-sv.Done()
	return nil
}

// handleSignals maps SIGHUP to a rolling restart, SIGINT to a graceful
// shutdown (a second one forces it), and SIGTERM to an immediate one.
func handleSignals(sv *clustervisor.Supervisor, logger *log.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range sigs {
			var e error
			switch sig {
			case syscall.SIGHUP:
				e = sv.Restart(nil)
			case syscall.SIGINT:
				e = sv.Quit()
			case syscall.SIGTERM:
				e = sv.QuitHard()
			}
			if e != nil {
				logger.Printf("%v: %v", sig, e)
			}
		}
	}()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
