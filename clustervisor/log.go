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

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/context"

	"github.com/gdamore/clustervisor/rest"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the supervisor log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		return printLog(cmd.Context(), client(), os.Stdout, follow)
	},
}

// printLog writes the log records, and if follow is set keeps waiting
// for new ones until ctx is done.
func printLog(ctx context.Context, c *rest.Client, w io.Writer, follow bool) error {
	info, e := c.GetLog()
	if e != nil {
		return e
	}
	var last int64
	for {
		for _, r := range info.Records {
			if r.Id > last {
				fmt.Fprintf(w, "%s %s\n", r.Time.Format(time.StampMilli), r.Text)
				last = r.Id
			}
		}
		if !follow {
			return nil
		}
		if info, e = c.WatchLog(ctx, info); e != nil {
			if ctx.Err() != nil {
				return nil
			}
			return e
		}
	}
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive debug session",
	Long: `Open a debug session.  Debug output from the supervisor is
printed as it happens, and lines typed are sent as commands.
Type help for the list of commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, e := client().DialStream(cmd.Context())
		if e != nil {
			return e
		}
		defer conn.Close()
		return console(conn, os.Stdin, os.Stdout)
	},
}

// console copies lines from in to the session, and messages from the
// session to out, until either side closes.
func console(conn *websocket.Conn, in io.Reader, out io.Writer) error {
	done := make(chan error, 1)
	go func() {
		for {
			_, msg, e := conn.ReadMessage()
			if e != nil {
				done <- e
				return
			}
			fmt.Fprintln(out, strings.TrimRight(string(msg), "\n"))
		}
	}()
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if e := conn.WriteMessage(websocket.TextMessage, scanner.Bytes()); e != nil {
				break
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()
	e := <-done
	if websocket.IsCloseError(e, websocket.CloseNormalClosure) {
		return nil
	}
	return e
}

var hashCmd = &cobra.Command{
	Use:   "hash [password]",
	Short: "Print a bcrypt hash suitable for adminPassHash",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pass string
		if len(args) == 1 {
			pass = args[0]
		} else {
			line, e := bufio.NewReader(os.Stdin).ReadString('\n')
			if e != nil && e != io.EOF {
				return e
			}
			pass = strings.TrimRight(line, "\r\n")
		}
		h, e := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
		if e != nil {
			return e
		}
		fmt.Println(string(h))
		return nil
	},
}
