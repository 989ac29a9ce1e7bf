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

// Package clustervisor keeps a cluster of identical worker processes
// running.  It is similar in spirit to the cluster facilities found in
// some application servers, but the workers here are ordinary processes
// started from an executable, and the supervisor is a library that can
// be embedded or run as clustervisord.
//
// A Supervisor holds the cluster at a target size.  Workers that exit
// are replaced, and the cluster can be resized, restarted one worker at
// a time (without ever dropping below size), or shut down.  Workers that
// keep dying young trip a circuit breaker, which stops the supervisor
// rather than spinning forever.
//
// Each worker gets a control channel on file descriptors 3 and 4.  The
// worker package implements the worker's side of it: a worker announces
// that it is listening, may send messages, and is asked to disconnect
// when it should wind down.  A worker that does not exit on its own
// after disconnecting is killed after a grace period.
//
// The rest package exposes a Supervisor over HTTP, including long polls
// for changes and a websocket debug console.
package clustervisor
