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

package clustervisor

import (
	"errors"
)

var (
	ErrNoExecutable   = errors.New("No executable for workers")
	ErrIsWorker       = errors.New("Supervisor cannot run inside a worker")
	ErrAlreadyStarted = errors.New("Supervisor already started")
	ErrNotStarted     = errors.New("Supervisor not started")
	ErrStopped        = errors.New("Supervisor stopped")
	ErrRestarting     = errors.New("Restart already in progress")
	ErrTooQuick       = errors.New("Restarting too quickly")
	ErrQuitting       = errors.New("Supervisor is shutting down")
	ErrBadSize        = errors.New("Bad cluster size")
	ErrNoWorker       = errors.New("No such worker")
	ErrBadConfig      = errors.New("Bad configuration")
)
