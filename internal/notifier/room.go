/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notifier

import "time"

// room is the Hub's internal bookkeeping for one named room. A room is
// created on first join and removed on last leave.
type room struct {
	name         string
	filters      map[string]interface{}
	members      map[string]*Session
	lastActivity time.Time
}

func newRoom(name string, filters map[string]interface{}, now time.Time) *room {
	return &room{
		name:         name,
		filters:      filters,
		members:      make(map[string]*Session),
		lastActivity: now,
	}
}
