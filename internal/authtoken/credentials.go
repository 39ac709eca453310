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

package authtoken

import "crypto/subtle"

// User is one statically configured credential entry.
type User struct {
	Password string
	Roles    []string
}

// StaticCredentials is the simplest possible credential-check
// collaborator: a fixed, in-memory username/password table. The real
// credential store is explicitly out of scope; this only needs to make
// POST /auth/login runnable end to end.
type StaticCredentials map[string]User

// Authenticate reports the roles for username if password matches,
// comparing in constant time to avoid a timing oracle on the password
// check.
func (c StaticCredentials) Authenticate(username, password string) ([]string, bool) {
	u, ok := c[username]
	if !ok {
		return nil, false
	}
	if subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return nil, false
	}
	return u.Roles, true
}
