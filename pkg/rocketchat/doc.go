// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rocketchat implements an authenticated REST session against a
// Rocket.Chat server.
//
// A [Client] is bound to one server base URL. It logs in once with
// [Client.Login], after which the auth token and user id returned by the
// server are attached as X-Auth-Token and X-User-Id headers to every request
// made through the same client. Logging in again replaces the stored
// credentials.
//
// # Errors
//
// Every failure is returned to the immediate caller; the client never
// retries. API failures are reported as one of three types, all of which
// match [ErrAPI] with errors.Is:
//
//   - [ConfigurationError] for a malformed server URL at construction.
//   - [NotAuthenticatedError] when login does not report success.
//   - [RequestFailedError] when a response status does not match the expected
//     one, when a JSON body does not decode, or when the JSON success field
//     is checked and missing.
//
// Only [Client.UpdateUser] checks the JSON success field. JoinRoom,
// LeaveRoom, CreateChannel and CreateUser deliberately obey the HTTP status
// alone.
package rocketchat
