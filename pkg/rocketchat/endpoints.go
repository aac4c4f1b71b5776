// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"net/url"
	"strings"
)

// Resource paths of the Rocket.Chat REST API used by the client.
const (
	PathInfo          = "/api/info"
	PathLogin         = "/api/login"
	PathLogout        = "/api/logout"
	PathJoinedRooms   = "/api/v1/channels.list.joined"
	PathRooms         = "/api/channels/"
	PathPostMessage   = "/api/v1/chat.postMessage"
	PathRoomMessages  = "/api/v1/channels.messages"
	PathCreateChannel = "/api/v1/channels.create"
	PathCreateUser    = "/api/v1/users.create"
	PathUpdateUser    = "/api/v1/user.update"
)

// Endpoints holds every resource URL resolved against one server base URL.
type Endpoints struct {
	Base          string
	Info          string
	Login         string
	Logout        string
	JoinedRooms   string
	PostMessage   string
	RoomMessages  string
	CreateChannel string
	CreateUser    string
	UpdateUser    string

	rooms string
}

// ResolveEndpoints validates serverURL and resolves all resource paths
// against it. Absolute resource paths replace any path of the base URL.
func ResolveEndpoints(serverURL string) (Endpoints, error) {
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return Endpoints{}, &ConfigurationError{URL: serverURL, Reason: "must start with either http:// or https://"}
	}
	base, err := url.Parse(serverURL)
	if err != nil {
		return Endpoints{}, &ConfigurationError{URL: serverURL, Reason: err.Error()}
	}
	if base.Host == "" {
		return Endpoints{}, &ConfigurationError{URL: serverURL, Reason: "missing host"}
	}

	resolve := func(path string) string {
		return base.ResolveReference(&url.URL{Path: path}).String()
	}
	return Endpoints{
		Base:          base.String(),
		Info:          resolve(PathInfo),
		Login:         resolve(PathLogin),
		Logout:        resolve(PathLogout),
		JoinedRooms:   resolve(PathJoinedRooms),
		PostMessage:   resolve(PathPostMessage),
		RoomMessages:  resolve(PathRoomMessages),
		CreateChannel: resolve(PathCreateChannel),
		CreateUser:    resolve(PathCreateUser),
		UpdateUser:    resolve(PathUpdateUser),
		rooms:         resolve(PathRooms),
	}, nil
}

// JoinRoom returns the join URL of the given room.
func (e Endpoints) JoinRoom(roomID string) string {
	return e.rooms + url.PathEscape(roomID) + "/join"
}

// LeaveRoom returns the leave URL of the given room.
func (e Endpoints) LeaveRoom(roomID string) string {
	return e.rooms + url.PathEscape(roomID) + "/leave"
}

// RoomHistory returns the message history URL of the given room.
func (e Endpoints) RoomHistory(roomID string) string {
	return e.RoomMessages + "?" + url.Values{"roomId": {roomID}}.Encode()
}
