package api

// ErrorResponse is the JSON body for failed REST requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CreateRoomResponse is returned when a private room identifier is minted.
type CreateRoomResponse struct {
	ID      string `json:"id"`
	Private bool   `json:"private"`
}

// RoomResponse describes one room's current state.
type RoomResponse struct {
	Room         string `json:"room"`
	Active       bool   `json:"active"`
	Participants int    `json:"participants"`
	Private      bool   `json:"private"`
}
