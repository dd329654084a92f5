package models

import "net/http"

// TransportBlob is a base64 text rendition of a file
type TransportBlob string

// Len returns the encoded length in bytes
func (b TransportBlob) Len() int {
	return len(b)
}

// AuthContext carries the caller-supplied credentials forwarded upstream
type AuthContext struct {
	Key    string `json:"key,omitempty"`
	Cookie string `json:"-"`
}

// HasCookie reports whether a session token should be sent upstream
func (a AuthContext) HasCookie() bool {
	return a.Cookie != ""
}

// RelayPacket is the upstream delivery envelope. Field names are fixed by the
// receiving system.
type RelayPacket struct {
	Data       TransportBlob `json:"Данные"`
	Key        string        `json:"Ключ"`
	Packet     int           `json:"Пакет"`
	LastPacket int           `json:"ПоследнийПакет"`
}

// NewSinglePacket frames a whole payload as packet 1 of 1
func NewSinglePacket(data TransportBlob, key string) RelayPacket {
	return RelayPacket{
		Data:       data,
		Key:        key,
		Packet:     1,
		LastPacket: 1,
	}
}

// IsFinal reports whether the packet closes the payload
func (p RelayPacket) IsFinal() bool {
	return p.LastPacket == 1
}

// RelayAck is the upstream answer to one packet
type RelayAck struct {
	StatusCode int    `json:"status_code"`
	Reason     string `json:"reason"`
}

// OK reports whether upstream accepted the packet
func (a RelayAck) OK() bool {
	return a.StatusCode >= http.StatusOK && a.StatusCode < http.StatusMultipleChoices
}
