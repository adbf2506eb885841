package domain

import "time"

type ReadReceipt struct {
	MessageID    string    `json:"messageId"`
	RoomID       string    `json:"roomId"`
	ReaderHandle string    `json:"readerHandle"`
	ReadAt       time.Time `json:"readAt"`
}

type TypingIndicator struct {
	RoomID    string    `json:"roomId"`
	Handle    string    `json:"handle"`
	StartedAt time.Time `json:"startedAt"`
	Group     bool      `json:"group"`
}
