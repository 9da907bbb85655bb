package models

import "strconv"

type MessageID uint8

const (
	MessageIDChoke MessageID = iota
	MessageIDUnchoke
	MessageIDInterested
	MessageIDNotInterested
	MessageIDHave
	MessageIDBitfield
	MessageIDRequest
	MessageIDPiece
	MessageIDCancel
)

var messageNames = [...]string{
	MessageIDChoke:         "choke",
	MessageIDUnchoke:       "unchoke",
	MessageIDInterested:    "interested",
	MessageIDNotInterested: "not_interested",
	MessageIDHave:          "have",
	MessageIDBitfield:      "bitfield",
	MessageIDRequest:       "request",
	MessageIDPiece:         "piece",
	MessageIDCancel:        "cancel",
}

func (id MessageID) String() string {
	if int(id) < len(messageNames) {
		return messageNames[id]
	}
	return "unknown(" + strconv.Itoa(int(id)) + ")"
}
