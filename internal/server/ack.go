package server

import (
	"log"

	"github.com/fenggwsx/PostBoard/internal/protocol"
)

func (a *App) sendAck(session *Session, status, reason string, postID int64) {
	frame, err := protocol.EncodeAck(status, reason, postID)
	if err != nil {
		log.Printf("encode ack: %v", err)
		return
	}
	if err := session.reply(frame); err != nil {
		log.Printf("send ack session=%s status=%s err=%v", session.ID(), status, err)
	}
}

func (a *App) ackError(session *Session, reason string) {
	a.sendAck(session, protocol.AckStatusError, reason, 0)
}
