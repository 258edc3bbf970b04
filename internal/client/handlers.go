package client

import (
	"fmt"
	"strings"

	"github.com/fenggwsx/PostBoard/internal/protocol"
)

func (a *App) handleFrame(frame protocol.ServerFrame) {
	switch {
	case frame.Post != nil:
		a.appendPostLine(formatPost(*frame.Post))
	case frame.Ack != nil:
		a.handleAck(*frame.Ack)
	}
}

func (a *App) handleAck(ack protocol.AckFrame) {
	if ack.Status == protocol.AckStatusOK {
		a.logf("Post #%d published", ack.PostID)
		return
	}
	reason := strings.TrimSpace(ack.Reason)
	if reason == "" {
		reason = "unknown error"
	}
	a.logErrorf("Post rejected: %s", reason)
}

func (a *App) appendPostLine(line string) {
	if line == "" {
		return
	}
	a.posts = append(a.posts, line)
	if len(a.posts) > maxPostLines {
		a.posts = a.posts[len(a.posts)-maxPostLines:]
	}
	if a.view == viewBoard {
		a.updateViewportContent()
	}
}

func formatPost(post protocol.PostFrame) string {
	username := strings.TrimSpace(post.Username)
	if username == "" {
		username = "unknown"
	}
	line := fmt.Sprintf("[#%d %s] %s: %s", post.ID, post.Timestamp.Local().Format("15:04:05"), username, post.Content)
	if post.ImageURL != nil && *post.ImageURL != "" {
		line += " [image " + *post.ImageURL + "]"
	}
	return line
}
