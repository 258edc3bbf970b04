package protocol

import (
	"time"

	"github.com/fenggwsx/PostBoard/internal/storage"
)

// FrameType discriminates server frames that are not posts.
type FrameType string

const (
	FrameTypeAck FrameType = "ack"
)

const (
	AckStatusOK    = "ok"
	AckStatusError = "error"
)

// Submission is a post as sent by a client. Any client timestamp is ignored.
type Submission struct {
	Username string  `json:"username"`
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url,omitempty"`
}

// PostFrame is a stored post as sent to clients, both for replay and live delivery.
type PostFrame struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	ImageURL  *string   `json:"image_url"`
	Timestamp time.Time `json:"timestamp"`
}

// AckFrame reports the outcome of a submission to its sender only.
type AckFrame struct {
	Type   FrameType `json:"type"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	PostID int64     `json:"post_id,omitempty"`
}

// FromPost converts a stored post to its wire form.
func FromPost(post storage.Post) PostFrame {
	return PostFrame{
		ID:        post.ID,
		Username:  post.Username,
		Content:   post.Content,
		ImageURL:  post.ImageURL,
		Timestamp: post.Timestamp.UTC(),
	}
}

// NewPost converts a validated submission into a store request.
func (s Submission) NewPost() storage.NewPost {
	return storage.NewPost{
		Username: s.Username,
		Content:  s.Content,
		ImageURL: s.ImageURL,
	}
}
