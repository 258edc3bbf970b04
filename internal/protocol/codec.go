package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fenggwsx/PostBoard/internal/storage"
)

// ErrInvalidSubmission marks a client frame that cannot become a post.
var ErrInvalidSubmission = errors.New("invalid submission")

// EncodePost renders a post frame once so it can be fanned out as-is.
func EncodePost(post storage.Post) ([]byte, error) {
	return json.Marshal(FromPost(post))
}

// EncodeAck renders an ack frame.
func EncodeAck(status, reason string, postID int64) ([]byte, error) {
	return json.Marshal(AckFrame{
		Type:   FrameTypeAck,
		Status: status,
		Reason: reason,
		PostID: postID,
	})
}

// DecodeSubmission parses and validates a client frame.
// Errors wrap ErrInvalidSubmission.
func DecodeSubmission(data []byte) (Submission, error) {
	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if strings.TrimSpace(sub.Username) == "" {
		return Submission{}, fmt.Errorf("%w: username required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(sub.Content) == "" {
		return Submission{}, fmt.Errorf("%w: content required", ErrInvalidSubmission)
	}
	return sub, nil
}

// ServerFrame is either a post or an ack received by a client.
type ServerFrame struct {
	Post *PostFrame
	Ack  *AckFrame
}

// DecodeServerFrame classifies a frame on its type field; frames without one are posts.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var envelope struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ServerFrame{}, err
	}
	switch envelope.Type {
	case FrameTypeAck:
		var ack AckFrame
		if err := json.Unmarshal(data, &ack); err != nil {
			return ServerFrame{}, err
		}
		return ServerFrame{Ack: &ack}, nil
	case "":
		var post PostFrame
		if err := json.Unmarshal(data, &post); err != nil {
			return ServerFrame{}, err
		}
		return ServerFrame{Post: &post}, nil
	default:
		return ServerFrame{}, fmt.Errorf("unknown frame type %q", envelope.Type)
	}
}
