package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by the API.
const (
	PostCreated    = "post.created"
	PostLiked      = "post.liked"
	CommentCreated = "comment.created"
	CommentLiked   = "comment.liked"
	ReplyCreated   = "reply.created"
	ReplyLiked     = "reply.liked"
	UserFollowed   = "user.followed"
)

// Publisher sends domain events. Delivery is best-effort.
type Publisher interface {
	Publish(subject string, event any) error
}

type NATS struct {
	conn *nats.Conn
}

func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("qalam"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) Publish(subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.conn.Publish(subject, payload)
}

// Subscribe delivers the raw payload of every message on subject, which may
// use wildcards such as "post.*".
func (n *NATS) Subscribe(subject string, handler func(subject string, data []byte)) (*nats.Subscription, error) {
	return n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}

func (n *NATS) Close() {
	_ = n.conn.Drain()
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(string, any) error { return nil }

type PostCreatedEvent struct {
	PostID     string    `json:"postId"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Categories string    `json:"categories"`
	Timestamp  time.Time `json:"timestamp"`
}

// LikedEvent is published for post, comment and reply likes.
type LikedEvent struct {
	TargetID  string    `json:"targetId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// ChildCreatedEvent is published when a comment or reply is added.
type ChildCreatedEvent struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type FollowedEvent struct {
	FollowerID  string    `json:"followerId"`
	FollowingID string    `json:"followingId"`
	Timestamp   time.Time `json:"timestamp"`
}
