// Package forum holds the synchronized view of a forum post and its replies.
package forum

import (
	"campus-sync/domain/event"
	"campus-sync/errors"
	"fmt"
	"slices"
)

const (
	PostsTable   = "posts"
	RepliesTable = "replies"
)

// PostSnapshot is the result of one bulk read of a post.
type PostSnapshot struct {
	ID       string
	Title    string
	ReplyIDs []string
}

// PostView is immutable, ReplyCount always equals len(ReplyIDs).
type PostView struct {
	ID         string
	Title      string
	ReplyIDs   []string
	ReplyCount int
}

func NewPostView(s PostSnapshot) PostView {
	replies := slices.Clone(s.ReplyIDs)
	slices.Sort(replies)
	replies = slices.Compact(replies)
	return PostView{ID: s.ID, Title: s.Title, ReplyIDs: replies, ReplyCount: len(replies)}
}

type Event interface {
	forumEvent()
}

type ReplyInserted struct {
	PostID  string
	ReplyID string
}

type ReplyDeleted struct {
	PostID  string
	ReplyID string
}

type PostUpdated struct {
	PostID string
	Title  string
}

func (ReplyInserted) forumEvent() {}
func (ReplyDeleted) forumEvent()  {}
func (PostUpdated) forumEvent()   {}

func Topic(postID string) string {
	return "post:" + postID
}

func Decode(c event.Change) (Event, error) {
	switch {
	case c.Table == RepliesTable && (c.Type == event.Insert || c.Type == event.Delete):
		replyID, postID := c.Text("id"), c.Text("post_id")
		if replyID == "" || postID == "" {
			return nil, fmt.Errorf("%w: reply row", errors.ErrInvalidPayload)
		}
		if c.Type == event.Insert {
			return ReplyInserted{PostID: postID, ReplyID: replyID}, nil
		}
		return ReplyDeleted{PostID: postID, ReplyID: replyID}, nil
	case c.Table == PostsTable && c.Type == event.Update:
		postID := c.Text("id")
		if postID == "" {
			return nil, fmt.Errorf("%w: post id", errors.ErrInvalidPayload)
		}
		return PostUpdated{PostID: postID, Title: c.Text("title")}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownChange, c)
	}
}

// Apply merges an event. Inserts and deletes are idempotent under
// at-least-once delivery.
func (v PostView) Apply(e Event) (PostView, bool) {
	switch evt := e.(type) {
	case ReplyInserted:
		if evt.PostID != v.ID {
			return v, false
		}
		at, found := slices.BinarySearch(v.ReplyIDs, evt.ReplyID)
		if found {
			return v, false
		}
		return v.withReplies(slices.Insert(slices.Clone(v.ReplyIDs), at, evt.ReplyID)), true
	case ReplyDeleted:
		if evt.PostID != v.ID {
			return v, false
		}
		at, found := slices.BinarySearch(v.ReplyIDs, evt.ReplyID)
		if !found {
			return v, false
		}
		return v.withReplies(slices.Delete(slices.Clone(v.ReplyIDs), at, at+1)), true
	case PostUpdated:
		if evt.PostID != v.ID || evt.Title == "" || evt.Title == v.Title {
			return v, false
		}
		next := v
		next.Title = evt.Title
		return next, true
	default:
		return v, false
	}
}

func (v PostView) withReplies(replies []string) PostView {
	return PostView{ID: v.ID, Title: v.Title, ReplyIDs: replies, ReplyCount: len(replies)}
}
