package repositories

import (
	"campus-sync/domain/forum"
	"campus-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

type IPostRepository interface {
	SavePost(id, title string) error
	AddReply(postID, replyID string) (bool, error)
	DeleteReply(postID, replyID string) (bool, error)
	LoadPost(ctx context.Context, postID string) (forum.PostSnapshot, error)
	ListPosts() ([]forum.PostSnapshot, error)
}

// PostRepository stores forum posts and their reply ids in BadgerDB.
// Replies live under "reply:{post_id}:{reply_id}" so a prefix scan lists
// them sorted.
type PostRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewPostRepository(db *badger.DB, log *slog.Logger) PostRepository {
	return PostRepository{db: db, log: log}
}

func postKey(id string) []byte {
	return []byte("post:" + id)
}

func replyKey(postID, replyID string) []byte {
	return []byte(fmt.Sprintf("reply:%s:%s", postID, replyID))
}

func (r PostRepository) SavePost(id, title string) error {
	bytes, err := encodeRow(map[string]any{"id": id, "title": title})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(postKey(id), bytes)
	})
}

// AddReply reports whether the reply was not known yet.
func (r PostRepository) AddReply(postID, replyID string) (bool, error) {
	added := false
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(postKey(postID)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: post %s", errors.ErrNotFound, postID)
		} else if err != nil {
			return err
		}
		if _, err := txn.Get(replyKey(postID, replyID)); err == nil {
			return nil
		}
		added = true
		return txn.Set(replyKey(postID, replyID), nil)
	})
	return added, err
}

// DeleteReply reports whether the reply existed.
func (r PostRepository) DeleteReply(postID, replyID string) (bool, error) {
	deleted := false
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(replyKey(postID, replyID)); err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		deleted = true
		return txn.Delete(replyKey(postID, replyID))
	})
	return deleted, err
}

func (r PostRepository) LoadPost(ctx context.Context, postID string) (forum.PostSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return forum.PostSnapshot{}, err
	}
	var snapshot forum.PostSnapshot
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		snapshot, err = getPost(txn, postID)
		return err
	})
	return snapshot, err
}

func (r PostRepository) ListPosts() ([]forum.PostSnapshot, error) {
	var posts []forum.PostSnapshot
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("post:")
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()
		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		for _, id := range ids {
			post, err := getPost(txn, id)
			if err != nil {
				return err
			}
			posts = append(posts, post)
		}
		return nil
	})
	return posts, err
}

func getPost(txn *badger.Txn, postID string) (forum.PostSnapshot, error) {
	item, err := txn.Get(postKey(postID))
	if err == badger.ErrKeyNotFound {
		return forum.PostSnapshot{}, fmt.Errorf("%w: post %s", errors.ErrNotFound, postID)
	}
	if err != nil {
		return forum.PostSnapshot{}, err
	}
	var row map[string]any
	err = item.Value(func(value []byte) error {
		row, err = decodeRow(value)
		return err
	})
	if err != nil {
		return forum.PostSnapshot{}, err
	}
	title, _ := row["title"].(string)
	snapshot := forum.PostSnapshot{ID: postID, Title: title}

	prefix := string(replyKey(postID, ""))
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		snapshot.ReplyIDs = append(snapshot.ReplyIDs, strings.TrimPrefix(string(it.Item().Key()), prefix))
	}
	return snapshot, nil
}
