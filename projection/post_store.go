package projection

import (
	"campus-sync/contract"
	"campus-sync/domain/event"
	"campus-sync/domain/forum"
	"campus-sync/errors"
	"campus-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// PostStore holds the view of one forum post and its replies.
type PostStore struct {
	initMu sync.Mutex
	reader contract.PostReader
	*store[forum.PostView]
}

func NewPostStore(
	log *slog.Logger,
	reader contract.PostReader,
	feed contract.ChangeFeed,
	monitoring *observability.MonitoringManager,
) *PostStore {
	s := &PostStore{reader: reader}
	s.store = newStore[forum.PostView](log, feed, monitoring, forum.Topic, mergePostChange)
	return s
}

// Initialize opens the change feed of postID, then reads the post. Replies
// delivered while the read was in flight are merged on top of it. A post
// already followed by a live feed is returned as held.
func (s *PostStore) Initialize(ctx context.Context, postID string) (forum.PostView, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.live(postID) {
		view, _ := s.current()
		return view, nil
	}

	if err := s.prepare(postID); err != nil {
		s.fail()
		return forum.PostView{}, err
	}
	snapshot, err := s.reader.LoadPost(ctx, postID)
	if err != nil {
		s.fail()
		return forum.PostView{}, fmt.Errorf("%w: loading post %s: %v", errors.ErrUnavailable, postID, err)
	}
	if snapshot.ID == "" {
		snapshot.ID = postID
	}
	s.establish(forum.NewPostView(snapshot))
	view, _ := s.current()
	return view, nil
}

func (s *PostStore) Subscribe(onChange func(forum.PostView)) (*Handle[forum.PostView], error) {
	return s.subscribe(onChange)
}

func (s *PostStore) Teardown(h *Handle[forum.PostView]) {
	if h != nil {
		h.Teardown()
	}
}

func (s *PostStore) View() (forum.PostView, bool) {
	return s.current()
}

func (s *PostStore) Stale() bool {
	return s.isStale()
}

func (s *PostStore) Serving() bool {
	return s.serving()
}

func (s *PostStore) Close() {
	s.close()
}

func mergePostChange(view forum.PostView, change event.Change, _ uint64) (forum.PostView, bool, error) {
	evt, err := forum.Decode(change)
	if err != nil {
		return view, false, err
	}
	next, changed := view.Apply(evt)
	return next, changed, nil
}
