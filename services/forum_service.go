package services

import (
	"campus-sync/auth"
	"campus-sync/contract"
	"campus-sync/domain/forum"
	"campus-sync/observability"
	"campus-sync/projection"
	"context"
	"log/slog"
)

type IForumService interface {
	Open(ctx context.Context, postID string) (*projection.PostStore, forum.PostView, error)
}

// ForumService opens post stores for authenticated participants.
type ForumService struct {
	log        *slog.Logger
	reader     contract.PostReader
	feed       contract.ChangeFeed
	monitoring *observability.MonitoringManager
}

func NewForumService(
	log *slog.Logger,
	reader contract.PostReader,
	feed contract.ChangeFeed,
	monitoring *observability.MonitoringManager,
) *ForumService {
	return &ForumService{log: log, reader: reader, feed: feed, monitoring: monitoring}
}

func (s *ForumService) Open(ctx context.Context, postID string) (*projection.PostStore, forum.PostView, error) {
	if err := auth.IdentityFromContext(ctx).Validate(); err != nil {
		return nil, forum.PostView{}, err
	}
	store := projection.NewPostStore(s.log, s.reader, s.feed, s.monitoring)
	view, err := store.Initialize(ctx, postID)
	if err != nil {
		return nil, forum.PostView{}, err
	}
	return store, view, nil
}
