package test_data

import (
	"context"

	"stacktrends/pkg/store"
	"stacktrends/pkg/types"
)

// CreateInStore imports numUsers random users and numPosts random posts
// into st and returns them.
func CreateInStore(ctx context.Context, st *store.Store, numUsers, numPosts int) ([]types.User, []types.Post, error) {
	users := MakeUsers(numUsers)
	posts := MakePosts(numPosts, users)
	if err := st.Import(ctx, users, posts); err != nil {
		return nil, nil, err
	}
	return users, posts, nil
}
