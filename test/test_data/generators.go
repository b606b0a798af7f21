package test_data

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"stacktrends/pkg/types"
)

var Locations = []string{
	"Berlin", "Berlin, Germany", "Paris", "London, UK", "Tokyo", "San Francisco, CA",
	"Bangalore", "São Paulo", "12345", "", "  ", "Earth", "localhost",
}

var Tags = []string{
	"python", "javascript", "java", "c#", "php", "c++", "sql", "go", "rust", "r",
	"asp.net", "node.js", "ruby-on-rails", "objective-c", "swift",
}

var epoch = time.Date(2008, 7, 31, 0, 0, 0, 0, time.UTC)

// UsersIterator sends random users with consecutive ids until it is told to
// stop on controlChannel.
func UsersIterator(usersChannel chan types.User, controlChannel chan struct{}) {
	for id := int64(1); ; id++ {
		user := makeUser(id)
		select {
		case <-controlChannel:
			return
		case usersChannel <- user:
		}
	}
}

// PostsIterator sends random questions owned by users, each followed by a
// random number of answers, until it is told to stop on controlChannel.
func PostsIterator(users []types.User, postsChannel chan types.Post, controlChannel chan struct{}) {
	id := int64(1)
	for {
		question := makePost(id, types.Question, nil, users)
		question.PackedTags = packTags(randomTags())
		id++
		posts := []types.Post{question}
		for i := rand.Intn(3); i > 0; i-- {
			parent := question.ID
			answer := makePost(id, types.Answer, &parent, users)
			answer.CreatedAt = question.CreatedAt.Add(time.Duration(rand.Intn(72)) * time.Hour)
			id++
			posts = append(posts, answer)
		}
		for _, post := range posts {
			select {
			case <-controlChannel:
				return
			case postsChannel <- post:
			}
		}
	}
}

// MakeUsers returns num random users.
func MakeUsers(num int) []types.User {
	usersChannel := make(chan types.User)
	controlChannel := make(chan struct{})
	go UsersIterator(usersChannel, controlChannel)

	users := make([]types.User, 0, num)
	for len(users) < num {
		users = append(users, <-usersChannel)
	}
	close(controlChannel)
	return users
}

// MakePosts returns num random posts owned by users.
func MakePosts(num int, users []types.User) []types.Post {
	postsChannel := make(chan types.Post)
	controlChannel := make(chan struct{})
	go PostsIterator(users, postsChannel, controlChannel)

	posts := make([]types.Post, 0, num)
	for len(posts) < num {
		posts = append(posts, <-postsChannel)
	}
	close(controlChannel)
	return posts
}

func makeUser(id int64) types.User {
	return types.User{
		ID:       id,
		Location: Locations[rand.Intn(len(Locations))],
	}
}

func makePost(id int64, postType types.PostType, parent *int64, users []types.User) types.Post {
	post := types.Post{
		ID:        id,
		Type:      postType,
		ParentID:  parent,
		CreatedAt: epoch.Add(time.Duration(rand.Int63n(int64(10 * 365 * 24 * time.Hour)))).Truncate(time.Millisecond),
	}
	// some posts belong to deleted users
	if len(users) > 0 && rand.Intn(10) > 0 {
		owner := users[rand.Intn(len(users))].ID
		post.OwnerUserID = &owner
	}
	return post
}

func randomTags() []string {
	n := 1 + rand.Intn(5)
	picked := rand.Perm(len(Tags))[:n]
	out := make([]string, n)
	for i, p := range picked {
		out[i] = Tags[p]
	}
	return out
}

func packTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return fmt.Sprintf("<%s>", strings.Join(tags, "><"))
}
