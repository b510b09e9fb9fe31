package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

type created struct {
	ID string `json:"_id"`
}

// SimulateActivities runs the post, comment, like and follow loops until ctx
// is done.
func (s *EnhancedSimulator) SimulateActivities(ctx context.Context) error {
	s.logger.Info("starting activities")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.everyTick(ctx, s.config.PostFrequency, s.createPost) })
	g.Go(func() error { return s.everyTick(ctx, s.config.CommentFrequency, s.comment) })
	g.Go(func() error { return s.everyTick(ctx, s.config.LikeFrequency, s.likePost) })
	g.Go(func() error { return s.everyTick(ctx, s.config.FollowFrequency, s.follow) })
	return g.Wait()
}

// everyTick gives each user a chance to act once per tick so that, on
// average, each one acts perHour times an hour.
func (s *EnhancedSimulator) everyTick(ctx context.Context, perHour float64, act func(context.Context, *SimulatedUser)) error {
	if perHour <= 0 {
		return nil
	}
	chance := perHour * s.config.TickInterval.Seconds() / 3600
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var batch errgroup.Group
		batch.SetLimit(s.config.Workers)
		for _, user := range s.users {
			if rand.Float64() >= chance {
				continue
			}
			batch.Go(func() error {
				act(ctx, user)
				return nil
			})
		}
		_ = batch.Wait()
	}
}

// popular picks an index in [0, n) skewed toward the front.
func (s *EnhancedSimulator) popular(n int) int {
	if n <= 1 {
		return 0
	}
	zipf := rand.NewZipf(rand.New(rand.NewSource(rand.Int63())), s.config.ZipfS, 1, uint64(n-1))
	return int(zipf.Uint64())
}

func (s *EnhancedSimulator) pickPost() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.posts) == 0 {
		return "", false
	}
	return s.posts[s.popular(len(s.posts))], true
}

func (s *EnhancedSimulator) pickComment() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.comments) == 0 {
		return "", false
	}
	return s.comments[rand.Intn(len(s.comments))], true
}

func (s *EnhancedSimulator) logFailure(ctx context.Context, action string, user *SimulatedUser, err error) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Warn("simulated action failed", "action", action, "username", user.Username, "error", err)
}

func (s *EnhancedSimulator) createPost(ctx context.Context, user *SimulatedUser) {
	user.mu.Lock()
	spaces := append([]string(nil), user.Spaces...)
	user.mu.Unlock()
	if len(spaces) == 0 {
		spaces = s.categories
	}
	category := spaces[rand.Intn(len(spaces))]

	env, err := s.doMultipart(ctx, "/posts", user.Token, map[string]string{
		"title":       fmt.Sprintf("%s study by %s", category, user.Username),
		"description": fmt.Sprintf("Practice sheet %d in %s", rand.Intn(1000), category),
		"categories":  category,
	}, "photos", "sheet.png")
	if err != nil {
		s.logFailure(ctx, "post", user, err)
		return
	}
	var post created
	if err := json.Unmarshal(env.Data.Data, &post); err != nil {
		s.logFailure(ctx, "post", user, err)
		return
	}
	s.mu.Lock()
	s.posts = append(s.posts, post.ID)
	s.mu.Unlock()
	s.stats.bump(&s.stats.TotalPosts)
}

// comment adds a comment, or a reply to an existing comment about a third of the time.
func (s *EnhancedSimulator) comment(ctx context.Context, user *SimulatedUser) {
	if commentID, ok := s.pickComment(); ok && rand.Float64() < 0.3 {
		_, err := s.doJSON(ctx, http.MethodPost, "/comments/"+commentID+"/replies", user.Token, map[string]string{
			"reply": "Thank you, " + user.Username,
		})
		if err != nil {
			s.logFailure(ctx, "reply", user, err)
			return
		}
		s.stats.bump(&s.stats.TotalComments)
		return
	}

	postID, ok := s.pickPost()
	if !ok {
		return
	}
	env, err := s.doJSON(ctx, http.MethodPost, "/posts/"+postID+"/comments", user.Token, map[string]string{
		"comment": "Lovely proportions in this piece",
	})
	if err != nil {
		s.logFailure(ctx, "comment", user, err)
		return
	}
	var c created
	if err := json.Unmarshal(env.Data.Data, &c); err != nil {
		s.logFailure(ctx, "comment", user, err)
		return
	}
	s.mu.Lock()
	s.comments = append(s.comments, c.ID)
	s.mu.Unlock()
	s.stats.bump(&s.stats.TotalComments)
}

func (s *EnhancedSimulator) likePost(ctx context.Context, user *SimulatedUser) {
	postID, ok := s.pickPost()
	if !ok || !user.markLiked(postID) {
		return
	}
	_, err := s.doJSON(ctx, http.MethodPost, "/likedBy/likePost", user.Token, map[string]string{"postId": postID})
	if err != nil && !isStatus(err, http.StatusConflict) {
		s.logFailure(ctx, "like", user, err)
		return
	}
	s.stats.bump(&s.stats.TotalLikes)
}

// follow targets popular users more often than the rest.
func (s *EnhancedSimulator) follow(ctx context.Context, user *SimulatedUser) {
	target := s.users[s.popular(len(s.users))]
	if !user.markFollowing(target.ID) {
		return
	}
	_, err := s.doJSON(ctx, http.MethodPost, "/follow/"+target.ID+"/follow", user.Token, nil)
	if err != nil && !isStatus(err, http.StatusConflict) {
		s.logFailure(ctx, "follow", user, err)
		return
	}
	s.stats.bump(&s.stats.TotalFollows)
}
