package counters

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/cache"
	"qalam/internal/database"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// Rule states that Parent.Field equals the number of Ledger rows whose Ref
// field holds the parent's id.
type Rule struct {
	Scope  string
	Parent database.Store
	Field  string
	Ledger database.Store
	Ref    string
}

func (r Rule) String() string {
	return fmt.Sprintf("%s.%s <- %s.%s", r.Parent.Name(), r.Field, r.Ledger.Name(), r.Ref)
}

const ScopeAll = "all"

// Rules lists every denormalized counter in the system.
func Rules(s database.Stores) []Rule {
	return []Rule{
		{Scope: "posts", Parent: s.Posts, Field: "likes", Ledger: s.PostLikes, Ref: "targetId"},
		{Scope: "posts", Parent: s.Posts, Field: "comments", Ledger: s.Comments, Ref: "postId"},
		{Scope: "comments", Parent: s.Comments, Field: "likes", Ledger: s.CommentLikes, Ref: "targetId"},
		{Scope: "comments", Parent: s.Comments, Field: "replyCount", Ledger: s.Replies, Ref: "commentId"},
		{Scope: "replies", Parent: s.Replies, Field: "likes", Ledger: s.ReplyLikes, Ref: "targetId"},
		{Scope: "users", Parent: s.Users, Field: "followers", Ledger: s.Follows, Ref: "followingId"},
		{Scope: "users", Parent: s.Users, Field: "following", Ledger: s.Follows, Ref: "followerId"},
		{Scope: "users", Parent: s.Users, Field: "posts", Ledger: s.Posts, Ref: "userId"},
	}
}

// Drift is one corrected counter.
type Drift struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Field      string `json:"field"`
	Was        int64  `json:"was"`
	Now        int64  `json:"now"`
}

type Report struct {
	Scope     string        `json:"scope"`
	Checked   int           `json:"checked"`
	Corrected []Drift       `json:"corrected"`
	Duration  time.Duration `json:"duration"`
}

type Reconciler struct {
	Rules  []Rule
	Cache  cache.Cache
	Logger *slog.Logger
}

func NewReconciler(stores database.Stores, c cache.Cache, logger *slog.Logger) *Reconciler {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Rules: Rules(stores), Cache: c, Logger: logger}
}

// Scopes returns the accepted scope names.
func (r *Reconciler) Scopes() []string {
	seen := map[string]bool{}
	scopes := []string{ScopeAll}
	for _, rule := range r.Rules {
		if !seen[rule.Scope] {
			seen[rule.Scope] = true
			scopes = append(scopes, rule.Scope)
		}
	}
	return scopes
}

// Run recomputes the counters of every rule in scope and $sets the drifted
// ones. After a successful run each counter equals its ledger count.
func (r *Reconciler) Run(ctx context.Context, scope string) (*Report, error) {
	if scope == "" {
		scope = ScopeAll
	}
	var rules []Rule
	for _, rule := range r.Rules {
		if scope == ScopeAll || rule.Scope == scope {
			rules = append(rules, rule)
		}
	}
	if len(rules) == 0 {
		return nil, utils.NewInvalidInputError(fmt.Sprintf("Unknown reconcile scope: %s", scope))
	}

	start := time.Now()
	report := &Report{Scope: scope, Corrected: []Drift{}}
	for _, rule := range rules {
		if err := r.apply(ctx, rule, report); err != nil {
			return nil, fmt.Errorf("reconciling %s: %w", rule, err)
		}
	}
	report.Duration = time.Since(start)

	r.Logger.Info("reconciliation finished",
		"scope", scope, "checked", report.Checked, "corrected", len(report.Corrected), "duration", report.Duration)
	return report, nil
}

func (r *Reconciler) apply(ctx context.Context, rule Rule, report *Report) error {
	counts, err := rule.Ledger.CountBy(ctx, rule.Ref)
	if err != nil {
		return err
	}
	parents, err := rule.Parent.Find(ctx, query.Query{Projection: bson.M{"_id": 1, rule.Field: 1}})
	if err != nil {
		return err
	}

	for _, parent := range parents {
		id, _ := parent["_id"].(string)
		if id == "" {
			continue
		}
		report.Checked++
		was := asInt64(parent[rule.Field])
		want := counts[id]
		if was == want {
			continue
		}
		if _, err := rule.Parent.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{rule.Field: want}}); err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				continue // deleted since the scan
			}
			return err
		}
		if err := r.Cache.Delete(ctx, cache.Key(rule.Parent.Name(), id)); err != nil {
			r.Logger.Warn("cache invalidation failed", "collection", rule.Parent.Name(), "id", id, "error", err)
		}
		report.Corrected = append(report.Corrected, Drift{
			Collection: rule.Parent.Name(), ID: id, Field: rule.Field, Was: was, Now: want,
		})
	}
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
