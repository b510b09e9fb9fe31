package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/config"
	"qalam/internal/database"
	"qalam/internal/media"
	"qalam/internal/models"
	"qalam/internal/utils"
)

type apiResponse struct {
	Status  string `json:"status"`
	Result  *int   `json:"result"`
	Token   string `json:"token"`
	Message string `json:"message"`
	Data    struct {
		Data json.RawMessage `json:"data"`
	} `json:"data"`
}

type harness struct {
	t       *testing.T
	server  *Server
	handler http.Handler
	stores  database.Stores
	media   *media.MemoryStore
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.DefaultConfig(),
		Database: &config.DatabaseConfig{Type: "memory"},
		Auth: &config.AuthConfig{
			JWTSecret:        "test-secret",
			TokenExpiry:      time.Hour,
			CookieExpiryDays: 1,
			Issuer:           "qalam",
		},
		Query:       config.DefaultQueryConfig(),
		Environment: config.EnvDevelopment,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stores := database.NewMemoryStores()
	m := media.NewMemoryStore()
	server := NewServer(testConfig(), stores, Collaborators{Media: m, Logger: utils.DiscardLogger()})
	return &harness{t: t, server: server, handler: server.Routes(), stores: stores, media: m}
}

func (h *harness) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, APIPrefix+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.send(req, token)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func dataObject(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec).Data.Data, &out), rec.Body.String())
	return out
}

func dataList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	resp := decode(t, rec)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data.Data, &out), rec.Body.String())
	require.NotNil(t, resp.Result)
	assert.Equal(t, len(out), *resp.Result)
	return out
}

func ids(items []map[string]any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item["_id"].(string))
	}
	return out
}

// signup registers a user and returns its token and id.
func (h *harness) signup(username string) (string, string) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/users/signup", "", map[string]string{
		"username":        username,
		"email":           username + "@qalam.test",
		"password":        "pass1234",
		"passwordConfirm": "pass1234",
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode(h.t, rec)
	user := dataObject(h.t, rec)
	return resp.Token, user["_id"].(string)
}

func (h *harness) promote(id string) {
	h.t.Helper()
	_, err := h.stores.Users.UpdateOne(context.Background(), bson.M{"_id": id}, bson.M{"$set": bson.M{"role": string(models.RoleAdmin)}})
	require.NoError(h.t, err)
}

func (h *harness) category(name string) {
	h.t.Helper()
	require.NoError(h.t, h.stores.Categories.Insert(context.Background(), &models.Category{
		ID: uuid.NewString(), Name: name, Images: []string{}, CreatedAt: time.Now().UTC(),
	}))
}

type upload struct {
	name        string
	contentType string
}

func multipartBody(t *testing.T, fields map[string]string, field string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.name))
		header.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte("image-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func (h *harness) createPostRequest(token string, fields map[string]string, files ...upload) *httptest.ResponseRecorder {
	h.t.Helper()
	body, contentType := multipartBody(h.t, fields, "photos", files...)
	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/posts", body)
	req.Header.Set("Content-Type", contentType)
	return h.send(req, token)
}

func (h *harness) createPost(token, title, categories, description string) string {
	h.t.Helper()
	rec := h.createPostRequest(token, map[string]string{
		"title": title, "categories": categories, "description": description,
	}, upload{name: "page.jpg", contentType: "image/jpeg"})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return dataObject(h.t, rec)["_id"].(string)
}

func (h *harness) counter(store database.Store, id, field string) int {
	h.t.Helper()
	doc, err := store.FindOne(context.Background(), bson.M{"_id": id}, nil)
	require.NoError(h.t, err)
	switch n := doc[field].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	h.t.Fatalf("%s is %T", field, doc[field])
	return 0
}

func TestSignupLoginAndMe(t *testing.T) {
	h := newHarness(t)
	token, id := h.signup("amina")

	rec := h.do(http.MethodGet, "/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := dataObject(t, rec)
	assert.Equal(t, id, me["_id"])
	assert.Equal(t, "amina", me["username"])
	assert.Equal(t, string(models.RoleStudent), me["role"])
	assert.NotContains(t, me, "password")
	assert.NotContains(t, me, "__v")

	rec = h.do(http.MethodPost, "/users/login", "", map[string]string{"email": "AMINA@qalam.test", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, statusFail, decode(t, rec).Status)

	rec = h.do(http.MethodPost, "/users/login", "", map[string]string{"email": "AMINA@qalam.test", "password": "pass1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec).Token)
	assert.NotContains(t, rec.Body.String(), "pass1234")

	rec = h.do(http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/users/signup", "", map[string]string{
		"username": "amina", "email": "other@qalam.test", "password": "pass1234", "passwordConfirm": "pass1234",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignupRejectsMismatchedPasswords(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/users/signup", "", map[string]string{
		"username": "a1", "email": "a1@qalam.test", "password": "pass1234", "passwordConfirm": "pass9999",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Message, "Passwords do not match")
}

func TestLikeScenario(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	owner, ownerID := h.signup("owner")
	viewer, _ := h.signup("viewer")

	postID := h.createPost(owner, "T", "Naskh", "a study in naskh")
	assert.Equal(t, 1, h.counter(h.stores.Users, ownerID, "posts"))

	get := func() map[string]any {
		rec := h.do(http.MethodGet, "/posts/"+postID, viewer, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return dataObject(t, rec)
	}

	post := get()
	assert.Equal(t, false, post["hasLiked"])
	assert.Equal(t, "owner", post["user"].(map[string]any)["username"])

	rec := h.do(http.MethodPost, "/likedBy/likePost", viewer, map[string]string{"postId": postID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	post = get()
	assert.Equal(t, true, post["hasLiked"])
	assert.EqualValues(t, 1, post["likes"])

	rec = h.do(http.MethodPost, "/likedBy/likePost", viewer, map[string]string{"postId": postID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 1, get()["likes"])

	rec = h.do(http.MethodGet, "/likedBy/getLike?postId="+postID, viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataObject(t, rec)["hasLiked"])

	rec = h.do(http.MethodDelete, "/likedBy/unlikePost", viewer, map[string]string{"postId": postID})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	post = get()
	assert.Equal(t, false, post["hasLiked"])
	assert.EqualValues(t, 0, post["likes"])

	rec = h.do(http.MethodDelete, "/likedBy/unlikePost", viewer, map[string]string{"postId": postID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// nested form takes the target from the path
	rec = h.do(http.MethodPost, "/posts/"+postID+"/likedBy/likePost", owner, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = h.do(http.MethodGet, "/posts/"+postID+"/likedBy", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	likers := dataList(t, rec)
	require.Len(t, likers, 1)
	assert.Equal(t, ownerID, likers[0]["userId"])

	rec = h.do(http.MethodGet, "/likedBy/likedPosts/"+ownerID, viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{postID}, ids(dataList(t, rec)))
}

func TestListEnrichesEveryPostForTheViewer(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	owner, _ := h.signup("owner")
	viewer, _ := h.signup("viewer")
	first := h.createPost(owner, "one", "Naskh", "d")
	second := h.createPost(owner, "two", "Naskh", "d")

	rec := h.do(http.MethodPost, "/likedBy/likePost", viewer, map[string]string{"postId": second})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(http.MethodGet, "/posts", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	liked := map[string]any{}
	for _, p := range dataList(t, rec) {
		liked[p["_id"].(string)] = p["hasLiked"]
	}
	assert.Equal(t, map[string]any{first: false, second: true}, liked)

	rec = h.do(http.MethodGet, "/posts", owner, nil)
	for _, p := range dataList(t, rec) {
		assert.Equal(t, false, p["hasLiked"])
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"Naskh", "Kufic", "Diwani"} {
		h.category(name)
	}
	token, _ := h.signup("writer")
	h.createPost(token, "p1", "Naskh", "Ink on paper")
	h.createPost(token, "p2", "Kufic", "FOOTNOTES in gold")
	h.createPost(token, "p3", "Diwani", "court hand")
	h.createPost(token, "p4", "Naskh", "a foo study")
	h.createPost(token, "p5", "Kufic", "plain")

	rec := h.do(http.MethodGet, "/posts?categories=Naskh,Kufic", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	posts := dataList(t, rec)
	assert.Len(t, posts, 4)
	for _, p := range posts {
		assert.Contains(t, []string{"Naskh", "Kufic"}, p["categories"])
	}

	rec = h.do(http.MethodGet, "/posts?description=foo", token, nil)
	var titles []string
	for _, p := range dataList(t, rec) {
		titles = append(titles, p["title"].(string))
	}
	assert.ElementsMatch(t, []string{"p2", "p4"}, titles)

	rec = h.do(http.MethodGet, "/posts?sort=title&fields=title", token, nil)
	posts = dataList(t, rec)
	require.Len(t, posts, 5)
	assert.Equal(t, "p1", posts[0]["title"])
	assert.NotContains(t, posts[0], "description")

	page := func(query string) []string {
		rec := h.do(http.MethodGet, "/posts?sort=title&"+query, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return ids(dataList(t, rec))
	}
	one, two, both := page("page=1&limit=2"), page("page=2&limit=2"), page("page=1&limit=4")
	assert.Len(t, one, 2)
	assert.Len(t, two, 2)
	assert.NotContains(t, one, two[0])
	assert.NotContains(t, one, two[1])
	assert.Equal(t, both, append(one, two...))

	rec = h.do(http.MethodGet, "/posts?likes[gte]=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/posts/search/GOLD%20court", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	titles = nil
	for _, p := range dataList(t, rec) {
		titles = append(titles, p["title"].(string))
	}
	assert.ElementsMatch(t, []string{"p2", "p3"}, titles)
}

func TestUserSearchIgnoresHiddenFields(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("curious")
	_, victimID := h.signup("victim")

	for _, q := range []string{
		"",
		"?password[gte]=$2a$",
		"?password[gte]=$2a$11",
		"?password[gte]=$3",
		"?password[lt]=$",
		"?password=pass1234",
		"?passwordChangedAt[gt]=2000-01-01",
		"?active=false",
		"?sort=password",
		"?sort=-password,username",
	} {
		rec := h.do(http.MethodGet, "/users/search/victim"+q, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, q)
		users := dataList(t, rec)
		assert.Equal(t, []string{victimID}, ids(users), q)
		for _, u := range users {
			assert.NotContains(t, u, "password", q)
		}
	}
}

func TestListPastTheLastPageIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	token, _ := h.signup("writer")
	h.createPost(token, "p1", "Naskh", "first")
	h.createPost(token, "p2", "Naskh", "second")

	for _, page := range []string{"3", "92233720368547759", "9223372036854775807"} {
		rec := h.do(http.MethodGet, "/posts?limit=100&page="+page, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, page)
		assert.Empty(t, dataList(t, rec), page)
	}

	rec := h.do(http.MethodGet, "/posts?limit=100&page=1", token, nil)
	assert.Len(t, dataList(t, rec), 2)
}

func TestCreatePostValidation(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	token, _ := h.signup("writer")

	rec := h.createPostRequest(token, map[string]string{"title": "t", "categories": "Naskh", "description": "d"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Message, "Post must have a picture")

	rec = h.createPostRequest(token, map[string]string{"title": "t", "categories": "Unknown", "description": "d"},
		upload{name: "a.jpg", contentType: "image/jpeg"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, h.media.Len())

	rec = h.createPostRequest(token, map[string]string{"title": "t", "categories": "Naskh", "description": "d"},
		upload{name: "notes.txt", contentType: "text/plain"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.media.Len())
}

func TestCreatePostUploadFailureCompensates(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	token, userID := h.signup("writer")
	h.media.FailUpload = func(name string) error {
		if name == "b.jpg" {
			return errors.New("image host rejected the file")
		}
		return nil
	}

	rec := h.createPostRequest(token, map[string]string{"title": "t", "categories": "Naskh", "description": "d"},
		upload{name: "a.jpg", contentType: "image/jpeg"}, upload{name: "b.jpg", contentType: "image/jpeg"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, statusError, decode(t, rec).Status)
	assert.Zero(t, h.media.Len())

	n, err := h.stores.Posts.Count(context.Background(), bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 0, h.counter(h.stores.Users, userID, "posts"))
}

func TestPostOwnership(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	h.category("Kufic")
	owner, ownerID := h.signup("owner")
	other, otherID := h.signup("other")
	admin, adminID := h.signup("admin")
	h.promote(adminID)
	postID := h.createPost(owner, "T", "Naskh", "d")
	require.Equal(t, 1, h.media.Len())

	rec := h.do(http.MethodPatch, "/posts/"+postID, other, map[string]string{"title": "stolen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPatch, "/posts/"+postID, owner, map[string]string{"title": "Renamed", "userId": otherID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	post := dataObject(t, rec)
	assert.Equal(t, "Renamed", post["title"])
	assert.Equal(t, ownerID, post["userId"])

	rec = h.do(http.MethodPatch, "/posts/"+postID, owner, map[string]string{"categories": "Missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPatch, "/posts/"+postID, owner, map[string]string{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPatch, "/posts/"+postID, admin, map[string]string{"categories": "Kufic"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Kufic", dataObject(t, rec)["categories"])

	rec = h.do(http.MethodDelete, "/posts/"+postID, other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodDelete, "/posts/"+postID, owner, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, h.media.Len())
	assert.Equal(t, 0, h.counter(h.stores.Users, ownerID, "posts"))

	rec = h.do(http.MethodGet, "/posts/"+postID, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No post found with that ID", decode(t, rec).Message)

	rec = h.do(http.MethodDelete, "/posts/"+postID, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/posts/not-an-id", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid _id: not-an-id", decode(t, rec).Message)
}

func TestCommentsAndReplies(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	owner, _ := h.signup("owner")
	reader, _ := h.signup("reader")
	postID := h.createPost(owner, "T", "Naskh", "d")

	rec := h.do(http.MethodPost, "/posts/"+postID+"/comments", reader, map[string]string{"comment": "beautiful"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	commentID := dataObject(t, rec)["_id"].(string)
	assert.Equal(t, 1, h.counter(h.stores.Posts, postID, "comments"))

	rec = h.do(http.MethodPost, "/posts/"+uuid.NewString()+"/comments", reader, map[string]string{"comment": "lost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/posts/"+postID+"/comments", reader, map[string]string{"comment": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/comments/"+commentID+"/likedBy/likeComment", owner, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(http.MethodGet, "/posts/"+postID+"/comments", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	comments := dataList(t, rec)
	require.Len(t, comments, 1)
	assert.Equal(t, true, comments[0]["hasLiked"])
	assert.EqualValues(t, 1, comments[0]["likes"])
	assert.Equal(t, "reader", comments[0]["user"].(map[string]any)["username"])

	rec = h.do(http.MethodPost, "/comments/"+commentID+"/replies", owner, map[string]string{"reply": "thank you"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	replyID := dataObject(t, rec)["_id"].(string)
	assert.Equal(t, 1, h.counter(h.stores.Comments, commentID, "replyCount"))

	rec = h.do(http.MethodGet, "/comments/"+commentID+"/replies", reader, nil)
	replies := dataList(t, rec)
	require.Len(t, replies, 1)
	assert.Equal(t, false, replies[0]["hasLiked"])

	rec = h.do(http.MethodPatch, "/replies/"+replyID, reader, map[string]string{"reply": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodDelete, "/replies/"+replyID, owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, h.counter(h.stores.Comments, commentID, "replyCount"))

	rec = h.do(http.MethodDelete, "/comments/"+commentID, reader, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, h.counter(h.stores.Posts, postID, "comments"))
}

func TestFollow(t *testing.T) {
	h := newHarness(t)
	a, aID := h.signup("alif")
	_, bID := h.signup("ba")

	rec := h.do(http.MethodPost, "/follow/"+aID+"/follow", a, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "You cannot follow yourself", decode(t, rec).Message)

	rec = h.do(http.MethodPost, "/follow/"+uuid.NewString()+"/follow", a, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/follow/"+bID+"/follow", a, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPost, "/follow/"+bID+"/follow", a, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, 1, h.counter(h.stores.Users, bID, "followers"))
	assert.Equal(t, 1, h.counter(h.stores.Users, aID, "following"))

	rec = h.do(http.MethodGet, "/follow/"+bID+"/followers", a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	followers := dataList(t, rec)
	require.Len(t, followers, 1)
	assert.Equal(t, "alif", followers[0]["follower"].(map[string]any)["username"])

	rec = h.do(http.MethodGet, "/follow/me/followings", a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	followings := dataList(t, rec)
	require.Len(t, followings, 1)
	assert.Equal(t, bID, followings[0]["followingId"])

	rec = h.do(http.MethodDelete, "/follow/"+bID+"/unfollow", a, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodDelete, "/follow/"+bID+"/unfollow", a, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 0, h.counter(h.stores.Users, bID, "followers"))
	assert.Equal(t, 0, h.counter(h.stores.Users, aID, "following"))
}

func TestCategoriesAreAdminManaged(t *testing.T) {
	h := newHarness(t)
	student, _ := h.signup("student")
	admin, adminID := h.signup("admin")
	h.promote(adminID)

	rec := h.do(http.MethodPost, "/categories", student, map[string]string{"name": "Thuluth"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/categories", admin, map[string]string{"name": "Thuluth"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := dataObject(t, rec)["_id"].(string)

	rec = h.do(http.MethodPost, "/categories", admin, map[string]string{"name": "Thuluth"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/categories", admin, map[string]string{"name": "ab"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/categories", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, dataList(t, rec), 1)

	rec = h.do(http.MethodPatch, "/categories/"+id, admin, map[string]string{"name": "Thuluth Jali"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Thuluth Jali", dataObject(t, rec)["name"])

	rec = h.do(http.MethodDelete, "/categories/"+id, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestJoinedSpaces(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	h.category("Kufic")
	token, userID := h.signup("member")
	admin, adminID := h.signup("admin")
	h.promote(adminID)

	rec := h.do(http.MethodPost, "/users/joinSpace", token, map[string]string{"categoryName": "Naskh"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPost, "/users/joinSpace", token, map[string]string{"categoryName": " Naskh "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPost, "/users/joinSpace", token, map[string]string{"categoryName": "Nothing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(http.MethodPost, "/users/joinSpace", token, map[string]string{"categoryName": "Kufic"})
	require.Equal(t, http.StatusOK, rec.Code)

	var spaces []string
	rec = h.do(http.MethodGet, "/users/joinedSpaces", token, nil)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data.Data, &spaces))
	assert.Equal(t, []string{"Naskh", "Kufic"}, spaces)

	_, err := h.stores.Categories.DeleteOne(context.Background(), bson.M{"name": "Kufic"})
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/users/cleanUpJoinedSpaces", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodPost, "/users/cleanUpJoinedSpaces", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := h.stores.Users.FindOne(context.Background(), bson.M{"_id": userID}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Naskh"}, stringsOf(doc["joinedSpaces"]))

	rec = h.do(http.MethodDelete, "/users/unjoinSpace", token, map[string]string{"categoryName": "Naskh"})
	require.Equal(t, http.StatusOK, rec.Code)
	spaces = nil
	require.NoError(t, json.Unmarshal(decode(t, rec).Data.Data, &spaces))
	assert.Empty(t, spaces)
}

func TestUpdateMe(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("writer")

	rec := h.do(http.MethodPatch, "/users/updateMe", token, map[string]string{"password": "newpass123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPatch, "/users/updateMe", token, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPatch, "/users/updateMe", token, map[string]string{"email": "x@qalam.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPatch, "/users/updateMe", token, map[string]string{"bio": "calligrapher", "role": "teacher"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := dataObject(t, rec)
	assert.Equal(t, "calligrapher", user["bio"])
	assert.Equal(t, "teacher", user["role"])
	assert.NotContains(t, user, "password")

	body, contentType := multipartBody(t, map[string]string{"name": "Writer"}, "photo", upload{name: "me.png", contentType: "image/png"})
	req := httptest.NewRequest(http.MethodPatch, APIPrefix+"/users/updateMe", body)
	req.Header.Set("Content-Type", contentType)
	rec = h.send(req, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	photo := dataObject(t, rec)["photo"].(string)
	assert.True(t, h.media.Has(photo))
}

func TestUpdatePasswordAndDeleteMe(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("writer")

	rec := h.do(http.MethodPatch, "/users/updateMyPassword", token, map[string]string{
		"passwordCurrent": "wrong", "password": "newpass123", "passwordConfirm": "newpass123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPatch, "/users/updateMyPassword", token, map[string]string{
		"passwordCurrent": "pass1234", "password": "newpass123", "passwordConfirm": "newpass123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := decode(t, rec).Token
	require.NotEmpty(t, fresh)

	rec = h.do(http.MethodPost, "/users/login", "", map[string]string{"email": "writer@qalam.test", "password": "newpass123"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodDelete, "/users/deleteMe", fresh, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/users/me", fresh, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(http.MethodPost, "/users/login", "", map[string]string{"email": "writer@qalam.test", "password": "newpass123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminUserRoutes(t *testing.T) {
	h := newHarness(t)
	student, studentID := h.signup("student")
	admin, adminID := h.signup("admin")
	h.promote(adminID)

	rec := h.do(http.MethodGet, "/users", student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := dataList(t, rec)
	assert.Len(t, users, 2)
	for _, u := range users {
		assert.NotContains(t, u, "password")
		assert.NotContains(t, u, "active")
	}

	rec = h.do(http.MethodPost, "/users", admin, map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPatch, "/users/"+studentID, admin, map[string]string{"role": "teacher"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "teacher", dataObject(t, rec)["role"])

	rec = h.do(http.MethodGet, "/users/search/STU", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{studentID}, ids(dataList(t, rec)))

	rec = h.do(http.MethodDelete, "/users/"+studentID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodGet, "/users/me", student, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	h := newHarness(t)
	h.category("Naskh")
	owner, _ := h.signup("owner")
	admin, adminID := h.signup("admin")
	h.promote(adminID)
	postID := h.createPost(owner, "T", "Naskh", "d")
	rec := h.do(http.MethodPost, "/likedBy/likePost", admin, map[string]string{"postId": postID})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, h.stores.Posts.Increment(context.Background(), postID, "likes", 5))
	require.Equal(t, 6, h.counter(h.stores.Posts, postID, "likes"))

	rec = h.do(http.MethodPost, "/admin/reconcile?scope=posts", owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/admin/reconcile?scope=posts", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, h.counter(h.stores.Posts, postID, "likes"))

	rec = h.do(http.MethodPost, "/admin/reconcile?scope=everything", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	h := newHarness(t)
	rec := h.send(httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, statusFail, decode(t, rec).Status)
}

func TestResponderHidesInternalErrorsInProduction(t *testing.T) {
	internal := errors.New("connection reset by peer")
	for _, tc := range []struct {
		name        string
		development bool
		err         error
		status      int
		body        ErrorBody
	}{
		{"production internal", false, internal, http.StatusInternalServerError,
			ErrorBody{Status: statusError, Message: "Something went wrong"}},
		{"development internal", true, internal, http.StatusInternalServerError,
			ErrorBody{Status: statusError, Message: internal.Error(), Error: internal.Error()}},
		{"production operational", false, utils.NewNotFoundError("post"), http.StatusNotFound,
			ErrorBody{Status: statusFail, Message: "No post found with that ID"}},
		{"production database", false, utils.NewAppError(utils.ErrDatabase, "insert failed", internal), http.StatusInternalServerError,
			ErrorBody{Status: statusError, Message: "Something went wrong"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rs := &Responder{Logger: utils.DiscardLogger(), Development: tc.development}
			rec := httptest.NewRecorder()
			rs.Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			assert.Equal(t, tc.status, rec.Code)
			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.body, body)
		})
	}
}
