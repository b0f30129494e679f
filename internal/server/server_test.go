package server

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/media"
	"quill/internal/models"
)

const testPassword = "correct horse battery staple"

type sentMail struct {
	To  string
	URL string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, URL: resetURL})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func newTestServer(t *testing.T) (*Server, *fiber.App, *fakeMailer) {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		Port:      "8080",
		SecretKey: "handler-test-secret-key-0123456789",
		BaseURL:   "http://localhost:8080",
		Env:       "test",
		UploadDir: t.TempDir(),
	}

	mailer := &fakeMailer{}
	srv, err := NewWithDeps(cfg, db, nil, mailer)
	require.NoError(t, err)

	return srv, srv.App(), mailer
}

// browser performs requests against the app while carrying cookies forward,
// so multi-step flows behave like a real session.
type browser struct {
	t       *testing.T
	app     *fiber.App
	cookies map[string]string
}

func newBrowser(t *testing.T, app *fiber.App) *browser {
	return &browser{t: t, app: app, cookies: map[string]string{}}
}

func (b *browser) do(req *http.Request) *http.Response {
	b.t.Helper()
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	resp, err := b.app.Test(req, -1)
	require.NoError(b.t, err)
	for _, ck := range resp.Cookies() {
		if ck.MaxAge < 0 {
			delete(b.cookies, ck.Name)
		} else {
			b.cookies[ck.Name] = ck.Value
		}
	}
	return resp
}

func (b *browser) get(path string) *http.Response {
	return b.do(httptest.NewRequest(fiber.MethodGet, path, nil))
}

func (b *browser) postForm(path string, form url.Values) *http.Response {
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	return b.do(req)
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return string(raw)
}

func signup(b *browser, username string) {
	b.t.Helper()
	resp := b.postForm("/register", url.Values{
		"username":         {username},
		"email":            {username + "@example.com"},
		"password":         {testPassword},
		"confirm_password": {testPassword},
	})
	require.Equal(b.t, fiber.StatusSeeOther, resp.StatusCode)
	require.Equal(b.t, "/login", resp.Header.Get("Location"))
}

func login(b *browser, username string) {
	b.t.Helper()
	resp := b.postForm("/login", url.Values{
		"email":    {username + "@example.com"},
		"password": {testPassword},
	})
	require.Equal(b.t, fiber.StatusSeeOther, resp.StatusCode)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRegisterAndLoginFlow(t *testing.T) {
	srv, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	resp := b.get("/register")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Sign Up")

	signup(b, "writer_one")

	// The stored password is a hash, never the plaintext.
	user, err := srv.users.GetByEmail(context.Background(), "writer_one@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.NotEqual(t, testPassword, user.Password)
	assert.True(t, srv.hasher.Verify(user.Password, testPassword))
	assert.Equal(t, media.DefaultAvatar, user.ImageFile)

	// The success flash shows once on the next page and then is gone.
	resp = b.get("/login")
	assert.Contains(t, body(t, resp), "account has been created")
	resp = b.get("/login")
	assert.NotContains(t, body(t, resp), "account has been created")

	// Same username again is refused.
	resp = b.postForm("/register", url.Values{
		"username":         {"writer_one"},
		"email":            {"other@example.com"},
		"password":         {testPassword},
		"confirm_password": {testPassword},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "taken")

	// Wrong password is refused without a redirect.
	resp = b.postForm("/login", url.Values{
		"email":    {"writer_one@example.com"},
		"password": {"not the password"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Login unsuccessful")

	login(b, "writer_one")

	resp = b.get("/account")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "writer_one")
	assert.Contains(t, page, "writer_one@example.com")

	// Logout drops the session.
	resp = b.get("/logout")
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	resp = b.get("/account")
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/login"))
}

func TestRegisterValidationErrors(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	resp := b.postForm("/register", url.Values{
		"username":         {"ab"},
		"email":            {"not-an-email"},
		"password":         {testPassword},
		"confirm_password": {"different"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "at least 3 characters")
	assert.Contains(t, page, "invalid email")
	assert.Contains(t, page, "passwords do not match")
}

func TestRequireAuthRedirectsWithNext(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	resp := b.get("/post/new")
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next="+url.QueryEscape("/post/new"), resp.Header.Get("Location"))

	resp = b.get("/login")
	assert.Contains(t, body(t, resp), "Please log in to access that page")
}

func TestLoginHonorsSafeNextOnly(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")

	creds := url.Values{
		"email":    {"writer_one@example.com"},
		"password": {testPassword},
	}

	resp := b.postForm("/login?next=%2Fpost%2Fnew", creds)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/post/new", resp.Header.Get("Location"))

	b.get("/logout")
	resp = b.postForm("/login?next="+url.QueryEscape("https://evil.example"), creds)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	b.get("/logout")
	resp = b.postForm("/login?next="+url.QueryEscape("//evil.example/path"), creds)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                         "/home",
		"/post/new":                "/post/new",
		"/account?tab=pic":         "/account?tab=pic",
		"//evil.example":           "/home",
		"https://evil.example":     "/home",
		"/\\evil.example":          "/home",
		"relative/path":            "/home",
		"/ok/../path":              "/ok/../path",
		"/line\r\nSet-Cookie: x=1": "/home",
	}
	for input, want := range cases {
		assert.Equal(t, want, safeNext(input), "input %q", input)
	}
}

func TestPostLifecycle(t *testing.T) {
	srv, app, _ := newTestServer(t)
	author := newBrowser(t, app)
	signup(author, "author_one")
	login(author, "author_one")

	// First post, pushed back in time so the second is strictly newer.
	resp := author.postForm("/post/new", url.Values{
		"title":   {"Older Entry"},
		"content": {"the first thing written"},
	})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	require.NoError(t, srv.db.Model(&models.Post{}).
		Where("title = ?", "Older Entry").
		Update("date_posted", time.Now().UTC().Add(-time.Hour)).Error)

	resp = author.postForm("/post/new", url.Values{
		"title":   {"Newer Entry"},
		"content": {"the second thing written"},
	})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	// The newest post leads the feed.
	page := body(t, author.get("/home"))
	assert.Contains(t, page, "has been created")
	newerAt := strings.Index(page, "Newer Entry")
	olderAt := strings.Index(page, "Older Entry")
	require.GreaterOrEqual(t, newerAt, 0)
	require.GreaterOrEqual(t, olderAt, 0)
	assert.Less(t, newerAt, olderAt)

	var post models.Post
	require.NoError(t, srv.db.Where("title = ?", "Newer Entry").First(&post).Error)
	postPath := fmt.Sprintf("/post/%d", post.ID)

	// The author sees mutation controls; a stranger does not.
	page = body(t, author.get(postPath))
	assert.Contains(t, page, "Newer Entry")
	assert.Contains(t, page, "author_one")
	assert.Contains(t, page, "Delete")

	stranger := newBrowser(t, app)
	page = body(t, stranger.get(postPath))
	assert.Contains(t, page, "Newer Entry")
	assert.NotContains(t, page, "Delete")

	// Update by the author.
	resp = author.postForm(postPath+"/update", url.Values{
		"title":   {"Newer Entry, Revised"},
		"content": {"the second thing, rewritten"},
	})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, postPath, resp.Header.Get("Location"))
	page = body(t, author.get(postPath))
	assert.Contains(t, page, "Newer Entry, Revised")
	assert.Contains(t, page, "rewritten")

	// A different logged-in user can view but not modify.
	other := newBrowser(t, app)
	signup(other, "other_user")
	login(other, "other_user")

	resp = other.postForm(postPath+"/update", url.Values{
		"title":   {"Hijacked"},
		"content": {"should never land"},
	})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body(t, resp), "permission")

	resp = other.postForm(postPath+"/delete", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	var unchanged models.Post
	require.NoError(t, srv.db.First(&unchanged, post.ID).Error)
	assert.Equal(t, "Newer Entry, Revised", unchanged.Title)

	// The author deletes it for real.
	resp = author.postForm(postPath+"/delete", nil)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	resp = author.get(postPath)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPostFormValidationRedisplays(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")
	login(b, "writer_one")

	resp := b.postForm("/post/new", url.Values{
		"title":   {""},
		"content": {"body without a title"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "title is required")
	assert.Contains(t, page, "body without a title")
}

func TestShowPostNotFound(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	resp := b.get("/post/9999")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = b.get("/post/not-a-number")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHomePagination(t *testing.T) {
	srv, app, _ := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")

	user, err := srv.users.GetByUsername(context.Background(), "writer_one")
	require.NoError(t, err)

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 7; i++ {
		require.NoError(t, srv.db.Create(&models.Post{
			Title:      fmt.Sprintf("Entry %02d", i),
			Content:    "body",
			DatePosted: base.Add(time.Duration(i) * time.Hour),
			UserID:     user.ID,
		}).Error)
	}

	page := body(t, b.get("/home"))
	assert.Contains(t, page, "Entry 07")
	assert.Contains(t, page, "Entry 03")
	assert.NotContains(t, page, "Entry 02")
	assert.Contains(t, page, "page=2")
	assert.NotContains(t, page, "Previous")

	page = body(t, b.get("/home?page=2"))
	assert.Contains(t, page, "Entry 02")
	assert.Contains(t, page, "Entry 01")
	assert.NotContains(t, page, "Entry 03")
	assert.Contains(t, page, "Previous")
}

func TestUpdateAccount(t *testing.T) {
	srv, app, _ := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")
	login(b, "writer_one")

	resp := b.postForm("/account", url.Values{
		"username": {"renamed_writer"},
		"email":    {"writer_one@example.com"},
	})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/account", resp.Header.Get("Location"))

	page := body(t, b.get("/account"))
	assert.Contains(t, page, "account has been updated")
	assert.Contains(t, page, "renamed_writer")

	user, err := srv.users.GetByEmail(context.Background(), "writer_one@example.com")
	require.NoError(t, err)
	assert.Equal(t, "renamed_writer", user.Username)
}

func TestUpdateAccountRejectsTakenUsername(t *testing.T) {
	_, app, _ := newTestServer(t)

	other := newBrowser(t, app)
	signup(other, "existing_user")

	b := newBrowser(t, app)
	signup(b, "writer_one")
	login(b, "writer_one")

	resp := b.postForm("/account", url.Values{
		"username": {"existing_user"},
		"email":    {"writer_one@example.com"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "taken")
}

func TestUpdateAccountWithPicture(t *testing.T) {
	srv, app, _ := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")
	login(b, "writer_one")

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("username", "writer_one"))
	require.NoError(t, form.WriteField("email", "writer_one@example.com"))
	part, err := form.CreateFormFile("picture", "avatar.png")
	require.NoError(t, err)
	_, err = part.Write(testPNG(t, 300, 300))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(fiber.MethodPost, "/account", &buf)
	req.Header.Set(fiber.HeaderContentType, form.FormDataContentType())
	resp := b.do(req)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)

	user, err := srv.users.GetByEmail(context.Background(), "writer_one@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, media.DefaultAvatar, user.ImageFile)
	assert.True(t, strings.HasSuffix(user.ImageFile, ".jpg"))

	_, err = os.Stat(filepath.Join(srv.avatars.Dir(), user.ImageFile))
	assert.NoError(t, err)

	page := body(t, b.get("/account"))
	assert.Contains(t, page, user.ImageFile)
}

func TestPasswordResetFlow(t *testing.T) {
	srv, app, mailer := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")

	// Unknown email points the visitor at registration.
	resp := b.postForm("/reset_password", url.Values{"email": {"nobody@example.com"}})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/register", resp.Header.Get("Location"))
	assert.Contains(t, body(t, b.get("/register")), "no account with that email")

	// Known email sends a link and confirms over email wording.
	resp = b.postForm("/reset_password", url.Values{"email": {"writer_one@example.com"}})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Contains(t, body(t, b.get("/login")), "email has been sent")

	sent := mailer.last(t)
	assert.Equal(t, "writer_one@example.com", sent.To)
	require.True(t, strings.HasPrefix(sent.URL, "http://localhost:8080/reset_password/"))
	token := strings.TrimPrefix(sent.URL, "http://localhost:8080/reset_password/")

	resp = b.get("/reset_password/" + token)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "New Password")

	// Mismatched confirmation redisplays the form.
	resp = b.postForm("/reset_password/"+token, url.Values{
		"password":         {"fresh new password"},
		"confirm_password": {"something else"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "do not match")

	resp = b.postForm("/reset_password/"+token, url.Values{
		"password":         {"fresh new password"},
		"confirm_password": {"fresh new password"},
	})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Contains(t, body(t, b.get("/login")), "password has been updated")

	// Old password no longer works, the new one does.
	resp = b.postForm("/login", url.Values{
		"email":    {"writer_one@example.com"},
		"password": {testPassword},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = b.postForm("/login", url.Values{
		"email":    {"writer_one@example.com"},
		"password": {"fresh new password"},
	})
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)

	user, err := srv.users.GetByEmail(context.Background(), "writer_one@example.com")
	require.NoError(t, err)
	assert.True(t, srv.hasher.Verify(user.Password, "fresh new password"))
}

func TestPasswordResetRejectsBadToken(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	resp := b.get("/reset_password/garbage-token")
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/reset_password", resp.Header.Get("Location"))
	assert.Contains(t, body(t, b.get("/reset_password")), "invalid or expired token")

	resp = b.postForm("/reset_password/garbage-token", url.Values{
		"password":         {"fresh new password"},
		"confirm_password": {"fresh new password"},
	})
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/reset_password", resp.Header.Get("Location"))
}

func TestPasswordResetRejectsTamperedToken(t *testing.T) {
	srv, app, _ := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")

	user, err := srv.users.GetByUsername(context.Background(), "writer_one")
	require.NoError(t, err)

	token, err := srv.tokens.IssueResetToken(user.ID)
	require.NoError(t, err)

	resp := b.get("/reset_password/" + token + "tampered")
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/reset_password", resp.Header.Get("Location"))
}

func TestPasswordResetRejectsUnknownUserToken(t *testing.T) {
	srv, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	// Validly signed, but no such account exists.
	token, err := srv.tokens.IssueResetToken(4242)
	require.NoError(t, err)

	resp := b.get("/reset_password/" + token)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/reset_password", resp.Header.Get("Location"))
}

func TestLoggedInUserSkipsAuthPages(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)
	signup(b, "writer_one")
	login(b, "writer_one")

	for _, path := range []string{"/login", "/register", "/reset_password"} {
		resp := b.get(path)
		assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode, "GET %s", path)
		assert.Equal(t, "/home", resp.Header.Get("Location"), "GET %s", path)
	}
}

func TestHomeShowsEmptyState(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	resp := b.get("/")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "No posts yet")
}

func TestHealthCheck(t *testing.T) {
	_, app, _ := newTestServer(t)
	b := newBrowser(t, app)

	resp := b.get("/healthz")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), `"status":"ok"`)
}
