package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/sakif/user-directory/internal/apperror"
	"github.com/sakif/user-directory/internal/event"
	"github.com/sakif/user-directory/internal/filecache"
	"github.com/sakif/user-directory/internal/model"
	"github.com/sakif/user-directory/internal/repository"
)

// =========================================================================
// MOCKS
// =========================================================================
//
// The repository and the directory client are mocked; the file cache is the
// real thing on a temp dir, talking to an httptest image server. That keeps
// the mocks small while still exercising real bytes on real disk — the part
// of the avatar flow most worth not faking.

type mockUserRepo struct {
	users       map[string]*model.User // keyed by internal ID
	nextID      int
	createCalls int // counts Create invocations, to prove validation runs first
}

func newMockRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	m.createCalls++
	// Mirror the real store: uniqueness is enforced at create time, atomically.
	for _, u := range m.users {
		if u.Email == user.Email {
			return apperror.Conflict("This email already exist")
		}
		if u.ExternalID != nil && user.ExternalID != nil && *u.ExternalID == *user.ExternalID {
			return apperror.Conflict("This email already exist")
		}
	}
	m.nextID++
	user.ID = fmt.Sprintf("mock-%d", m.nextID)
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			result := *u
			return &result, nil
		}
	}
	return nil, apperror.NotFound("User does not exist")
}

func (m *mockUserRepo) GetByExternalID(_ context.Context, externalID int64) (*model.User, error) {
	for _, u := range m.users {
		if u.ExternalID != nil && *u.ExternalID == externalID {
			result := *u
			return &result, nil
		}
	}
	return nil, apperror.NotFound("User does not exist")
}

func (m *mockUserRepo) UpdateAvatar(_ context.Context, id, filename, source string) error {
	u, ok := m.users[id]
	if !ok {
		return apperror.NotFound("User does not exist")
	}
	u.Avatar = &filename
	u.AvatarSource = &source
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return apperror.NotFound("User does not exist")
	}
	delete(m.users, id)
	return nil
}

type mockDirectory struct {
	profiles map[string]*model.Profile
}

func (m *mockDirectory) FetchProfile(_ context.Context, externalID string) (*model.Profile, error) {
	p, ok := m.profiles[externalID]
	if !ok {
		return nil, apperror.NotFound("User does not exist")
	}
	result := *p
	return &result, nil
}

// =========================================================================
// TEST HARNESS
// =========================================================================

type harness struct {
	svc       *UserService
	repo      *mockUserRepo
	dir       *mockDirectory
	cache     *filecache.Cache
	imgServer *httptest.Server
	downloads *atomic.Int32 // how many times the image was fetched over HTTP
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	var downloads atomic.Int32
	imgServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		// Body depends on the path so changed avatars have changed bytes
		w.Write([]byte("image-bytes:" + r.URL.Path))
	}))
	t.Cleanup(imgServer.Close)

	cache, err := filecache.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("filecache.New(): %v", err)
	}

	repo := newMockRepo()
	dir := &mockDirectory{profiles: make(map[string]*model.Profile)}
	svc := NewUserService(repo, dir, cache, nil, logger)

	return &harness{
		svc:       svc,
		repo:      repo,
		dir:       dir,
		cache:     cache,
		imgServer: imgServer,
		downloads: &downloads,
	}
}

// addProfile registers an upstream profile whose avatar is served by the
// harness image server under avatarPath.
func (h *harness) addProfile(externalID string, id int64, email, first, last, avatarPath string) {
	h.dir.profiles[externalID] = &model.Profile{
		ID:        id,
		Email:     email,
		FirstName: first,
		LastName:  last,
		Avatar:    h.imgServer.URL + avatarPath,
	}
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate_Success(t *testing.T) {
	h := newHarness(t)

	user, err := h.svc.Create(context.Background(), "a@b.com", "A")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("expected user to have an ID")
	}
	if user.Email != "a@b.com" {
		t.Errorf("Email = %q, want %q", user.Email, "a@b.com")
	}
	if user.Name != "A" {
		t.Errorf("Name = %q, want %q", user.Name, "A")
	}
	if user.Avatar != nil || user.ExternalID != nil {
		t.Error("a freshly created record must have no avatar or external id")
	}
}

func TestCreate_TrimsWhitespace(t *testing.T) {
	h := newHarness(t)

	user, err := h.svc.Create(context.Background(), "  a@b.com  ", "  A  ")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if user.Email != "a@b.com" {
		t.Errorf("Email = %q, want trimmed %q", user.Email, "a@b.com")
	}
	if user.Name != "A" {
		t.Errorf("Name = %q, want trimmed %q", user.Name, "A")
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.Create(context.Background(), "dup@b.com", "First"); err != nil {
		t.Fatalf("setup Create(): %v", err)
	}

	// Same email, DIFFERENT name — must still conflict.
	_, err := h.svc.Create(context.Background(), "dup@b.com", "Second")
	if err == nil {
		t.Fatal("Create() should error on duplicate email")
	}
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
	if err.Error() != "This email already exist" {
		t.Errorf("message = %q, want %q", err.Error(), "This email already exist")
	}
}

func TestCreate_InvalidEmail(t *testing.T) {
	h := newHarness(t)

	invalid := []string{"", "not-an-email", "a@", "@b.com", "a b@c.com", "Bob <bob@x.com>"}
	for _, email := range invalid {
		_, err := h.svc.Create(context.Background(), email, "A")
		if err == nil {
			t.Errorf("Create(%q) should error", email)
			continue
		}
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Create(%q) error = %v, want ErrValidation", email, err)
		}
	}

	// Validation must happen BEFORE any store access
	if h.repo.createCalls != 0 {
		t.Errorf("repo.Create called %d times for invalid input, want 0", h.repo.createCalls)
	}
}

func TestCreate_EmptyName(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Create(context.Background(), "a@b.com", "   ")
	if err == nil {
		t.Fatal("Create() should error on empty name")
	}
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestCreate_PublishesUserCreatedEvent(t *testing.T) {
	h := newHarness(t)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := event.New(logger)
	var got atomic.Value
	bus.Subscribe(func(_ context.Context, ev event.UserCreated) error {
		got.Store(ev)
		return nil
	})

	svc := NewUserService(h.repo, h.dir, h.cache, bus, logger)

	if _, err := svc.Create(context.Background(), "evt@b.com", "Evt"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	bus.Close() // waits for delivery

	ev, ok := got.Load().(event.UserCreated)
	if !ok {
		t.Fatal("no UserCreated event was delivered")
	}
	if ev.Email != "evt@b.com" {
		t.Errorf("event Email = %q, want evt@b.com", ev.Email)
	}
	if len(ev.Payload) == 0 {
		t.Error("event payload should carry the serialized user record")
	}
}

// =========================================================================
// GET PROFILE TESTS
// =========================================================================

func TestGetProfile(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	profile, err := h.svc.GetProfile(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if profile.Email != "george.bluth@reqres.in" {
		t.Errorf("Email = %q, want upstream email", profile.Email)
	}
	if profile.FirstName != "George" || profile.LastName != "Bluth" {
		t.Errorf("name = %q %q, want George Bluth", profile.FirstName, profile.LastName)
	}
}

func TestGetProfile_UnknownID(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.GetProfile(context.Background(), "23")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// GET AVATAR TESTS
// =========================================================================

func TestGetAvatar_UnknownUpstreamID(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.GetAvatar(context.Background(), "23")
	if err == nil {
		t.Fatal("GetAvatar() should error for an id the upstream doesn't know")
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetAvatar_FirstFetch_DownloadsAndCreatesRecord(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	b64, err := h.svc.GetAvatar(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetAvatar() error = %v", err)
	}

	if b64 == "" {
		t.Fatal("GetAvatar() returned an empty base64 string")
	}
	if _, err := base64.StdEncoding.DecodeString(b64); err != nil {
		t.Errorf("result is not valid base64: %v", err)
	}
	if h.downloads.Load() != 1 {
		t.Errorf("downloads = %d, want 1", h.downloads.Load())
	}

	// The flow implicitly created a local record linked to the upstream id
	rec, err := h.repo.GetByExternalID(context.Background(), 1)
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.Name != "George Bluth" {
		t.Errorf("record Name = %q, want %q", rec.Name, "George Bluth")
	}
	if rec.Avatar == nil || *rec.Avatar != "1-image.jpg" {
		t.Errorf("record Avatar = %v, want 1-image.jpg", rec.Avatar)
	}
}

func TestGetAvatar_SecondCallIsCacheHit(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	first, err := h.svc.GetAvatar(context.Background(), "1")
	if err != nil {
		t.Fatalf("first GetAvatar(): %v", err)
	}
	second, err := h.svc.GetAvatar(context.Background(), "1")
	if err != nil {
		t.Fatalf("second GetAvatar(): %v", err)
	}

	if first != second {
		t.Error("two calls with an unchanged upstream must return byte-identical base64")
	}
	if h.downloads.Load() != 1 {
		t.Errorf("downloads = %d, want 1 (second call must not hit the network)", h.downloads.Load())
	}
}

func TestGetAvatar_BasenameChange_Redownloads(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	if _, err := h.svc.GetAvatar(context.Background(), "1"); err != nil {
		t.Fatalf("first GetAvatar(): %v", err)
	}

	// Upstream changed the avatar to a new filename
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image-v2.jpg")

	b64, err := h.svc.GetAvatar(context.Background(), "1")
	if err != nil {
		t.Fatalf("second GetAvatar(): %v", err)
	}

	if h.downloads.Load() != 2 {
		t.Errorf("downloads = %d, want exactly 2 (one fresh download)", h.downloads.Load())
	}
	want := base64.StdEncoding.EncodeToString([]byte("image-bytes:/faces/1-image-v2.jpg"))
	if b64 != want {
		t.Error("GetAvatar() did not serve the refreshed image")
	}

	rec, err := h.repo.GetByExternalID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByExternalID(): %v", err)
	}
	if rec.Avatar == nil || *rec.Avatar != "1-image-v2.jpg" {
		t.Errorf("stored filename = %v, want 1-image-v2.jpg", rec.Avatar)
	}
}

func TestGetAvatar_SameBasenameNewPath_Redownloads(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	if _, err := h.svc.GetAvatar(context.Background(), "1"); err != nil {
		t.Fatalf("first GetAvatar(): %v", err)
	}

	// The URL changed but the basename coincides. Freshness is keyed on the
	// full source URL, so this must NOT be served from cache.
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/v2/faces/1-image.jpg")

	b64, err := h.svc.GetAvatar(context.Background(), "1")
	if err != nil {
		t.Fatalf("second GetAvatar(): %v", err)
	}

	if h.downloads.Load() != 2 {
		t.Errorf("downloads = %d, want 2 (URL change must bust the cache)", h.downloads.Load())
	}
	want := base64.StdEncoding.EncodeToString([]byte("image-bytes:/v2/faces/1-image.jpg"))
	if b64 != want {
		t.Error("GetAvatar() served stale bytes after the upstream URL changed")
	}
}

func TestGetAvatar_MissingFileWithFreshMetadata_Redownloads(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	if _, err := h.svc.GetAvatar(context.Background(), "1"); err != nil {
		t.Fatalf("first GetAvatar(): %v", err)
	}

	// Someone removed the cached file behind our back; the DB row is intact.
	if err := h.cache.Delete("1-image.jpg"); err != nil {
		t.Fatalf("cache.Delete(): %v", err)
	}

	if _, err := h.svc.GetAvatar(context.Background(), "1"); err != nil {
		t.Fatalf("second GetAvatar(): %v", err)
	}
	if h.downloads.Load() != 2 {
		t.Errorf("downloads = %d, want 2 (missing payload must re-download)", h.downloads.Load())
	}
}

// =========================================================================
// DELETE AVATAR TESTS
// =========================================================================

func TestDeleteAvatar_NoLocalRecord(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	// Upstream knows the id, but we never fetched the avatar — no record.
	_, err := h.svc.DeleteAvatar(context.Background(), "1")
	if err == nil {
		t.Fatal("DeleteAvatar() should error when no local record exists")
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteAvatar_ThenGetAvatarRedownloads(t *testing.T) {
	h := newHarness(t)
	h.addProfile("1", 1, "george.bluth@reqres.in", "George", "Bluth", "/faces/1-image.jpg")

	if _, err := h.svc.GetAvatar(context.Background(), "1"); err != nil {
		t.Fatalf("GetAvatar(): %v", err)
	}

	msg, err := h.svc.DeleteAvatar(context.Background(), "1")
	if err != nil {
		t.Fatalf("DeleteAvatar() error = %v", err)
	}
	if msg != "Deleted successfully" {
		t.Errorf("message = %q, want %q", msg, "Deleted successfully")
	}

	// Record and file are both gone
	if _, err := h.repo.GetByExternalID(context.Background(), 1); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("record still present after delete: %v", err)
	}
	if h.cache.Exists("1-image.jpg") {
		t.Error("cached file still present after delete")
	}

	// Deleting again → 404
	if _, err := h.svc.DeleteAvatar(context.Background(), "1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}

	// A fresh GetAvatar re-creates record and file
	if _, err := h.svc.GetAvatar(context.Background(), "1"); err != nil {
		t.Fatalf("GetAvatar() after delete: %v", err)
	}
	if h.downloads.Load() != 2 {
		t.Errorf("downloads = %d, want 2 (delete must force a re-download)", h.downloads.Load())
	}
}
