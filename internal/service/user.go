// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// The service layer is where the avatar flow lives — the one piece of this
// app that actually orchestrates several collaborators (upstream directory,
// record store, file cache) instead of delegating to one.
//
// DEPENDENCY INJECTION:
// UserService takes interfaces (repository.UserRepository,
// directory.ProfileFetcher) where tests need to substitute behaviour, and
// concrete types (filecache.Cache, event.Bus) where the real thing is cheap
// enough to use in tests. The handler never touches the database or the
// upstream; the service never touches HTTP.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/user-directory/internal/apperror"
	"github.com/sakif/user-directory/internal/directory"
	"github.com/sakif/user-directory/internal/event"
	"github.com/sakif/user-directory/internal/filecache"
	"github.com/sakif/user-directory/internal/model"
	"github.com/sakif/user-directory/internal/repository"
)

// UserService handles user records, upstream profile reads, and the avatar
// acquisition flow.
type UserService struct {
	repo      repository.UserRepository
	directory directory.ProfileFetcher
	cache     *filecache.Cache
	bus       *event.Bus // may be nil — creation side effects become no-ops
	logger    *slog.Logger
}

// NewUserService creates a UserService. bus may be nil when notification
// fan-out is disabled (e.g. in tests or when no broker/SMTP is configured).
func NewUserService(
	repo repository.UserRepository,
	dir directory.ProfileFetcher,
	cache *filecache.Cache,
	bus *event.Bus,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		repo:      repo,
		directory: dir,
		cache:     cache,
		bus:       bus,
		logger:    logger,
	}
}

// Create validates and persists a new user record, then emits a UserCreated
// event for the notification fan-out.
//
// VALIDATION BEFORE STORAGE:
// A syntactically invalid email must fail before any store access — the
// handler maps ErrValidation to 422. We use net/mail.ParseAddress and
// additionally require the round-tripped address to equal the input, which
// rejects display-name forms like "Bob <bob@x.com>" that ParseAddress
// would otherwise accept.
//
// NO CHECK-THEN-CREATE:
// We do NOT look the email up first. The repository's unique constraint is
// the single, atomic source of truth; a duplicate comes back as ErrConflict.
//
// FIRE-AND-FORGET SIDE EFFECTS:
// The queue message and welcome email are published as an event AFTER the
// record is committed. Publish never blocks and delivery failures are
// logged by the bus — they can never fail this operation.
func (s *UserService) Create(ctx context.Context, email, name string) (*model.User, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, apperror.ValidationFailed("email", "email must be an email")
	}
	if parsed, err := mail.ParseAddress(email); err != nil || parsed.Address != email {
		return nil, apperror.ValidationFailed("email", "email must be an email")
	}
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}

	user := &model.User{
		Email: email,
		Name:  name,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		slog.String("id", user.ID),
		slog.String("email", user.Email),
	)

	if s.bus != nil {
		payload, err := json.Marshal(user)
		if err != nil {
			// Can't happen for this struct; log and skip the fan-out.
			s.logger.Error("failed to marshal user event", slog.String("error", err.Error()))
			return user, nil
		}
		s.bus.Publish(event.UserCreated{
			Email:   user.Email,
			Payload: payload,
		})
	}

	return user, nil
}

// GetProfile returns the upstream directory's canonical profile for an
// external id. The response is the upstream's data, not our local record.
func (s *UserService) GetProfile(ctx context.Context, externalID string) (*model.Profile, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, apperror.ValidationFailed("id", "id is required")
	}

	return s.directory.FetchProfile(ctx, externalID)
}

// GetAvatar returns the user's avatar image, base64-encoded.
//
// THE ACQUISITION FLOW:
//  1. Fetch the upstream profile (404 there means the user doesn't exist).
//  2. Derive the cache filename from the avatar URL's basename.
//  3. Look up our local record by the upstream id:
//     - no record           → create one linked to the upstream id; download.
//     - stored source URL differs from the profile's avatar URL
//     → update the record; download (upstream changed the image).
//     - fresh metadata + file on disk → serve the cached bytes. No network.
//     - fresh metadata, file missing  → download (cache payload was lost).
//  4. Stream the image into the cache, then read it back.
//
// FRESHNESS BY SOURCE URL:
// The record stores the full upstream URL the cached file came from, and
// step 3 compares URLs — not basenames. If the upstream moves the image to
// a new path that happens to end in the same filename, we still detect the
// change and refresh instead of silently serving stale bytes.
func (s *UserService) GetAvatar(ctx context.Context, externalID string) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", apperror.ValidationFailed("id", "id is required")
	}

	profile, err := s.directory.FetchProfile(ctx, externalID)
	if err != nil {
		return "", err
	}

	filename := profile.AvatarBasename()
	if filename == "" {
		return "", apperror.Download("upstream profile has no avatar")
	}

	download := false

	record, err := s.repo.GetByExternalID(ctx, profile.ID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		// First sighting of this upstream user — create the local record
		// and always (re)download, even if a file with this name exists.
		record = &model.User{
			Email:        profile.Email,
			Name:         profile.FullName(),
			Avatar:       &filename,
			AvatarSource: &profile.Avatar,
			ExternalID:   &profile.ID,
		}
		if err := s.repo.Create(ctx, record); err != nil {
			return "", err
		}
		download = true

	case err != nil:
		return "", err

	case record.AvatarSource == nil || *record.AvatarSource != profile.Avatar:
		// Upstream avatar changed — refresh metadata, then the payload.
		if err := s.repo.UpdateAvatar(ctx, record.ID, filename, profile.Avatar); err != nil {
			return "", err
		}
		download = true

	case s.cache.Exists(filename):
		// Cache hit: metadata is fresh and the payload is on disk.
		s.logger.Debug("avatar cache hit", slog.String("file", filename))
		return s.cache.ReadBase64(filename)

	default:
		// Metadata is fresh but the file vanished — re-download.
		download = true
	}

	if download {
		if err := s.cache.WriteFromURL(ctx, filename, profile.Avatar); err != nil {
			return "", apperror.Download(err.Error())
		}
	}

	return s.cache.ReadBase64(filename)
}

// DeleteAvatar removes the local record for an upstream id and its cached
// avatar file. A subsequent GetAvatar re-creates both from scratch.
//
// The upstream profile is fetched first, so an id the directory has never
// heard of yields the upstream's 404 — same ordering as record deletion
// coming second ("User does not exist" when we have no local record).
func (s *UserService) DeleteAvatar(ctx context.Context, externalID string) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", apperror.ValidationFailed("id", "id is required")
	}

	profile, err := s.directory.FetchProfile(ctx, externalID)
	if err != nil {
		return "", err
	}

	record, err := s.repo.GetByExternalID(ctx, profile.ID)
	if err != nil {
		return "", err
	}

	if err := s.repo.Delete(ctx, record.ID); err != nil {
		return "", err
	}

	// Remove the cached payload: the filename the record points at, falling
	// back to the profile's current basename for records without one.
	filename := profile.AvatarBasename()
	if record.Avatar != nil {
		filename = *record.Avatar
	}
	if filename != "" {
		if err := s.cache.Delete(filename); err != nil {
			return "", fmt.Errorf("deleting cached avatar: %w", err)
		}
	}

	s.logger.Info("user avatar deleted",
		slog.String("id", record.ID),
		slog.String("externalId", externalID),
	)

	return "Deleted successfully", nil
}
