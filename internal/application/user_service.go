package application

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/uiseongsang/test-code-with-architecture/internal/domain/entity"
	repo "github.com/uiseongsang/test-code-with-architecture/internal/domain/repository"
)

var (
	ErrUserNotFound              = errors.New("user not found")
	ErrCertificationCodeMismatch = errors.New("certification code mismatch")
)

// Service owns the user lifecycle state machine: creation, email
// verification, status-gated lookups, profile updates and login tracking.
type Service struct {
	Repo         repo.UserRepository
	Notifier     VerificationNotifier
	Redis        *redis.Client
	Logger       *logrus.Logger
	ES           *elasticsearch.Client
	ESUsersIndex string
	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func NewService(repo repo.UserRepository, notifier VerificationNotifier, rdb *redis.Client, logger *logrus.Logger, es *elasticsearch.Client, esUsersIndex string) *Service {
	return &Service{
		Repo:         repo,
		Notifier:     notifier,
		Redis:        rdb,
		Logger:       logger,
		ES:           es,
		ESUsersIndex: esUsersIndex,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func lastLoginKey(id int64) string {
	return "user:lastlogin:" + strconv.FormatInt(id, 10)
}

type CreateUserInput struct {
	Email    string
	Address  string
	Nickname string
}

// Create persists a new PENDING user with a fresh certification code and
// dispatches the verification mail. Dispatch failure does not roll back the
// record; a resend path can recover from a lost mail.
func (s *Service) Create(ctx context.Context, in CreateUserInput) (*entity.User, error) {
	u := &entity.User{
		Email:             in.Email,
		Nickname:          in.Nickname,
		Address:           in.Address,
		Status:            entity.StatusPending,
		CertificationCode: uuid.NewString(),
	}
	saved, err := s.Repo.Save(ctx, u)
	if err != nil {
		return nil, err
	}
	if nErr := s.Notifier.SendVerification(ctx, saved.Email, saved.CertificationCode); nErr != nil && s.Logger != nil {
		s.Logger.WithError(nErr).WithField("user_id", saved.ID).Warn("verification mail dispatch failed")
	}
	return saved, nil
}

// VerifyEmail transitions a user to ACTIVE when the supplied code matches the
// stored one. The lookup is status-agnostic; the code comparison is exact.
// Re-verifying an already ACTIVE user with the correct code is a no-op
// success.
func (s *Service) VerifyEmail(ctx context.Context, id int64, certificationCode string) (*entity.User, error) {
	u, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if certificationCode != u.CertificationCode {
		return nil, ErrCertificationCodeMismatch
	}
	if u.Status == entity.StatusActive {
		return u, nil
	}
	// Conditional single-statement write; the code is immutable, so a zero-row
	// outcome here means the row vanished after the lookup.
	saved, err := s.Repo.Activate(ctx, id, certificationCode)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, ErrUserNotFound
	}
	// Users only become searchable once verified.
	_ = s.indexUser(ctx, saved)
	return saved, nil
}

// GetByID resolves an ACTIVE user. A PENDING record is indistinguishable from
// a missing one.
func (s *Service) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.Repo.FindByIDAndStatus(ctx, id, entity.StatusActive)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// GetByEmail resolves an ACTIVE user by email address.
func (s *Service) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := s.Repo.FindByEmailAndStatus(ctx, email, entity.StatusActive)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

type UpdateUserInput struct {
	Address  *string
	Nickname *string
}

// Update applies only the supplied fields; nil leaves the prior value. Unlike
// the read path it targets records of any status. The write goes through a
// single statement in the store, so it cannot revert a status or login time
// written by a concurrent request.
func (s *Service) Update(ctx context.Context, id int64, in UpdateUserInput) (*entity.User, error) {
	saved, err := s.Repo.UpdateProfile(ctx, id, in.Address, in.Nickname)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, ErrUserNotFound
	}
	if saved.Status == entity.StatusActive {
		_ = s.indexUser(ctx, saved)
	}
	return saved, nil
}

// Login records the login time for a user of any status; login attempts are
// tracked even before verification. LastLoginAt only moves forward. The store
// write touches only last_login_at, so logging in can never undo a
// verification that landed in between.
func (s *Service) Login(ctx context.Context, id int64) error {
	now := s.now()
	u, err := s.Repo.RecordLogin(ctx, id, now)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUserNotFound
	}
	if u.Status == entity.StatusActive {
		// Keep the search document's last_login_at in step with the row.
		_ = s.indexUser(ctx, u)
	}

	if s.Redis != nil {
		key := lastLoginKey(u.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, map[string]any{
			"user_id":       u.ID,
			"email":         u.Email,
			"last_login_at": now.UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, 24*time.Hour)
		if _, rErr := pipe.Exec(ctx); rErr != nil && s.Logger != nil {
			s.Logger.WithError(rErr).WithField("key", key).Warn("redis pipeline failed")
		}
	}
	return nil
}

func (s *Service) indexUser(ctx context.Context, u *entity.User) error {
	if s.ES == nil || s.ESUsersIndex == "" {
		return nil
	}
	doc := map[string]any{
		"id":       u.ID,
		"email":    u.Email,
		"nickname": u.Nickname,
		"address":  u.Address,
		"status":   string(u.Status),
	}
	if u.LastLoginAt != nil {
		doc["last_login_at"] = u.LastLoginAt.Format(time.RFC3339Nano)
	}
	b, _ := json.Marshal(doc)
	req := esapi.IndexRequest{Index: s.ESUsersIndex, DocumentID: strconv.FormatInt(u.ID, 10), Body: strings.NewReader(string(b)), Refresh: "false"}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Warn("es index failed")
		}
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && s.Logger != nil {
		s.Logger.WithField("status", res.Status()).WithField("user_id", u.ID).Warn("es index response error")
	}
	return nil
}

// SearchUsers performs a multi_match search on email and nickname. Only
// verified users are ever indexed, so PENDING accounts stay invisible here
// too.
func (s *Service) SearchUsers(ctx context.Context, q string, size int) ([]map[string]any, error) {
	if s.ES == nil || s.ESUsersIndex == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"email^2", "nickname"},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := s.ES.Search(s.ES.Search.WithContext(c), s.ES.Search.WithIndex(s.ESUsersIndex), s.ES.Search.WithBody(strings.NewReader(string(b))))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
