package application

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uiseongsang/test-code-with-architecture/internal/domain/entity"
)

// memoryUserRepository backs service tests with a map and honors the same
// contract as the postgres implementation: status predicates in the query,
// (nil, nil) on no match.
type memoryUserRepository struct {
	users  map[int64]entity.User
	nextID int64

	saveCalls     int
	activateCalls int
	saveErr       error
	findErr       error

	// runs at the top of RecordLogin so tests can slip a competing write
	// in between a caller's earlier lookup and the login write.
	beforeRecordLogin func()
}

func newMemoryUserRepository() *memoryUserRepository {
	return &memoryUserRepository{users: map[int64]entity.User{}, nextID: 1}
}

func (r *memoryUserRepository) Save(_ context.Context, u *entity.User) (*entity.User, error) {
	r.saveCalls++
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	cp := *u
	cp.ID = r.nextID
	r.nextID++
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = time.Now()
	r.users[cp.ID] = cp
	out := cp
	return &out, nil
}

func (r *memoryUserRepository) Activate(_ context.Context, id int64, certificationCode string) (*entity.User, error) {
	r.activateCalls++
	u, ok := r.users[id]
	if !ok || u.CertificationCode != certificationCode {
		return nil, nil
	}
	u.Status = entity.StatusActive
	u.UpdatedAt = time.Now()
	r.users[id] = u
	cp := u
	return &cp, nil
}

func (r *memoryUserRepository) UpdateProfile(_ context.Context, id int64, address, nickname *string) (*entity.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	if address != nil {
		u.Address = *address
	}
	if nickname != nil {
		u.Nickname = *nickname
	}
	u.UpdatedAt = time.Now()
	r.users[id] = u
	cp := u
	return &cp, nil
}

func (r *memoryUserRepository) RecordLogin(_ context.Context, id int64, at time.Time) (*entity.User, error) {
	if r.beforeRecordLogin != nil {
		r.beforeRecordLogin()
	}
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u.LastLoginAt = &at
	u.UpdatedAt = time.Now()
	r.users[id] = u
	cp := u
	return &cp, nil
}

func (r *memoryUserRepository) FindByID(_ context.Context, id int64) (*entity.User, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	if u, ok := r.users[id]; ok {
		cp := u
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryUserRepository) FindByIDAndStatus(_ context.Context, id int64, status entity.UserStatus) (*entity.User, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	if u, ok := r.users[id]; ok && u.Status == status {
		cp := u
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryUserRepository) FindByEmailAndStatus(_ context.Context, email string, status entity.UserStatus) (*entity.User, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.users {
		if u.Email == email && u.Status == status {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

type recordingNotifier struct {
	calls  int
	emails []string
	codes  []string
	err    error
}

func (n *recordingNotifier) SendVerification(_ context.Context, email, code string) error {
	n.calls++
	n.emails = append(n.emails, email)
	n.codes = append(n.codes, code)
	return n.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(repo *memoryUserRepository, notifier *recordingNotifier) *Service {
	return NewService(repo, notifier, nil, quietLogger(), nil, "")
}

func seedUser(repo *memoryUserRepository, u entity.User) entity.User {
	u.ID = repo.nextID
	repo.nextID++
	repo.users[u.ID] = u
	return u
}

func TestCreateStartsPendingAndNotifiesOnce(t *testing.T) {
	repo := newMemoryUserRepository()
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier)

	u, err := svc.Create(context.Background(), CreateUserInput{
		Email:    "test2@gmail.com",
		Address:  "Daegu",
		Nickname: "Huang",
	})

	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, entity.StatusPending, u.Status)
	assert.NotEmpty(t, u.CertificationCode)

	require.Equal(t, 1, notifier.calls)
	assert.Equal(t, "test2@gmail.com", notifier.emails[0])
	assert.Equal(t, u.CertificationCode, notifier.codes[0])
}

func TestCreateSurvivesNotifierFailure(t *testing.T) {
	repo := newMemoryUserRepository()
	notifier := &recordingNotifier{err: errors.New("broker down")}
	svc := newTestService(repo, notifier)

	u, err := svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Nickname: "a"})

	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, u.Status)
	// record persisted despite dispatch failure
	stored, ferr := repo.FindByID(context.Background(), u.ID)
	require.NoError(t, ferr)
	require.NotNil(t, stored)
}

func TestCreatePropagatesStoreError(t *testing.T) {
	repo := newMemoryUserRepository()
	repo.saveErr = errors.New("duplicate email")
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier)

	_, err := svc.Create(context.Background(), CreateUserInput{Email: "dup@x.com"})

	require.EqualError(t, err, "duplicate email")
	assert.Zero(t, notifier.calls)
}

func TestGetByIDResolvesActiveUser(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test@gmail.com", Nickname: "thomas", Address: "Seoul", Status: entity.StatusActive, CertificationCode: "code-1"})
	svc := newTestService(repo, &recordingNotifier{})

	got, err := svc.GetByID(context.Background(), u.ID)

	require.NoError(t, err)
	assert.Equal(t, "thomas", got.Nickname)
	assert.Equal(t, "test@gmail.com", got.Email)
	assert.Equal(t, "Seoul", got.Address)
}

func TestGetByIDHidesPendingUser(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test1@gmail.com", Status: entity.StatusPending, CertificationCode: "code-2"})
	svc := newTestService(repo, &recordingNotifier{})

	_, err := svc.GetByID(context.Background(), u.ID)

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetByEmailResolvesActiveUser(t *testing.T) {
	repo := newMemoryUserRepository()
	seedUser(repo, entity.User{Email: "test@gmail.com", Nickname: "thomas", Status: entity.StatusActive})
	svc := newTestService(repo, &recordingNotifier{})

	got, err := svc.GetByEmail(context.Background(), "test@gmail.com")

	require.NoError(t, err)
	assert.Equal(t, "thomas", got.Nickname)
}

func TestGetByEmailHidesPendingUser(t *testing.T) {
	repo := newMemoryUserRepository()
	seedUser(repo, entity.User{Email: "test1@gmail.com", Status: entity.StatusPending})
	svc := newTestService(repo, &recordingNotifier{})

	_, err := svc.GetByEmail(context.Background(), "test1@gmail.com")

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyEmailActivatesPendingUser(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test1@gmail.com", Status: entity.StatusPending, CertificationCode: "aaaaaaa-aaaaa-aaaa-aaa-aaaab"})
	svc := newTestService(repo, &recordingNotifier{})

	verified, err := svc.VerifyEmail(context.Background(), u.ID, "aaaaaaa-aaaaa-aaaa-aaa-aaaab")

	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, verified.Status)
	assert.Equal(t, "aaaaaaa-aaaaa-aaaa-aaa-aaaab", verified.CertificationCode)

	// now visible through the gated read path
	got, err := svc.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, got.Status)
}

func TestVerifyEmailRejectsWrongCode(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test1@gmail.com", Status: entity.StatusPending, CertificationCode: "aaaaaaa-aaaaa-aaaa-aaa-aaaab"})
	svc := newTestService(repo, &recordingNotifier{})

	_, err := svc.VerifyEmail(context.Background(), u.ID, "aaaaaaa-aaaaa-aaaa-aaa-aaaaa")

	assert.ErrorIs(t, err, ErrCertificationCodeMismatch)
	stored, _ := repo.FindByID(context.Background(), u.ID)
	assert.Equal(t, entity.StatusPending, stored.Status)
	assert.Equal(t, "aaaaaaa-aaaaa-aaaa-aaa-aaaab", stored.CertificationCode)
}

func TestVerifyEmailUnknownUser(t *testing.T) {
	svc := newTestService(newMemoryUserRepository(), &recordingNotifier{})

	_, err := svc.VerifyEmail(context.Background(), 404, "whatever")

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyEmailIsIdempotentForActiveUser(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test@gmail.com", Status: entity.StatusActive, CertificationCode: "code-1"})
	svc := newTestService(repo, &recordingNotifier{})

	got, err := svc.VerifyEmail(context.Background(), u.ID, "code-1")

	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, got.Status)
	assert.Zero(t, repo.activateCalls, "no write for an already active user")
}

func TestUpdateAppliesOnlySuppliedFields(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test@gmail.com", Nickname: "thomas", Address: "Seoul", Status: entity.StatusActive})
	svc := newTestService(repo, &recordingNotifier{})

	addr := "Gumi"
	got, err := svc.Update(context.Background(), u.ID, UpdateUserInput{Address: &addr})
	require.NoError(t, err)
	assert.Equal(t, "Gumi", got.Address)
	assert.Equal(t, "thomas", got.Nickname)

	nick := "Huang-SW"
	got, err = svc.Update(context.Background(), u.ID, UpdateUserInput{Nickname: &nick})
	require.NoError(t, err)
	assert.Equal(t, "Gumi", got.Address)
	assert.Equal(t, "Huang-SW", got.Nickname)
	assert.Equal(t, "test@gmail.com", got.Email)
}

func TestUpdateTargetsPendingUsersToo(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test1@gmail.com", Nickname: "p", Status: entity.StatusPending})
	svc := newTestService(repo, &recordingNotifier{})

	nick := "renamed"
	got, err := svc.Update(context.Background(), u.ID, UpdateUserInput{Nickname: &nick})

	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Nickname)
	assert.Equal(t, entity.StatusPending, got.Status)
}

func TestUpdateUnknownUser(t *testing.T) {
	svc := newTestService(newMemoryUserRepository(), &recordingNotifier{})

	nick := "x"
	_, err := svc.Update(context.Background(), 404, UpdateUserInput{Nickname: &nick})

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLoginSetsAndAdvancesLastLogin(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test@gmail.com", Status: entity.StatusActive})
	svc := newTestService(repo, &recordingNotifier{})

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return t0 }
	require.NoError(t, svc.Login(context.Background(), u.ID))

	stored, _ := repo.FindByID(context.Background(), u.ID)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, stored.LastLoginAt.Equal(t0))

	t1 := t0.Add(time.Hour)
	svc.Now = func() time.Time { return t1 }
	require.NoError(t, svc.Login(context.Background(), u.ID))

	stored, _ = repo.FindByID(context.Background(), u.ID)
	assert.True(t, stored.LastLoginAt.After(t0))
}

func TestLoginRecordsPendingUsers(t *testing.T) {
	// Deliberate: login attempts are tracked before verification.
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test1@gmail.com", Status: entity.StatusPending})
	svc := newTestService(repo, &recordingNotifier{})

	require.NoError(t, svc.Login(context.Background(), u.ID))

	stored, _ := repo.FindByID(context.Background(), u.ID)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, entity.StatusPending, stored.Status)
}

// recordingTransport captures requests the elasticsearch client makes so
// tests can assert on index writes without a cluster.
type recordingTransport struct {
	paths  []string
	bodies []string
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.paths = append(rt.paths, req.URL.Path)
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		rt.bodies = append(rt.bodies, string(b))
	} else {
		rt.bodies = append(rt.bodies, "")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Elastic-Product": []string{"Elasticsearch"}},
		Body:       io.NopCloser(strings.NewReader(`{}`)),
	}, nil
}

func newRecordingESService(t *testing.T, repo *memoryUserRepository) (*Service, *recordingTransport) {
	t.Helper()
	rt := &recordingTransport{}
	es, err := elasticsearch.NewClient(elasticsearch.Config{Transport: rt})
	require.NoError(t, err)
	svc := newTestService(repo, &recordingNotifier{})
	svc.ES = es
	svc.ESUsersIndex = "users"
	return svc, rt
}

func TestLoginRefreshesSearchDocument(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test@gmail.com", Nickname: "thomas", Status: entity.StatusActive})
	svc, rt := newRecordingESService(t, repo)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return t0 }

	require.NoError(t, svc.Login(context.Background(), u.ID))

	require.NotEmpty(t, rt.paths, "login must rewrite the search document")
	last := len(rt.paths) - 1
	assert.Equal(t, "/users/_doc/1", rt.paths[last])
	assert.Contains(t, rt.bodies[last], `"last_login_at":"2024-03-01T12:00:00Z"`)
}

func TestLoginDoesNotIndexPendingUsers(t *testing.T) {
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test1@gmail.com", Status: entity.StatusPending})
	svc, rt := newRecordingESService(t, repo)

	require.NoError(t, svc.Login(context.Background(), u.ID))

	assert.Empty(t, rt.paths, "unverified accounts stay out of the index")
}

func TestLoginDoesNotRevertConcurrentVerification(t *testing.T) {
	// A verification landing between a login request's arrival and its store
	// write must survive: the login write touches only last_login_at, so the
	// user stays ACTIVE.
	ctx := context.Background()
	repo := newMemoryUserRepository()
	u := seedUser(repo, entity.User{Email: "test1@gmail.com", Status: entity.StatusPending, CertificationCode: "aaaaaaa-aaaaa-aaaa-aaa-aaaab"})
	svc := newTestService(repo, &recordingNotifier{})

	repo.beforeRecordLogin = func() {
		repo.beforeRecordLogin = nil
		_, err := svc.VerifyEmail(ctx, u.ID, "aaaaaaa-aaaaa-aaaa-aaa-aaaab")
		require.NoError(t, err)
	}

	require.NoError(t, svc.Login(ctx, u.ID))

	stored, _ := repo.FindByID(ctx, u.ID)
	assert.Equal(t, entity.StatusActive, stored.Status, "login must not overwrite the status written in between")
	require.NotNil(t, stored.LastLoginAt)
}

func TestLoginUnknownUser(t *testing.T) {
	svc := newTestService(newMemoryUserRepository(), &recordingNotifier{})

	assert.ErrorIs(t, svc.Login(context.Background(), 404), ErrUserNotFound)
}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepository()
	notifier := &recordingNotifier{}
	svc := newTestService(repo, notifier)

	created, err := svc.Create(ctx, CreateUserInput{Email: "a@x.com", Address: "Busan", Nickname: "anna"})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, created.Status)

	_, err = svc.GetByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.VerifyEmail(ctx, created.ID, "definitely-wrong")
	assert.ErrorIs(t, err, ErrCertificationCodeMismatch)
	stored, _ := repo.FindByID(ctx, created.ID)
	assert.Equal(t, entity.StatusPending, stored.Status)

	verified, err := svc.VerifyEmail(ctx, created.ID, created.CertificationCode)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, verified.Status)

	got, err := svc.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "anna", got.Nickname)
	assert.Equal(t, "Busan", got.Address)
}
