package router

import (
	userapp "github.com/uiseongsang/test-code-with-architecture/internal/application"
	"github.com/uiseongsang/test-code-with-architecture/internal/container"
	repouser "github.com/uiseongsang/test-code-with-architecture/internal/domain/repository"
	pginfra "github.com/uiseongsang/test-code-with-architecture/internal/infrastructure/postgres"
	handlers "github.com/uiseongsang/test-code-with-architecture/internal/interface/http"
	"github.com/uiseongsang/test-code-with-architecture/internal/router/modules"
	"github.com/uiseongsang/test-code-with-architecture/pkg/mailer"
)

type UserModuleDeps struct {
	Repo    repouser.UserRepository
	Service *userapp.Service
	Handler *handlers.UserHandler
}

func buildUserDeps() UserModuleDeps {
	repo := pginfra.NewUserRepository(container.GetPGPool())
	cfg := container.GetConfig()

	notifier := mailer.NewQueueNotifier(container.GetRabbitPub(), cfg.VerifyEmailURL)

	service := userapp.NewService(
		repo,
		notifier,
		container.GetRedis(),
		container.GetLogger(),
		container.GetES(),
		cfg.ESUsersIndex,
	)

	handler := handlers.NewUserHandler(service, container.GetLogger())

	return UserModuleDeps{
		Repo:    repo,
		Service: service,
		Handler: handler,
	}
}

// InitModules initializes all application modules and registers them with the
// router registry. Called once during startup.
func InitModules(r *Registry) {
	userDeps := buildUserDeps()
	r.Add(modules.NewUserModule(userDeps.Handler))
	r.Add(modules.NewHealthModule(handlers.NewHealthHandler(container.GetPGPool())))
	if container.GetConfig().DebugMetricsEnabled {
		r.Add(modules.NewDebugModule())
	}
}
