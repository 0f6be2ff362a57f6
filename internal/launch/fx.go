package launch

import (
	"github.com/launchblocks/creditgate/internal/launch/repository"
	"github.com/launchblocks/creditgate/internal/launch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("launch",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
