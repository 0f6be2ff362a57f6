package verify

import (
	"github.com/launchblocks/creditgate/internal/verify/service"
	"go.uber.org/fx"
)

var Module = fx.Module("verify.service",
	fx.Provide(service.NewService),
)
