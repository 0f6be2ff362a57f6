package chain

import (
	chaindomain "github.com/launchblocks/creditgate/internal/chain/domain"
	"github.com/launchblocks/creditgate/internal/chain/ethrpc"
	"github.com/launchblocks/creditgate/internal/config"
	obsmetrics "github.com/launchblocks/creditgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("chain",
	fx.Provide(func(cfg config.Config, log *zap.Logger, m *obsmetrics.Metrics) (chaindomain.Reader, error) {
		return ethrpc.New(cfg.Chain, log, m)
	}),
)
