package dailyimport

import (
	"github.com/smallbiznis/finledger/internal/dailyimport/fetcher"
	"github.com/smallbiznis/finledger/internal/dailyimport/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dailyimport.service",
	fx.Provide(fetcher.New),
	fx.Provide(service.New),
)
