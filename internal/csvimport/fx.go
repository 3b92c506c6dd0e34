package csvimport

import (
	"github.com/smallbiznis/finledger/internal/csvimport/repository"
	"github.com/smallbiznis/finledger/internal/csvimport/service"
	"go.uber.org/fx"
)

var Module = fx.Module("csvimport.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
