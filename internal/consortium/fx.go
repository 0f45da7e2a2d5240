package consortium

import (
	"github.com/smallbiznis/bigdeal/internal/consortium/repository"
	"github.com/smallbiznis/bigdeal/internal/consortium/service"
	"go.uber.org/fx"
)

var Module = fx.Module("consortium.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
