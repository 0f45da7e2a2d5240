package computed

import (
	"github.com/smallbiznis/bigdeal/internal/computed/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("computed.repository",
	fx.Provide(repository.Provide),
)
