package recompute

import (
	"github.com/smallbiznis/bigdeal/internal/member"
	"github.com/smallbiznis/bigdeal/internal/recompute/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recompute.service",
	fx.Provide(provideMemberComputer),
	fx.Provide(service.New),
)

func provideMemberComputer(c *member.Computer) service.MemberComputer {
	return c
}
