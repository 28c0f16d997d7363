package firewall

import (
	"context"
	"strconv"

	"github.com/FreeProject089/PortManager/internal/model"
)

// Netsh 通过 netsh advfirewall 管理入站放行规则，需要管理员权限
type Netsh struct {
	run Runner
}

func NewNetsh(run Runner) *Netsh {
	return &Netsh{run: run}
}

func (n *Netsh) AddRule(ctx context.Context, name string, port int, proto model.Protocol) error {
	_, err := n.run(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
		"name="+name,
		"dir=in",
		"action=allow",
		"protocol="+string(proto),
		"localport="+strconv.Itoa(port),
	)
	return err
}

// RemoveRule 按规则名删除，端口和协议不参与匹配
func (n *Netsh) RemoveRule(ctx context.Context, name string, port int, proto model.Protocol) error {
	_, err := n.run(ctx, "netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)
	return err
}
