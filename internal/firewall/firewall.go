package firewall

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/FreeProject089/PortManager/internal/model"
)

var ErrUnsupported = errors.New("当前系统不支持防火墙规则管理")

// Manager 防火墙规则的增删，失败由调用方记录，不影响主流程
type Manager interface {
	AddRule(ctx context.Context, name string, port int, proto model.Protocol) error
	RemoveRule(ctx context.Context, name string, port int, proto model.Protocol) error
}

// Runner 执行外部命令并返回合并后的输出
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return out, fmt.Errorf("%s 执行失败: %s", name, msg)
	}
	return out, nil
}

// New 按操作系统选择实现
func New() Manager {
	switch runtime.GOOS {
	case "windows":
		return NewNetsh(execRunner)
	case "linux":
		t, err := NewIptables()
		if err != nil {
			return Unavailable{err: err}
		}
		return t
	default:
		return Unsupported{}
	}
}

type Unsupported struct{}

// Unavailable 系统支持但初始化失败，例如找不到 iptables
type Unavailable struct {
	err error
}

func (u Unavailable) AddRule(context.Context, string, int, model.Protocol) error {
	return fmt.Errorf("%w: %v", ErrUnsupported, u.err)
}

func (u Unavailable) RemoveRule(context.Context, string, int, model.Protocol) error {
	return fmt.Errorf("%w: %v", ErrUnsupported, u.err)
}

func (Unsupported) AddRule(context.Context, string, int, model.Protocol) error {
	return ErrUnsupported
}

func (Unsupported) RemoveRule(context.Context, string, int, model.Protocol) error {
	return ErrUnsupported
}
