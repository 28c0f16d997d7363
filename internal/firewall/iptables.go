package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"

	"github.com/FreeProject089/PortManager/internal/model"
)

const (
	filterTable = "filter"
	inputChain  = "INPUT"
)

// ruleTable go-iptables 中用到的部分
type ruleTable interface {
	Insert(table, chain string, pos int, rulespec ...string) error
	Exists(table, chain string, rulespec ...string) (bool, error)
	Delete(table, chain string, rulespec ...string) error
}

// Iptables 在 INPUT 链顶部插入带注释的 ACCEPT 规则，注释即规则名
type Iptables struct {
	mu    sync.Mutex
	table ruleTable
}

func NewIptables() (*Iptables, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, err
	}
	return &Iptables{table: ipt}, nil
}

func newIptablesWith(table ruleTable) *Iptables {
	return &Iptables{table: table}
}

func rulespec(name string, port int, proto model.Protocol) []string {
	p := strings.ToLower(string(proto))
	return []string{
		"-p", p, "-m", p,
		"--dport", strconv.Itoa(port),
		"-m", "comment", "--comment", name,
		"-j", "ACCEPT",
	}
}

func (t *Iptables) AddRule(ctx context.Context, name string, port int, proto model.Protocol) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.table.Insert(filterTable, inputChain, 1, rulespec(name, port, proto)...)
}

// RemoveRule 删除与添加时完全相同的规则，重复添加的副本一并删除
func (t *Iptables) RemoveRule(ctx context.Context, name string, port int, proto model.Protocol) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	spec := rulespec(name, port, proto)
	removed := 0
	for {
		ok, err := t.table.Exists(filterTable, inputChain, spec...)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := t.table.Delete(filterTable, inputChain, spec...); err != nil {
			return err
		}
		removed++
	}

	if removed == 0 {
		return fmt.Errorf("未找到防火墙规则: %s", name)
	}
	return nil
}
