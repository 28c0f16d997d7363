package firewall

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/FreeProject089/PortManager/internal/model"
)

type recorder struct {
	calls  [][]string
	output map[string]string
	fail   bool
}

func (r *recorder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	if r.fail {
		return nil, errors.New("exit status 1")
	}
	return []byte(r.output[strings.Join(call, " ")]), nil
}

func TestNetshAddRule(t *testing.T) {
	rec := &recorder{}
	fw := NewNetsh(rec.run)

	if err := fw.AddRule(context.Background(), "PortManager_8080_TCP", 8080, model.TCP); err != nil {
		t.Fatalf("添加规则失败: %v", err)
	}

	want := []string{"netsh", "advfirewall", "firewall", "add", "rule",
		"name=PortManager_8080_TCP", "dir=in", "action=allow", "protocol=TCP", "localport=8080"}
	if !reflect.DeepEqual(rec.calls[0], want) {
		t.Errorf("期望命令 %v, 实际得到 %v", want, rec.calls[0])
	}
}

func TestNetshRemoveRuleUsesName(t *testing.T) {
	rec := &recorder{}
	fw := NewNetsh(rec.run)

	if err := fw.RemoveRule(context.Background(), "web server", 8080, model.TCP); err != nil {
		t.Fatalf("删除规则失败: %v", err)
	}
	want := []string{"netsh", "advfirewall", "firewall", "delete", "rule", "name=web server"}
	if !reflect.DeepEqual(rec.calls[0], want) {
		t.Errorf("期望命令 %v, 实际得到 %v", want, rec.calls[0])
	}
}

func TestNetshRemoveRuleFailure(t *testing.T) {
	rec := &recorder{fail: true}
	fw := NewNetsh(rec.run)

	if err := fw.RemoveRule(context.Background(), "PortManager_53_UDP", 53, model.UDP); err == nil {
		t.Error("命令失败时应返回错误")
	}
}

// fakeTable 按完整规则匹配，与 iptables -C/-D 的语义一致
type fakeTable struct {
	rules [][]string
}

func (f *fakeTable) Insert(table, chain string, pos int, rulespec ...string) error {
	f.rules = append([][]string{append([]string(nil), rulespec...)}, f.rules...)
	return nil
}

func (f *fakeTable) Exists(table, chain string, rulespec ...string) (bool, error) {
	return f.index(rulespec) >= 0, nil
}

func (f *fakeTable) Delete(table, chain string, rulespec ...string) error {
	i := f.index(rulespec)
	if i < 0 {
		return errors.New("Bad rule (does a matching rule exist in that chain?)")
	}
	f.rules = append(f.rules[:i], f.rules[i+1:]...)
	return nil
}

func (f *fakeTable) index(rulespec []string) int {
	for i, r := range f.rules {
		if reflect.DeepEqual(r, rulespec) {
			return i
		}
	}
	return -1
}

func TestIptablesRoundTrip(t *testing.T) {
	table := &fakeTable{rules: [][]string{{"-p", "tcp", "--dport", "22", "-j", "ACCEPT"}}}
	fw := newIptablesWith(table)

	if err := fw.AddRule(context.Background(), "PortManager_8080_TCP", 8080, model.TCP); err != nil {
		t.Fatalf("添加规则失败: %v", err)
	}
	want := []string{"-p", "tcp", "-m", "tcp", "--dport", "8080",
		"-m", "comment", "--comment", "PortManager_8080_TCP", "-j", "ACCEPT"}
	if len(table.rules) != 2 || !reflect.DeepEqual(table.rules[0], want) {
		t.Fatalf("期望规则 %v 插入在最前, 实际得到 %v", want, table.rules)
	}

	if err := fw.RemoveRule(context.Background(), "PortManager_8080_TCP", 8080, model.TCP); err != nil {
		t.Fatalf("删除规则失败: %v", err)
	}
	if len(table.rules) != 1 || table.rules[0][3] != "22" {
		t.Errorf("只应删除本程序的规则, 实际剩余 %v", table.rules)
	}
}

func TestIptablesRuleNameWithSpaces(t *testing.T) {
	table := &fakeTable{}
	fw := newIptablesWith(table)
	ctx := context.Background()

	fw.AddRule(ctx, "web server", 8080, model.TCP)
	fw.AddRule(ctx, "web server", 8080, model.TCP)
	fw.AddRule(ctx, "web", 8080, model.TCP)

	if err := fw.RemoveRule(ctx, "web server", 8080, model.TCP); err != nil {
		t.Fatalf("删除带空格的规则失败: %v", err)
	}
	if len(table.rules) != 1 || table.rules[0][9] != "web" {
		t.Errorf("期望只剩规则 web, 实际得到 %v", table.rules)
	}
}

func TestIptablesRemoveMissingRule(t *testing.T) {
	fw := newIptablesWith(&fakeTable{})

	if err := fw.RemoveRule(context.Background(), "PortManager_1_TCP", 1, model.TCP); err == nil {
		t.Error("规则不存在时应返回错误")
	}
}

func TestUnsupported(t *testing.T) {
	var fw Manager = Unsupported{}
	if err := fw.AddRule(context.Background(), "x", 1, model.TCP); !errors.Is(err, ErrUnsupported) {
		t.Errorf("期望 ErrUnsupported, 实际得到 %v", err)
	}
}
