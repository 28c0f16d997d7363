package model

import "fmt"

// StepOutcome 监听器启动时每个子步骤的结果
type StepOutcome int

const (
	StepSkipped StepOutcome = iota
	StepSucceeded
	StepFailed
)

func (o StepOutcome) String() string {
	switch o {
	case StepSucceeded:
		return "Succeeded"
	case StepFailed:
		return "Failed"
	default:
		return "Skipped"
	}
}

// ListenerDescriptor 持久化的监听器配置，启动时自动恢复
type ListenerDescriptor struct {
	Port             int      `json:"port" yaml:"port"`
	Protocol         Protocol `json:"protocol" yaml:"protocol"`
	FirewallRuleName string   `json:"firewall_rule_name" yaml:"firewall_rule_name"`
	UpnpEnabled      bool     `json:"upnp_enabled" yaml:"upnp_enabled"`
	ForwardOnly      bool     `json:"forward_only" yaml:"forward_only"`
}

// FirewallRuleName 生成确定性的防火墙规则名
func FirewallRuleName(port int, protocol Protocol) string {
	return fmt.Sprintf("PortManager_%d_%s", port, protocol)
}

// DefaultProfileName 没有任何配置集时自动创建
const DefaultProfileName = "Default"

// Profile 一组命名的监听器配置
type Profile struct {
	Name      string               `json:"name" yaml:"name"`
	Listeners []ListenerDescriptor `json:"listeners" yaml:"listeners"`
}
