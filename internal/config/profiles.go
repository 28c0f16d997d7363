package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FreeProject089/PortManager/internal/model"
)

// ProfileSet 导入导出的全部监听器配置
type ProfileSet struct {
	ActiveProfile string
	// Session 上次退出时保存的监听器
	Session  []model.ListenerDescriptor
	Profiles []model.Profile
}

// profileFile 导出文件的格式。版本 1 只有 listeners，导入时视为 Session。
type profileFile struct {
	Version       int                        `yaml:"version"`
	ActiveProfile string                     `yaml:"active_profile,omitempty"`
	Listeners     []model.ListenerDescriptor `yaml:"listeners,omitempty"`
	Profiles      []model.Profile            `yaml:"profiles,omitempty"`
}

const profileVersion = 2

// ExportProfiles 把监听器配置写成 YAML
func ExportProfiles(path string, set ProfileSet) error {
	data, err := yaml.Marshal(profileFile{
		Version:       profileVersion,
		ActiveProfile: set.ActiveProfile,
		Listeners:     set.Session,
		Profiles:      set.Profiles,
	})
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// ImportProfiles 读取导出的配置。协议非法或端口越界的条目、没有名称的配置集会被丢弃。
func ImportProfiles(path string) (ProfileSet, error) {
	var set ProfileSet
	data, err := os.ReadFile(path)
	if err != nil {
		return set, err
	}

	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return set, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if pf.Version > profileVersion {
		return set, fmt.Errorf("不支持的配置版本: %d", pf.Version)
	}

	set.ActiveProfile = strings.TrimSpace(pf.ActiveProfile)
	set.Session = validDescriptors(pf.Listeners)
	for _, p := range pf.Profiles {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			continue
		}
		p.Listeners = validDescriptors(p.Listeners)
		set.Profiles = append(set.Profiles, p)
	}
	return set, nil
}

func validDescriptors(in []model.ListenerDescriptor) []model.ListenerDescriptor {
	out := make([]model.ListenerDescriptor, 0, len(in))
	for _, d := range in {
		proto, err := model.ParseProtocol(string(d.Protocol))
		if err != nil || d.Port < 1 || d.Port > 65535 {
			continue
		}
		d.Protocol = proto
		out = append(out, d)
	}
	return out
}
