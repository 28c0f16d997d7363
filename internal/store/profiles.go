package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
)

var (
	ErrProfileExists   = errors.New("配置集已存在")
	ErrProfileNotFound = errors.New("配置集不存在")
)

const (
	settingActiveProfile = "active_profile"
	settingLastSeen      = "journal_last_seen"
)

func (s *Store) initProfileTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY COLLATE NOCASE
	);

	CREATE TABLE IF NOT EXISTS profile_listeners (
		profile TEXT NOT NULL COLLATE NOCASE,
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		firewall_rule_name TEXT,
		upnp_enabled INTEGER NOT NULL DEFAULT 0,
		forward_only INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (profile, port, protocol),
		FOREIGN KEY (profile) REFERENCES profiles(name) ON DELETE CASCADE
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec("INSERT OR IGNORE INTO profiles (name) VALUES (?)", model.DefaultProfileName)
	return err
}

func (s *Store) setting(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) setSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	return err
}

// LastSeen 最后一次查看告警的时间，从未查看时为零值
func (s *Store) LastSeen() (time.Time, error) {
	v, err := s.setting(settingLastSeen)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

func (s *Store) SaveLastSeen(t time.Time) error {
	return s.setSetting(settingLastSeen, t.UTC().Format(time.RFC3339Nano))
}

// ActiveProfile 当前使用的配置集，未设置时为 Default
func (s *Store) ActiveProfile() (string, error) {
	v, err := s.setting(settingActiveProfile)
	if err != nil {
		return "", err
	}
	if v == "" {
		return model.DefaultProfileName, nil
	}
	return v, nil
}

func (s *Store) SetActiveProfile(name string) error {
	if _, err := s.Profile(name); err != nil {
		return err
	}
	return s.setSetting(settingActiveProfile, name)
}

// ProfileNames 按名称排序
func (s *Store) ProfileNames() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM profiles ORDER BY name COLLATE NOCASE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CreateProfile 名称不区分大小写，重名返回 ErrProfileExists
func (s *Store) CreateProfile(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("配置集名称不能为空")
	}
	res, err := s.db.Exec("INSERT OR IGNORE INTO profiles (name) VALUES (?)", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, ErrProfileExists)
	}
	return nil
}

// DeleteProfile 删除当前配置集时切回 Default，Default 本身不能删除
func (s *Store) DeleteProfile(name string) error {
	if strings.EqualFold(name, model.DefaultProfileName) {
		return errors.New("不能删除 Default 配置集")
	}
	res, err := s.db.Exec("DELETE FROM profiles WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, ErrProfileNotFound)
	}

	active, err := s.ActiveProfile()
	if err != nil {
		return err
	}
	if strings.EqualFold(active, name) {
		return s.setSetting(settingActiveProfile, model.DefaultProfileName)
	}
	return nil
}

func (s *Store) Profile(name string) (model.Profile, error) {
	var p model.Profile
	err := s.db.QueryRow("SELECT name FROM profiles WHERE name = ?", name).Scan(&p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("%s: %w", name, ErrProfileNotFound)
	}
	if err != nil {
		return p, err
	}

	rows, err := s.db.Query(`
		SELECT port, protocol, firewall_rule_name, upnp_enabled, forward_only
		FROM profile_listeners
		WHERE profile = ?
		ORDER BY port, protocol
	`, p.Name)
	if err != nil {
		return p, err
	}
	defer rows.Close()

	p.Listeners, err = s.scanDescriptors(rows)
	return p, err
}

// AddToProfile 把监听器加入配置集，已有相同端口和协议的条目时跳过，返回新增数量
func (s *Store) AddToProfile(name string, descriptors ...model.ListenerDescriptor) (int, error) {
	p, err := s.Profile(name)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for _, d := range descriptors {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO profile_listeners
			(profile, port, protocol, firewall_rule_name, upnp_enabled, forward_only)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.Name, d.Port, string(d.Protocol), d.FirewallRuleName, d.UpnpEnabled, d.ForwardOnly,
		)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, tx.Commit()
}

func (s *Store) RemoveFromProfile(name string, port int, proto model.Protocol) (bool, error) {
	res, err := s.db.Exec("DELETE FROM profile_listeners WHERE profile = ? AND port = ? AND protocol = ?",
		name, port, string(proto))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReplaceProfile 导入时整体替换同名配置集，不存在则创建
func (s *Store) ReplaceProfile(p model.Profile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT OR IGNORE INTO profiles (name) VALUES (?)", p.Name); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM profile_listeners WHERE profile = ?", p.Name); err != nil {
		return err
	}
	for _, d := range p.Listeners {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO profile_listeners
			(profile, port, protocol, firewall_rule_name, upnp_enabled, forward_only)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.Name, d.Port, string(d.Protocol), d.FirewallRuleName, d.UpnpEnabled, d.ForwardOnly,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Profiles 所有配置集及其监听器
func (s *Store) Profiles() ([]model.Profile, error) {
	names, err := s.ProfileNames()
	if err != nil {
		return nil, err
	}
	out := make([]model.Profile, 0, len(names))
	for _, n := range names {
		p, err := s.Profile(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
