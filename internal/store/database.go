package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"

	_ "github.com/mattn/go-sqlite3"
)

// Store 保存的监听器、配置集、设置和扫描历史
type Store struct {
	db     *sql.DB
	path   string
	logger *utils.Logger
}

// ScanRecord 扫描历史的摘要
type ScanRecord struct {
	ID          int64
	Target      string
	FullScan    bool
	StartedAt   time.Time
	Elapsed     time.Duration
	DeviceCount int
}

func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   dbPath,
		logger: utils.NewLogger("store"),
	}

	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据表失败: %w", err)
	}

	return s, nil
}

func (s *Store) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listeners (
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		firewall_rule_name TEXT,
		upnp_enabled INTEGER NOT NULL DEFAULT 0,
		forward_only INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (port, protocol)
	);

	CREATE TABLE IF NOT EXISTS scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		full_scan INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		device_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scan_devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id INTEGER NOT NULL,
		address TEXT NOT NULL,
		hostname TEXT,
		status TEXT,
		open_ports TEXT,
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_scan_devices_scan ON scan_devices(scan_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.initProfileTables()
}

// SaveListeners 用当前列表整体替换保存的监听器
func (s *Store) SaveListeners(descriptors []model.ListenerDescriptor) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM listeners"); err != nil {
		return err
	}

	for _, d := range descriptors {
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO listeners
			(port, protocol, firewall_rule_name, upnp_enabled, forward_only)
			VALUES (?, ?, ?, ?, ?)`,
			d.Port, string(d.Protocol), d.FirewallRuleName, d.UpnpEnabled, d.ForwardOnly,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) LoadListeners() ([]model.ListenerDescriptor, error) {
	rows, err := s.db.Query(`
		SELECT port, protocol, firewall_rule_name, upnp_enabled, forward_only
		FROM listeners
		ORDER BY port, protocol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanDescriptors(rows)
}

func (s *Store) scanDescriptors(rows *sql.Rows) ([]model.ListenerDescriptor, error) {
	var out []model.ListenerDescriptor
	for rows.Next() {
		var (
			d     model.ListenerDescriptor
			proto string
			rule  sql.NullString
		)
		if err := rows.Scan(&d.Port, &proto, &rule, &d.UpnpEnabled, &d.ForwardOnly); err != nil {
			s.logger.Warn("跳过无效的监听器记录: %v", err)
			continue
		}
		p, err := model.ParseProtocol(proto)
		if err != nil {
			s.logger.Warn("跳过无效的监听器记录: %v", err)
			continue
		}
		d.Protocol = p
		d.FirewallRuleName = rule.String
		out = append(out, d)
	}

	return out, rows.Err()
}

// SaveScan 保存一次扫描结果，返回记录 ID
func (s *Store) SaveScan(result *model.ScanResult) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO scans (target, full_scan, started_at, elapsed_ms, device_count)
		VALUES (?, ?, ?, ?, ?)`,
		result.Target, result.FullScan, result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.Elapsed.Milliseconds(), len(result.Devices),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, d := range result.Devices {
		_, err = tx.Exec(`
			INSERT INTO scan_devices (scan_id, address, hostname, status, open_ports)
			VALUES (?, ?, ?, ?, ?)`,
			id, d.Address, d.Hostname, d.Status, joinPorts(d.OpenPorts),
		)
		if err != nil {
			return 0, err
		}
	}

	return id, tx.Commit()
}

// RecentScans 最近的扫描记录，新的在前
func (s *Store) RecentScans(limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT id, target, full_scan, started_at, elapsed_ms, device_count
		FROM scans
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var (
			r         ScanRecord
			startedAt string
			elapsedMs int64
		)
		if err := rows.Scan(&r.ID, &r.Target, &r.FullScan, &startedAt, &elapsedMs, &r.DeviceCount); err != nil {
			continue
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, r)
	}

	return out, rows.Err()
}

// ScanDevices 某次扫描发现的设备
func (s *Store) ScanDevices(scanID int64) ([]model.Device, error) {
	rows, err := s.db.Query(`
		SELECT address, hostname, status, open_ports
		FROM scan_devices
		WHERE scan_id = ?
		ORDER BY id
	`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var (
			d     model.Device
			ports string
		)
		if err := rows.Scan(&d.Address, &d.Hostname, &d.Status, &ports); err != nil {
			continue
		}
		d.OpenPorts = splitPorts(ports)
		out = append(out, d)
	}

	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func splitPorts(s string) []int {
	if s == "" {
		return nil
	}
	var ports []int
	for _, part := range strings.Split(s, ",") {
		if p, err := strconv.Atoi(part); err == nil {
			ports = append(ports, p)
		}
	}
	return ports
}
