package process

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

var ErrProtected = errors.New("不能结束系统进程或本程序")

// KillJournal 结束进程后写入 PORT_CLOSED 事件
type KillJournal interface {
	LogProcessKilled(port int, protocol, application string)
}

type KillFunc func(ctx context.Context, pid int) error

// Killer 结束占用端口的进程
type Killer struct {
	kill    KillFunc
	journal KillJournal
	self    int
	logger  *utils.Logger
}

func NewKiller(journal KillJournal) *Killer {
	return newKiller(psutilKill, journal)
}

func newKiller(kill KillFunc, journal KillJournal) *Killer {
	return &Killer{
		kill:    kill,
		journal: journal,
		self:    os.Getpid(),
		logger:  utils.NewLogger("process"),
	}
}

// Kill 结束进程。pid 0 和 4 是系统进程，与本程序一起受保护。
func (k *Killer) Kill(ctx context.Context, pid int) error {
	if pid <= 4 || pid == k.self {
		return fmt.Errorf("pid %d: %w", pid, ErrProtected)
	}
	if err := k.kill(ctx, pid); err != nil {
		return fmt.Errorf("结束进程 %d 失败: %w", pid, err)
	}
	return nil
}

// ClosePort 结束记录的所属进程并记录日志
func (k *Killer) ClosePort(ctx context.Context, rec model.ConnectionRecord) error {
	if err := k.Kill(ctx, rec.ProcessID); err != nil {
		return err
	}
	k.logger.Info("已结束进程 %s (pid %d)，端口 %d/%s", rec.ProcessName, rec.ProcessID, rec.LocalPort, rec.Protocol)
	if k.journal != nil {
		k.journal.LogProcessKilled(rec.LocalPort, string(rec.Protocol), rec.ProcessName)
	}
	return nil
}
