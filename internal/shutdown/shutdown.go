package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	xerrors "ReportFlow/internal/errors"
	"ReportFlow/pkg/logger"
)

// ErrShuttingDown 是停机期间所有协作检查点返回的统一错误。
// 调用方通过 errors.Is 或错误码判断，绝不通过错误消息匹配。
var ErrShuttingDown = xerrors.New(xerrors.CodeShutdown, "操作已取消：正在停机")

// Coordinator 在进程内传播协作式停机状态。
// 长耗时流程在每个阶段边界调用 Check，命中后立即放弃剩余工作。
type Coordinator struct {
	triggered atomic.Bool
}

// NewCoordinator 创建一个未触发的协调器。
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Trigger 标记进入停机状态。多次调用是幂等的。
func (c *Coordinator) Trigger() {
	if c == nil {
		return
	}
	c.triggered.Store(true)
}

// Active 返回是否已进入停机状态。
func (c *Coordinator) Active() bool {
	return c != nil && c.triggered.Load()
}

// Check 在停机状态下返回 ErrShuttingDown，否则返回 nil。
func (c *Coordinator) Check() error {
	if c.Active() {
		return ErrShuttingDown
	}
	return nil
}

// Reset 清除停机状态，仅供测试使用。
func (c *Coordinator) Reset() {
	if c == nil {
		return
	}
	c.triggered.Store(false)
}

// Is 判断错误是否为停机取消。
func Is(err error) bool {
	return xerrors.IsCode(err, xerrors.CodeShutdown)
}

// Install 注册信号处理：首个 SIGINT/SIGTERM 触发协调器并取消返回的
// context，之后在宽限时间内等待主流程收尾；期间再次收到信号则强制退出。
func Install(parent context.Context, coord *Coordinator, grace time.Duration) (context.Context, context.CancelFunc) {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.L().Info("收到停机信号，开始优雅停机",
				slog.String("signal", sig.String()),
				slog.Duration("grace", grace))
			coord.Trigger()
			cancel()
			select {
			case <-sigCh:
				logger.L().Warn("再次收到停机信号，强制退出")
				os.Exit(1)
			case <-time.After(grace):
				logger.L().Warn("停机宽限时间已到，进程退出")
				os.Exit(0)
			}
		case <-ctx.Done():
			signal.Stop(sigCh)
		}
	}()

	return ctx, cancel
}
