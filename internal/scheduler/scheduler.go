// Package scheduler 预热、开闸、超时取消等周期任务
package scheduler

import (
	"context"
	"fmt"
	"time"

	"BadmintonFlash/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job 周期任务；多实例互斥由任务自身的分布式锁保证
type Job struct {
	Name    string
	Run     func(ctx context.Context) error
	Timeout time.Duration
}

// Scheduler robfig/cron 封装，同一任务上一轮未结束时跳过本轮
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	jobs   []Job
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New spec 为标准五段 cron 表达式
func New(spec string, loc *time.Location, logger *logrus.Logger, jobs ...Job) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("cron 表达式 %q 非法: %w", spec, err)
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, spec: spec, jobs: jobs, logger: logger, ctx: ctx, cancel: cancel}
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(spec, func() { s.run(s.ctx, job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("注册任务 %s 失败: %w", job.Name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	started := time.Now()
	err := job.Run(ctx)
	metrics.RecordJob(job.Name, err)
	log := s.logger.WithFields(logrus.Fields{"job": job.Name, "elapsed": time.Since(started).String()})
	if err != nil {
		log.WithError(err).Error("定时任务执行失败")
		return
	}
	log.Debug("定时任务执行完成")
}

// RunNow 按注册顺序同步执行一遍所有任务，启动时补跑用
func (s *Scheduler) RunNow(ctx context.Context) {
	for _, job := range s.jobs {
		s.run(ctx, job)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{"spec": s.spec, "jobs": len(s.jobs)}).Info("定时任务已启动")
}

// Stop 停止调度并等待运行中的任务结束，ctx 超时后取消它们
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("等待定时任务结束超时，取消运行中的任务")
	}
	s.cancel()
}

// cronLogger 把 cron 内部日志转到 logrus
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
