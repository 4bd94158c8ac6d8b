package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"certhub/internal/config"
	"certhub/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueGenerateAttestation(payload tasks.GenerateAttestationPayload) error
	EnqueueStatusSweep(triggeredBy string) error
	EnqueueOverdueSweep(triggeredBy string) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueGenerateAttestation(payload tasks.GenerateAttestationPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeGenerateAttestation, data)
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("documents"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueStatusSweep(triggeredBy string) error {
	return c.enqueueSweep(tasks.TypeStatusSweep, triggeredBy)
}

func (c *asynqClient) EnqueueOverdueSweep(triggeredBy string) error {
	return c.enqueueSweep(tasks.TypeOverdueSweep, triggeredBy)
}

// enqueueSweep 巡检任务可安全重复投递，去重交给任务本身的幂等性
func (c *asynqClient) enqueueSweep(taskType, triggeredBy string) error {
	data, err := json.Marshal(tasks.SweepPayload{TriggeredBy: triggeredBy})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("sweeps"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
