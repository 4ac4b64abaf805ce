// Package engine implements the queue semantics on top of the store: the
// message state machine, visibility leasing, FIFO ordering and
// deduplication, dead-letter promotion and long-poll receives. Adapters
// (HTTP, CLI, admin) call the engine; only the engine talks to the store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qlite/qlite/internal/config"
	"github.com/qlite/qlite/internal/notify"
	"github.com/qlite/qlite/internal/store"
)

// FifoSuffix marks FIFO queue names.
const FifoSuffix = ".fifo"

// Bounds shared with the SQS wire contract.
const (
	MaxDelaySeconds        = 900
	MaxVisibilitySeconds   = 43200 // 12 hours, SQS maximum
	MinRetentionSeconds    = 60
	MaxRetentionSeconds    = 1209600 // 14 days
	MaxBatchSize           = 10
	MaxReceiveBatch        = 10
	MaxLongPollSeconds     = 20
	MaxMessageBytes        = 262144 // 256 KiB
	DefaultMessageGroup    = "default"
	DefaultRedriveMaximum  = 10
)

var queueNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.fifo)?$`)

// Engine coordinates the store and the notifier.
type Engine struct {
	store    *store.Store
	notifier *notify.Notifier
	defaults config.QueueDefaults

	// now is swapped out by tests to control time.
	now func() time.Time
}

// New creates an engine over the given store and notifier, using defaults
// for queues created without explicit configuration.
func New(s *store.Store, n *notify.Notifier, defaults config.QueueDefaults) *Engine {
	return &Engine{
		store:    s,
		notifier: n,
		defaults: defaults,
		now:      time.Now,
	}
}

// Store exposes the underlying store for the admin surface and health
// checks.
func (e *Engine) Store() *store.Store {
	return e.store
}

// IsFifoQueue reports whether name denotes a FIFO queue.
func IsFifoQueue(name string) bool {
	return strings.HasSuffix(name, FifoSuffix)
}

// ValidateQueueName checks the queue naming rules: 1-80 chars of
// [a-zA-Z0-9_-], and FIFO names must carry at least one character before the
// .fifo suffix.
func ValidateQueueName(name string) error {
	if name == "" {
		return validationErr("QueueName", "cannot be empty")
	}
	if len(name) > 80 {
		return validationErr("QueueName", "cannot exceed 80 characters")
	}
	if !queueNameRe.MatchString(name) {
		return validationErr("QueueName", "can only contain alphanumeric characters, hyphens and underscores")
	}
	if IsFifoQueue(name) && len(name) <= len(FifoSuffix) {
		return validationErr("QueueName", "FIFO queue name must not be bare %q", FifoSuffix)
	}
	return nil
}

// defaultConfig builds the effective configuration for a queue that has no
// stored config row. FIFO queues get content-based dedup by default.
func (e *Engine) defaultConfig(name string) *store.QueueConfig {
	fifo := IsFifoQueue(name)
	return &store.QueueConfig{
		Name:                      name,
		IsFifo:                    fifo,
		ContentBasedDeduplication: fifo,
		VisibilityTimeoutSeconds:  e.defaults.VisibilityTimeoutSeconds,
		RetentionPeriodSeconds:    e.defaults.MessageRetentionSeconds,
		ReceiveWaitTimeSeconds:    e.defaults.ReceiveMessageWaitTimeSeconds,
	}
}

// resolveConfig returns the stored configuration for an existing queue, or
// the defaults when no row was stored.
func (e *Engine) resolveConfig(ctx context.Context, name string) (*store.QueueConfig, error) {
	cfg, err := e.store.GetQueueConfig(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return e.defaultConfig(name), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *store.QueueConfig) error {
	if cfg.IsFifo != IsFifoQueue(cfg.Name) {
		return validationErr("QueueName", "FIFO flag must match the %q suffix", FifoSuffix)
	}
	if cfg.VisibilityTimeoutSeconds < 0 || cfg.VisibilityTimeoutSeconds > MaxVisibilitySeconds {
		return validationErr("VisibilityTimeout", "must be between 0 and %d seconds", MaxVisibilitySeconds)
	}
	if cfg.RetentionPeriodSeconds < MinRetentionSeconds || cfg.RetentionPeriodSeconds > MaxRetentionSeconds {
		return validationErr("MessageRetentionPeriod", "must be between %d and %d seconds", MinRetentionSeconds, MaxRetentionSeconds)
	}
	if cfg.MaxReceiveCount < 0 {
		return validationErr("MaxReceiveCount", "must be greater than 0 when set")
	}
	if cfg.DelaySeconds < 0 || cfg.DelaySeconds > MaxDelaySeconds {
		return validationErr("DelaySeconds", "must be between 0 and %d", MaxDelaySeconds)
	}
	if cfg.ReceiveWaitTimeSeconds < 0 || cfg.ReceiveWaitTimeSeconds > MaxLongPollSeconds {
		return validationErr("ReceiveMessageWaitTimeSeconds", "must be between 0 and %d", MaxLongPollSeconds)
	}
	return nil
}

// CreateQueue creates a queue, idempotently. When cfg is nil the queue gets
// the engine defaults; FIFO-ness is always derived from the name suffix.
func (e *Engine) CreateQueue(ctx context.Context, name string, cfg *store.QueueConfig) error {
	if err := ValidateQueueName(name); err != nil {
		return err
	}
	explicit := cfg != nil
	if !explicit {
		cfg = e.defaultConfig(name)
	}
	cfg.Name = name
	cfg.IsFifo = IsFifoQueue(name)
	if err := validateConfig(cfg); err != nil {
		return err
	}
	if err := e.store.CreateQueue(ctx, name, e.now(), cfg, explicit); err != nil {
		return err
	}
	log.Info().Str("queue", name).Bool("fifo", cfg.IsFifo).Msg("Queue created")
	return nil
}

// DeleteQueue removes a queue and all of its messages. Returns false when
// the queue did not exist.
func (e *Engine) DeleteQueue(ctx context.Context, name string) (bool, error) {
	deleted, err := e.store.DeleteQueue(ctx, name)
	if err != nil {
		return false, err
	}
	if deleted {
		log.Info().Str("queue", name).Msg("Queue deleted")
	}
	return deleted, nil
}

// ListQueues returns all queues ordered by name.
func (e *Engine) ListQueues(ctx context.Context) ([]store.QueueInfo, error) {
	return e.store.ListQueues(ctx)
}

// GetQueueAttributes returns approximate counters, or ErrQueueNotFound.
func (e *Engine) GetQueueAttributes(ctx context.Context, name string) (*store.QueueAttributes, error) {
	attrs, err := e.store.GetQueueAttributes(ctx, name, e.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrQueueNotFound
	}
	return attrs, err
}

// GetQueueConfig returns the effective configuration for an existing queue.
func (e *Engine) GetQueueConfig(ctx context.Context, name string) (*store.QueueConfig, error) {
	exists, err := e.store.QueueExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrQueueNotFound
	}
	return e.resolveConfig(ctx, name)
}

// redrivePolicy is the SQS RedrivePolicy attribute payload.
type redrivePolicy struct {
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	MaxReceiveCount     any    `json:"maxReceiveCount"` // SQS accepts both string and number
}

// SetQueueAttributes applies an SQS-style attribute map to a queue. The FIFO
// flag is immutable; changing it requires delete and recreate.
func (e *Engine) SetQueueAttributes(ctx context.Context, name string, attrs map[string]string) error {
	exists, err := e.store.QueueExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrQueueNotFound
	}
	cfg, err := e.resolveConfig(ctx, name)
	if err != nil {
		return err
	}
	if err := applyAttributes(cfg, attrs); err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	return e.store.UpsertQueueConfig(ctx, cfg)
}

// CreateQueueWithAttributes creates a queue whose configuration is built
// from the defaults plus an SQS attribute map, in one store transaction.
func (e *Engine) CreateQueueWithAttributes(ctx context.Context, name string, attrs map[string]string) error {
	if len(attrs) == 0 {
		return e.CreateQueue(ctx, name, nil)
	}
	cfg := e.defaultConfig(name)
	if err := applyAttributes(cfg, attrs); err != nil {
		return err
	}
	return e.CreateQueue(ctx, name, cfg)
}

func applyAttributes(cfg *store.QueueConfig, attrs map[string]string) error {
	var err error
	for key, value := range attrs {
		switch key {
		case "VisibilityTimeout":
			if cfg.VisibilityTimeoutSeconds, err = parseIntAttr(key, value); err != nil {
				return err
			}
		case "MessageRetentionPeriod":
			if cfg.RetentionPeriodSeconds, err = parseIntAttr(key, value); err != nil {
				return err
			}
		case "DelaySeconds":
			if cfg.DelaySeconds, err = parseIntAttr(key, value); err != nil {
				return err
			}
		case "ReceiveMessageWaitTimeSeconds":
			if cfg.ReceiveWaitTimeSeconds, err = parseIntAttr(key, value); err != nil {
				return err
			}
		case "ContentBasedDeduplication":
			cfg.ContentBasedDeduplication = strings.EqualFold(value, "true")
		case "RedrivePolicy":
			var policy redrivePolicy
			if err := json.Unmarshal([]byte(value), &policy); err != nil {
				return validationErr(key, "malformed redrive policy: %v", err)
			}
			cfg.DLQTarget = policy.DeadLetterTargetArn
			maxReceive, err := coerceInt(policy.MaxReceiveCount)
			if err != nil {
				return validationErr(key, "malformed maxReceiveCount: %v", err)
			}
			if maxReceive <= 0 {
				return validationErr(key, "maxReceiveCount must be greater than 0")
			}
			cfg.MaxReceiveCount = maxReceive
		case "FifoQueue":
			if strings.EqualFold(value, "true") != cfg.IsFifo {
				return validationErr(key, "FIFO flag is immutable; delete and recreate the queue")
			}
		default:
			return validationErr(key, "unsupported attribute")
		}
	}
	return nil
}

func parseIntAttr(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, validationErr(key, "must be an integer")
	}
	return n, nil
}

func coerceInt(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// dlqQueueName extracts the queue name from an opaque DLQ target reference
// (the final path component, so both plain names and ARN-ish URLs work).
func dlqQueueName(target string) string {
	if i := strings.LastIndexAny(target, "/:"); i >= 0 {
		return target[i+1:]
	}
	return target
}
