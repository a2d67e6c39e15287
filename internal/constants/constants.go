package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	// MaxAttempts caps how many times a charge may be handed to a provider.
	MaxAttempts = 5
)

const (
	DefaultSweepInterval = time.Minute
	DefaultSendTimeout   = 15 * time.Second
	DefaultClaimLease    = 2 * time.Minute
	DefaultSweepBatch    = 200
	DefaultSweepWorkers  = 8
)

const (
	SweepLockKey        = "dispatch:sweep:lock"
	RuleCachePrefix     = "dispatch:rule:"
	DefaultRuleCacheTTL = 30 * time.Second
)

const (
	DefaultChargeEventsTopic   = "charge_events"
	DefaultDeliveryEventsTopic = "delivery_events"
	DefaultCallbackTopic       = "provider_callbacks"
)

const (
	DefaultMongoDBName      = "nudge"
	CallbackAuditCollection = "callback_audit"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// DueDateField is always required at the payload root, whatever the rule's
// system-variable configuration says.
const DueDateField = "DueDate"

// PayloadField is the nested object holding template substitution values.
const PayloadField = "Payload"
