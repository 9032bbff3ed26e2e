// Package persistence provides the storage abstraction for connectors,
// credentials, events, sequences and execution state.
package persistence

import (
	"context"

	"github.com/weftworks/weft/pkg/models"
)

// ConnectorRepository stores connectors with their actions inline.
type ConnectorRepository interface {
	Connectors(ctx context.Context) ([]*models.Connector, error)
	ConnectorByID(ctx context.Context, id string) (*models.Connector, error)
	ConnectorByName(ctx context.Context, name string) (*models.Connector, error)
	SaveConnector(ctx context.Context, connector *models.Connector) error
	DeleteConnector(ctx context.Context, id string) error
}

// CredentialRepository stores auth profiles and their secret sets.
type CredentialRepository interface {
	CredentialByID(ctx context.Context, id string) (*models.Credential, error)
	SaveCredential(ctx context.Context, credential *models.Credential) error
	CredentialSetFor(ctx context.Context, credentialID string) (*models.CredentialSet, error)
	SaveCredentialSet(ctx context.Context, set *models.CredentialSet) error
}

// EventRepository stores inbound event definitions.
type EventRepository interface {
	Events(ctx context.Context) ([]*models.Event, error)
	EventByID(ctx context.Context, id string) (*models.Event, error)
	EventByName(ctx context.Context, name string) (*models.Event, error)
	SaveEvent(ctx context.Context, event *models.Event) error
}

// SequenceRepository stores sequence graphs.
type SequenceRepository interface {
	Sequences(ctx context.Context) ([]*models.Sequence, error)
	SequenceByID(ctx context.Context, id string) (*models.Sequence, error)
	SequencesByEventID(ctx context.Context, eventID string) ([]*models.Sequence, error)
	SaveSequence(ctx context.Context, sequence *models.Sequence) error
	DeleteSequence(ctx context.Context, id string) error
}

// ExecutionRepository stores sequence runs and their per-node logs.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.SequenceExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.SequenceExecution, error)
	AppendExecutionLog(ctx context.Context, entry *models.ExecutionLog) error
	ExecutionLogs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

// AsyncExecutionRepository stores async action executions and their ordered
// progress trails. TransitionStatus is the atomic check-and-set every
// terminal transition must go through: it moves the execution to the target
// status only when the stored status is still in allowedFrom, persisting
// the execution's current fields in the same operation, and reports whether
// the transition won.
type AsyncExecutionRepository interface {
	SaveAsyncExecution(ctx context.Context, execution *models.AsyncActionExecution) error
	AsyncExecutionByID(ctx context.Context, id string) (*models.AsyncActionExecution, error)
	AsyncExecutionByWebhookIdentifier(ctx context.Context, identifier string) (*models.AsyncActionExecution, error)
	UpdateAsyncExecution(ctx context.Context, execution *models.AsyncActionExecution) error
	TransitionStatus(ctx context.Context, execution *models.AsyncActionExecution, allowedFrom []models.AsyncStatus, to models.AsyncStatus) (bool, error)
	AppendAsyncProgress(ctx context.Context, progress *models.AsyncActionProgress) error
	AsyncProgress(ctx context.Context, executionID string) ([]*models.AsyncActionProgress, error)
}

// Persistence bundles every repository behind one connection-owning
// implementation.
type Persistence interface {
	ConnectorRepository
	CredentialRepository
	EventRepository
	SequenceRepository
	ExecutionRepository
	AsyncExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
