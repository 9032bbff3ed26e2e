// Package postgres provides the PostgreSQL persistence implementation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
	"github.com/weftworks/weft/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	connectorRepo *ConnectorRepository
	sequenceRepo  *SequenceRepository
	asyncRepo     *AsyncRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence opens the database, runs migrations and wires the
// repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		connectorRepo: NewConnectorRepository(database, logger),
		sequenceRepo:  NewSequenceRepository(database, logger),
		asyncRepo:     NewAsyncRepository(database, logger),
	}, nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// connectors, credentials, events

func (p *Persistence) Connectors(ctx context.Context) ([]*models.Connector, error) {
	return p.connectorRepo.All(ctx)
}

func (p *Persistence) ConnectorByID(ctx context.Context, id string) (*models.Connector, error) {
	return p.connectorRepo.ByID(ctx, id)
}

func (p *Persistence) ConnectorByName(ctx context.Context, name string) (*models.Connector, error) {
	return p.connectorRepo.ByName(ctx, name)
}

func (p *Persistence) SaveConnector(ctx context.Context, connector *models.Connector) error {
	return p.connectorRepo.Save(ctx, connector)
}

func (p *Persistence) DeleteConnector(ctx context.Context, id string) error {
	return p.connectorRepo.Delete(ctx, id)
}

func (p *Persistence) CredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	return p.connectorRepo.CredentialByID(ctx, id)
}

func (p *Persistence) SaveCredential(ctx context.Context, credential *models.Credential) error {
	return p.connectorRepo.SaveCredential(ctx, credential)
}

func (p *Persistence) CredentialSetFor(ctx context.Context, credentialID string) (*models.CredentialSet, error) {
	return p.connectorRepo.CredentialSetFor(ctx, credentialID)
}

func (p *Persistence) SaveCredentialSet(ctx context.Context, set *models.CredentialSet) error {
	return p.connectorRepo.SaveCredentialSet(ctx, set)
}

func (p *Persistence) Events(ctx context.Context) ([]*models.Event, error) {
	return p.connectorRepo.AllEvents(ctx)
}

func (p *Persistence) EventByID(ctx context.Context, id string) (*models.Event, error) {
	return p.connectorRepo.EventByID(ctx, id)
}

func (p *Persistence) EventByName(ctx context.Context, name string) (*models.Event, error) {
	return p.connectorRepo.EventByName(ctx, name)
}

func (p *Persistence) SaveEvent(ctx context.Context, event *models.Event) error {
	return p.connectorRepo.SaveEvent(ctx, event)
}

// sequences and executions

func (p *Persistence) Sequences(ctx context.Context) ([]*models.Sequence, error) {
	return p.sequenceRepo.All(ctx)
}

func (p *Persistence) SequenceByID(ctx context.Context, id string) (*models.Sequence, error) {
	return p.sequenceRepo.ByID(ctx, id)
}

func (p *Persistence) SequencesByEventID(ctx context.Context, eventID string) ([]*models.Sequence, error) {
	return p.sequenceRepo.ByEventID(ctx, eventID)
}

func (p *Persistence) SaveSequence(ctx context.Context, sequence *models.Sequence) error {
	return p.sequenceRepo.Save(ctx, sequence)
}

func (p *Persistence) DeleteSequence(ctx context.Context, id string) error {
	return p.sequenceRepo.Delete(ctx, id)
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.SequenceExecution) error {
	return p.sequenceRepo.SaveExecution(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.SequenceExecution, error) {
	return p.sequenceRepo.ExecutionByID(ctx, id)
}

func (p *Persistence) AppendExecutionLog(ctx context.Context, entry *models.ExecutionLog) error {
	return p.sequenceRepo.AppendExecutionLog(ctx, entry)
}

func (p *Persistence) ExecutionLogs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	return p.sequenceRepo.ExecutionLogs(ctx, executionID)
}

// async executions

func (p *Persistence) SaveAsyncExecution(ctx context.Context, execution *models.AsyncActionExecution) error {
	return p.asyncRepo.Save(ctx, execution)
}

func (p *Persistence) AsyncExecutionByID(ctx context.Context, id string) (*models.AsyncActionExecution, error) {
	return p.asyncRepo.ByID(ctx, id)
}

func (p *Persistence) AsyncExecutionByWebhookIdentifier(ctx context.Context, identifier string) (*models.AsyncActionExecution, error) {
	return p.asyncRepo.ByWebhookIdentifier(ctx, identifier)
}

func (p *Persistence) UpdateAsyncExecution(ctx context.Context, execution *models.AsyncActionExecution) error {
	return p.asyncRepo.Update(ctx, execution)
}

func (p *Persistence) TransitionStatus(ctx context.Context, execution *models.AsyncActionExecution, allowedFrom []models.AsyncStatus, to models.AsyncStatus) (bool, error) {
	return p.asyncRepo.TransitionStatus(ctx, execution, allowedFrom, to)
}

func (p *Persistence) AppendAsyncProgress(ctx context.Context, progress *models.AsyncActionProgress) error {
	return p.asyncRepo.AppendProgress(ctx, progress)
}

func (p *Persistence) AsyncProgress(ctx context.Context, executionID string) ([]*models.AsyncActionProgress, error) {
	return p.asyncRepo.Progress(ctx, executionID)
}
