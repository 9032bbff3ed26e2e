package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// ConnectorRepository handles connector, credential and event definitions.
// Actions are stored inline on the connector row as JSONB.
type ConnectorRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewConnectorRepository(db *sql.DB, logger *slog.Logger) *ConnectorRepository {
	return &ConnectorRepository{db: db, logger: logger}
}

const connectorColumns = `
	id
  , name
  , description
  , base_url
  , headers
  , timeout_seconds
  , credential_id
  , actions
  , created_at
  , updated_at
`

func (r *ConnectorRepository) All(ctx context.Context) ([]*models.Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query connectors: %w", err)
	}

	defer r.closeRows(ctx, rows)

	connectors := make([]*models.Connector, 0)

	for rows.Next() {
		connector, err := r.scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}

		connectors = append(connectors, connector)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating connectors: %w", err)
	}

	return connectors, nil
}

func (r *ConnectorRepository) ByID(ctx context.Context, id string) (*models.Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE id = $1`

	connector, err := r.scanConnector(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "connector", id, persistence.ErrConnectorNotFound)
		}

		return nil, fmt.Errorf("failed to scan connector: %w", err)
	}

	return connector, nil
}

func (r *ConnectorRepository) ByName(ctx context.Context, name string) (*models.Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE name = $1`

	connector, err := r.scanConnector(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByName", "connector", name, persistence.ErrConnectorNotFound)
		}

		return nil, fmt.Errorf("failed to scan connector: %w", err)
	}

	return connector, nil
}

func (r *ConnectorRepository) Save(ctx context.Context, connector *models.Connector) error {
	stampEntity(&connector.ID, &connector.CreatedAt, &connector.UpdatedAt)

	headersJSON, err := marshalJSON(connector.Headers)
	if err != nil {
		return err
	}

	actionsJSON, err := marshalJSON(connector.Actions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO connectors (id, name, description, base_url, headers,
			timeout_seconds, credential_id, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			base_url = EXCLUDED.base_url,
			headers = EXCLUDED.headers,
			timeout_seconds = EXCLUDED.timeout_seconds,
			credential_id = EXCLUDED.credential_id,
			actions = EXCLUDED.actions,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		connector.ID,
		connector.Name,
		connector.Description,
		connector.BaseURL,
		headersJSON,
		connector.TimeoutSecs,
		connector.CredentialID,
		actionsJSON,
		connector.CreatedAt,
		connector.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save connector: %w", err)
	}

	return nil
}

func (r *ConnectorRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connector: %w", err)
	}

	return nil
}

func (r *ConnectorRepository) scanConnector(scanner interface {
	Scan(dest ...any) error
}) (*models.Connector, error) {
	var (
		connector                models.Connector
		headersJSON, actionsJSON []byte
	)

	err := scanner.Scan(
		&connector.ID,
		&connector.Name,
		&connector.Description,
		&connector.BaseURL,
		&headersJSON,
		&connector.TimeoutSecs,
		&connector.CredentialID,
		&actionsJSON,
		&connector.CreatedAt,
		&connector.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(headersJSON, &connector.Headers)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(actionsJSON, &connector.Actions)
	if err != nil {
		return nil, err
	}

	return &connector, nil
}

// credentials

func (r *ConnectorRepository) CredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `
		SELECT id, name, auth_type, api_key_header, token_header, token_prefix,
			token_url, created_at, updated_at
		FROM credentials
		WHERE id = $1
	`

	var credential models.Credential

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&credential.ID,
		&credential.Name,
		&credential.AuthType,
		&credential.APIKeyHeader,
		&credential.TokenHeader,
		&credential.TokenPrefix,
		&credential.TokenURL,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("CredentialByID", "credential", id, persistence.ErrCredentialNotFound)
		}

		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	return &credential, nil
}

func (r *ConnectorRepository) SaveCredential(ctx context.Context, credential *models.Credential) error {
	stampEntity(&credential.ID, &credential.CreatedAt, &credential.UpdatedAt)

	query := `
		INSERT INTO credentials (id, name, auth_type, api_key_header,
			token_header, token_prefix, token_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			auth_type = EXCLUDED.auth_type,
			api_key_header = EXCLUDED.api_key_header,
			token_header = EXCLUDED.token_header,
			token_prefix = EXCLUDED.token_prefix,
			token_url = EXCLUDED.token_url,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		credential.ID,
		credential.Name,
		credential.AuthType,
		credential.APIKeyHeader,
		credential.TokenHeader,
		credential.TokenPrefix,
		credential.TokenURL,
		credential.CreatedAt,
		credential.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

func (r *ConnectorRepository) CredentialSetFor(ctx context.Context, credentialID string) (*models.CredentialSet, error) {
	query := `
		SELECT id, credential_id, name, secret_values, expires_at, created_at, updated_at
		FROM credential_sets
		WHERE credential_id = $1
	`

	var (
		set        models.CredentialSet
		valuesJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, credentialID).Scan(
		&set.ID,
		&set.CredentialID,
		&set.Name,
		&valuesJSON,
		&set.ExpiresAt,
		&set.CreatedAt,
		&set.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("CredentialSetFor", "credential set", credentialID, persistence.ErrCredentialSetNotFound)
		}

		return nil, fmt.Errorf("failed to scan credential set: %w", err)
	}

	err = unmarshalJSON(valuesJSON, &set.Values)
	if err != nil {
		return nil, err
	}

	return &set, nil
}

func (r *ConnectorRepository) SaveCredentialSet(ctx context.Context, set *models.CredentialSet) error {
	stampEntity(&set.ID, &set.CreatedAt, &set.UpdatedAt)

	valuesJSON, err := marshalJSON(set.Values)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO credential_sets (id, credential_id, name, secret_values,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (credential_id) DO UPDATE SET
			name = EXCLUDED.name,
			secret_values = EXCLUDED.secret_values,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		set.ID,
		set.CredentialID,
		set.Name,
		valuesJSON,
		set.ExpiresAt,
		set.CreatedAt,
		set.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential set: %w", err)
	}

	return nil
}

// events

func (r *ConnectorRepository) AllEvents(ctx context.Context) ([]*models.Event, error) {
	query := `
		SELECT id, name, description, schema, ack, created_at, updated_at
		FROM events
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer r.closeRows(ctx, rows)

	events := make([]*models.Event, 0)

	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func (r *ConnectorRepository) EventByID(ctx context.Context, id string) (*models.Event, error) {
	query := `
		SELECT id, name, description, schema, ack, created_at, updated_at
		FROM events
		WHERE id = $1
	`

	event, err := r.scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("EventByID", "event", id, persistence.ErrEventNotFound)
		}

		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	return event, nil
}

func (r *ConnectorRepository) EventByName(ctx context.Context, name string) (*models.Event, error) {
	query := `
		SELECT id, name, description, schema, ack, created_at, updated_at
		FROM events
		WHERE name = $1
	`

	event, err := r.scanEvent(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("EventByName", "event", name, persistence.ErrEventNotFound)
		}

		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	return event, nil
}

func (r *ConnectorRepository) SaveEvent(ctx context.Context, event *models.Event) error {
	stampEntity(&event.ID, &event.CreatedAt, &event.UpdatedAt)

	schemaJSON, err := marshalJSON(event.Schema)
	if err != nil {
		return err
	}

	ackJSON, err := marshalJSON(event.Ack)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, name, description, schema, ack, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			schema = EXCLUDED.schema,
			ack = EXCLUDED.ack,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.Name,
		event.Description,
		schemaJSON,
		ackJSON,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	return nil
}

func (r *ConnectorRepository) scanEvent(scanner interface {
	Scan(dest ...any) error
}) (*models.Event, error) {
	var (
		event               models.Event
		schemaJSON, ackJSON []byte
	)

	err := scanner.Scan(
		&event.ID,
		&event.Name,
		&event.Description,
		&schemaJSON,
		&ackJSON,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(schemaJSON, &event.Schema)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(ackJSON, &event.Ack)
	if err != nil {
		return nil, err
	}

	return &event, nil
}

func (r *ConnectorRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func stampEntity(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}

	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}

	*updatedAt = now
}
