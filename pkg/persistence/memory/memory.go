// Package memory provides the in-memory persistence implementation used in
// the file-free development mode and throughout the test suite.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// Persistence keeps every repository in process memory, guarded by one
// mutex. Status transitions are atomic under that mutex, which satisfies
// the single-writer requirement for async executions.
type Persistence struct {
	mu sync.RWMutex

	connectors      map[string]*models.Connector
	credentials     map[string]*models.Credential
	credentialSets  map[string]*models.CredentialSet // keyed by credential id
	events          map[string]*models.Event
	sequences       map[string]*models.Sequence
	executions      map[string]*models.SequenceExecution
	executionLogs   map[string][]*models.ExecutionLog
	asyncExecutions map[string]*models.AsyncActionExecution
	asyncProgress   map[string][]*models.AsyncActionProgress
}

func NewPersistence() *Persistence {
	return &Persistence{
		connectors:      make(map[string]*models.Connector),
		credentials:     make(map[string]*models.Credential),
		credentialSets:  make(map[string]*models.CredentialSet),
		events:          make(map[string]*models.Event),
		sequences:       make(map[string]*models.Sequence),
		executions:      make(map[string]*models.SequenceExecution),
		executionLogs:   make(map[string][]*models.ExecutionLog),
		asyncExecutions: make(map[string]*models.AsyncActionExecution),
		asyncProgress:   make(map[string][]*models.AsyncActionProgress),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

// connectors

func (p *Persistence) Connectors(_ context.Context) ([]*models.Connector, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Connector, 0, len(p.connectors))
	for _, connector := range p.connectors {
		out = append(out, connector)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (p *Persistence) ConnectorByID(_ context.Context, id string) (*models.Connector, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	connector, ok := p.connectors[id]
	if !ok {
		return nil, persistence.NewEntityError("ConnectorByID", "connector", id, persistence.ErrConnectorNotFound)
	}

	return connector, nil
}

func (p *Persistence) ConnectorByName(_ context.Context, name string) (*models.Connector, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, connector := range p.connectors {
		if connector.Name == name {
			return connector, nil
		}
	}

	return nil, persistence.NewEntityError("ConnectorByName", "connector", name, persistence.ErrConnectorNotFound)
}

func (p *Persistence) SaveConnector(_ context.Context, connector *models.Connector) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp(&connector.ID, &connector.CreatedAt, &connector.UpdatedAt)
	p.connectors[connector.ID] = connector

	return nil
}

func (p *Persistence) DeleteConnector(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.connectors, id)

	return nil
}

// credentials

func (p *Persistence) CredentialByID(_ context.Context, id string) (*models.Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	credential, ok := p.credentials[id]
	if !ok {
		return nil, persistence.NewEntityError("CredentialByID", "credential", id, persistence.ErrCredentialNotFound)
	}

	return credential, nil
}

func (p *Persistence) SaveCredential(_ context.Context, credential *models.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp(&credential.ID, &credential.CreatedAt, &credential.UpdatedAt)
	p.credentials[credential.ID] = credential

	return nil
}

func (p *Persistence) CredentialSetFor(_ context.Context, credentialID string) (*models.CredentialSet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set, ok := p.credentialSets[credentialID]
	if !ok {
		return nil, persistence.NewEntityError("CredentialSetFor", "credential set", credentialID, persistence.ErrCredentialSetNotFound)
	}

	return set, nil
}

func (p *Persistence) SaveCredentialSet(_ context.Context, set *models.CredentialSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp(&set.ID, &set.CreatedAt, &set.UpdatedAt)
	p.credentialSets[set.CredentialID] = set

	return nil
}

// events

func (p *Persistence) Events(_ context.Context) ([]*models.Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Event, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (p *Persistence) EventByID(_ context.Context, id string) (*models.Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	event, ok := p.events[id]
	if !ok {
		return nil, persistence.NewEntityError("EventByID", "event", id, persistence.ErrEventNotFound)
	}

	return event, nil
}

func (p *Persistence) EventByName(_ context.Context, name string) (*models.Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, event := range p.events {
		if event.Name == name {
			return event, nil
		}
	}

	return nil, persistence.NewEntityError("EventByName", "event", name, persistence.ErrEventNotFound)
}

func (p *Persistence) SaveEvent(_ context.Context, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	p.events[event.ID] = event

	return nil
}

// sequences

func (p *Persistence) Sequences(_ context.Context) ([]*models.Sequence, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Sequence, 0, len(p.sequences))
	for _, sequence := range p.sequences {
		out = append(out, sequence)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (p *Persistence) SequenceByID(_ context.Context, id string) (*models.Sequence, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sequence, ok := p.sequences[id]
	if !ok {
		return nil, persistence.NewEntityError("SequenceByID", "sequence", id, persistence.ErrSequenceNotFound)
	}

	return sequence, nil
}

func (p *Persistence) SequencesByEventID(_ context.Context, eventID string) ([]*models.Sequence, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*models.Sequence

	for _, sequence := range p.sequences {
		if sequence.EventID == eventID && sequence.Active {
			out = append(out, sequence)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (p *Persistence) SaveSequence(_ context.Context, sequence *models.Sequence) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp(&sequence.ID, &sequence.CreatedAt, &sequence.UpdatedAt)
	p.sequences[sequence.ID] = sequence

	return nil
}

func (p *Persistence) DeleteSequence(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.sequences, id)

	return nil
}

// executions

func (p *Persistence) SaveExecution(_ context.Context, execution *models.SequenceExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if execution.ID == "" {
		execution.ID = "exec-" + uuid.New().String()
	}

	p.executions[execution.ID] = execution

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.SequenceExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewEntityError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (p *Persistence) AppendExecutionLog(_ context.Context, entry *models.ExecutionLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	p.executionLogs[entry.ExecutionID] = append(p.executionLogs[entry.ExecutionID], entry)

	return nil
}

func (p *Persistence) ExecutionLogs(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]*models.ExecutionLog(nil), p.executionLogs[executionID]...), nil
}

// async executions

// The async map holds its own copies and lookups return copies. Manager
// goroutines (poller, watchdog, webhook handler) each mutate their own
// snapshot and converge through TransitionStatus.

func (p *Persistence) SaveAsyncExecution(_ context.Context, execution *models.AsyncActionExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now
	p.asyncExecutions[execution.ID] = cloneAsyncExecution(execution)

	return nil
}

func (p *Persistence) AsyncExecutionByID(_ context.Context, id string) (*models.AsyncActionExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.asyncExecutions[id]
	if !ok {
		return nil, persistence.NewEntityError("AsyncExecutionByID", "async execution", id, persistence.ErrAsyncExecutionNotFound)
	}

	return cloneAsyncExecution(execution), nil
}

func (p *Persistence) AsyncExecutionByWebhookIdentifier(_ context.Context, identifier string) (*models.AsyncActionExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, execution := range p.asyncExecutions {
		if execution.WebhookIdentifier == identifier && !execution.Status.IsTerminal() {
			return cloneAsyncExecution(execution), nil
		}
	}

	return nil, persistence.NewEntityError("AsyncExecutionByWebhookIdentifier", "async execution", identifier, persistence.ErrAsyncExecutionNotFound)
}

func (p *Persistence) UpdateAsyncExecution(_ context.Context, execution *models.AsyncActionExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.asyncExecutions[execution.ID]; !ok {
		return persistence.NewEntityError("UpdateAsyncExecution", "async execution", execution.ID, persistence.ErrAsyncExecutionNotFound)
	}

	execution.UpdatedAt = time.Now().UTC()
	p.asyncExecutions[execution.ID] = cloneAsyncExecution(execution)

	return nil
}

func (p *Persistence) TransitionStatus(_ context.Context, execution *models.AsyncActionExecution, allowedFrom []models.AsyncStatus, to models.AsyncStatus) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.asyncExecutions[execution.ID]
	if !ok {
		return false, persistence.NewEntityError("TransitionStatus", "async execution", execution.ID, persistence.ErrAsyncExecutionNotFound)
	}

	allowed := false

	for _, from := range allowedFrom {
		if stored.Status == from {
			allowed = true

			break
		}
	}

	if !allowed {
		return false, nil
	}

	now := time.Now().UTC()
	execution.Status = to
	execution.UpdatedAt = now

	if to.IsTerminal() {
		execution.CompletedAt = &now
	}

	p.asyncExecutions[execution.ID] = cloneAsyncExecution(execution)

	return true, nil
}

func cloneAsyncExecution(execution *models.AsyncActionExecution) *models.AsyncActionExecution {
	copied := *execution
	copied.InitialRequest = maps.Clone(execution.InitialRequest)
	copied.InitialResponse = maps.Clone(execution.InitialResponse)
	copied.LastPollingResponse = maps.Clone(execution.LastPollingResponse)
	copied.FinalResponse = maps.Clone(execution.FinalResponse)
	copied.ResponseMappings = slices.Clone(execution.ResponseMappings)

	return &copied
}

func (p *Persistence) AppendAsyncProgress(_ context.Context, progress *models.AsyncActionProgress) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if progress.ID == "" {
		progress.ID = uuid.New().String()
	}

	if progress.CreatedAt.IsZero() {
		progress.CreatedAt = time.Now().UTC()
	}

	p.asyncProgress[progress.ExecutionID] = append(p.asyncProgress[progress.ExecutionID], progress)

	return nil
}

func (p *Persistence) AsyncProgress(_ context.Context, executionID string) ([]*models.AsyncActionProgress, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]*models.AsyncActionProgress(nil), p.asyncProgress[executionID]...), nil
}

func stamp(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}

	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}

	*updatedAt = now
}
