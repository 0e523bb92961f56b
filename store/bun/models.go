package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:gmpreport_jobs"`

	ID          string     `bun:"id,pk"`
	ChainID     string     `bun:"chain_id,notnull"`
	Name        string     `bun:"name,notnull"`
	Queue       string     `bun:"queue,notnull"`
	Payload     []byte     `bun:"payload,notnull,type:bytea"`
	State       string     `bun:"state,notnull"`
	Priority    int        `bun:"priority,notnull"`
	Attempt     int        `bun:"attempt,notnull"`
	MaxAttempts int        `bun:"max_attempts,notnull"`
	LastError   string     `bun:"last_error,notnull"`
	Account     string     `bun:"account,notnull"`
	WorkerID    string     `bun:"worker_id,notnull"`
	RunAt       time.Time  `bun:"run_at,notnull"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	HeartbeatAt *time.Time `bun:"heartbeat_at"`
	Timeout     int64      `bun:"timeout,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		ChainID:     j.ChainID.String(),
		Name:        j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		State:       string(j.State),
		Priority:    j.Priority,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		Account:     j.Account,
		WorkerID:    j.WorkerID.String(),
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		HeartbeatAt: j.HeartbeatAt,
		Timeout:     j.Timeout.Nanoseconds(),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: gmpreport.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Name:        m.Name,
		Queue:       m.Queue,
		Payload:     m.Payload,
		State:       job.State(m.State),
		Priority:    m.Priority,
		Attempt:     m.Attempt,
		MaxAttempts: m.MaxAttempts,
		LastError:   m.LastError,
		Account:     m.Account,
		RunAt:       m.RunAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		HeartbeatAt: m.HeartbeatAt,
		Timeout:     time.Duration(m.Timeout),
	}

	if m.ChainID != "" {
		if chain, cErr := id.ParseJobID(m.ChainID); cErr == nil {
			j.ChainID = chain
		}
	}
	if m.WorkerID != "" {
		if worker, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
			j.WorkerID = worker
		}
	}
	return j, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

type dlqModel struct {
	bun.BaseModel `bun:"table:gmpreport_dlq"`

	ID          string     `bun:"id,pk"`
	JobID       string     `bun:"job_id,notnull"`
	ChainID     string     `bun:"chain_id,notnull"`
	JobName     string     `bun:"job_name,notnull"`
	Queue       string     `bun:"queue,notnull"`
	Payload     []byte     `bun:"payload,notnull,type:bytea"`
	Error       string     `bun:"error,notnull"`
	Reason      string     `bun:"reason,notnull"`
	Attempt     int        `bun:"attempt,notnull"`
	MaxAttempts int        `bun:"max_attempts,notnull"`
	Account     string     `bun:"account,notnull"`
	FailedAt    time.Time  `bun:"failed_at,notnull"`
	ReplayedAt  *time.Time `bun:"replayed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:          e.ID.String(),
		JobID:       e.JobID.String(),
		ChainID:     e.ChainID.String(),
		JobName:     e.JobName,
		Queue:       e.Queue,
		Payload:     e.Payload,
		Error:       e.Error,
		Reason:      string(e.Reason),
		Attempt:     e.Attempt,
		MaxAttempts: e.MaxAttempts,
		Account:     e.Account,
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/bun: parse dlq id %q: %w", m.ID, err)
	}

	e := &dlq.Entry{
		ID:          entryID,
		JobName:     m.JobName,
		Queue:       m.Queue,
		Payload:     m.Payload,
		Error:       m.Error,
		Reason:      dlq.Reason(m.Reason),
		Attempt:     m.Attempt,
		MaxAttempts: m.MaxAttempts,
		Account:     m.Account,
		FailedAt:    m.FailedAt,
		ReplayedAt:  m.ReplayedAt,
		CreatedAt:   m.CreatedAt,
	}
	if jobID, jErr := id.ParseJobID(m.JobID); jErr == nil {
		e.JobID = jobID
	}
	if m.ChainID != "" {
		if chain, cErr := id.ParseJobID(m.ChainID); cErr == nil {
			e.ChainID = chain
		}
	}
	return e, nil
}

type credentialModel struct {
	bun.BaseModel `bun:"table:gmpreport_credentials"`

	Account      string     `bun:"account,pk"`
	AccessToken  string     `bun:"access_token,notnull"`
	TokenType    string     `bun:"token_type,notnull"`
	RefreshToken string     `bun:"refresh_token,notnull"`
	Expiry       *time.Time `bun:"expiry"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
}

func toCredentialModel(account string, tok *oauth2.Token) *credentialModel {
	m := &credentialModel{
		Account:      account,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		UpdatedAt:    time.Now().UTC(),
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		m.Expiry = &expiry
	}
	return m
}

func (m *credentialModel) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  m.AccessToken,
		TokenType:    m.TokenType,
		RefreshToken: m.RefreshToken,
	}
	if m.Expiry != nil {
		tok.Expiry = *m.Expiry
	}
	return tok
}
