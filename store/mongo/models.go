package mongo

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

type jobModel struct {
	ID          string     `bson:"_id"`
	ChainID     string     `bson:"chain_id"`
	Name        string     `bson:"name"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	State       string     `bson:"state"`
	Priority    int        `bson:"priority"`
	Attempt     int        `bson:"attempt"`
	MaxAttempts int        `bson:"max_attempts"`
	LastError   string     `bson:"last_error"`
	Account     string     `bson:"account"`
	WorkerID    string     `bson:"worker_id"`
	RunAt       time.Time  `bson:"run_at"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	HeartbeatAt *time.Time `bson:"heartbeat_at,omitempty"`
	Timeout     int64      `bson:"timeout"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
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
		return nil, fmt.Errorf("gmpreport/mongo: parse job id %q: %w", m.ID, err)
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

type dlqModel struct {
	ID          string     `bson:"_id"`
	JobID       string     `bson:"job_id"`
	ChainID     string     `bson:"chain_id"`
	JobName     string     `bson:"job_name"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	Error       string     `bson:"error"`
	Reason      string     `bson:"reason"`
	Attempt     int        `bson:"attempt"`
	MaxAttempts int        `bson:"max_attempts"`
	Account     string     `bson:"account"`
	FailedAt    time.Time  `bson:"failed_at"`
	ReplayedAt  *time.Time `bson:"replayed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
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
		return nil, fmt.Errorf("gmpreport/mongo: parse dlq id %q: %w", m.ID, err)
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
	Account      string     `bson:"account"`
	AccessToken  string     `bson:"access_token"`
	TokenType    string     `bson:"token_type"`
	RefreshToken string     `bson:"refresh_token"`
	Expiry       *time.Time `bson:"expiry,omitempty"`
	UpdatedAt    time.Time  `bson:"updated_at"`
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
