package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/id"
	"github.com/fivestones/gmpreport/job"
)

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return gmpreport.ErrJobAlreadyExists
		}
		return fmt.Errorf("gmpreport/mongo: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims due jobs one FindOneAndUpdate at a time until limit
// is reached or nothing is due. Each claim marks the job running and
// counts the delivery. An empty queue list matches every queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	t := now()
	col := s.db.Collection(colJobs)

	filter := bson.M{
		"state":  bson.M{"$in": []string{string(job.StatePending), string(job.StateRetrying)}},
		"run_at": bson.M{"$lte": t},
	}
	if len(queues) > 0 {
		filter["queue"] = bson.M{"$in": queues}
	}

	update := bson.M{
		"$set": bson.M{
			"state":        string(job.StateRunning),
			"started_at":   t,
			"heartbeat_at": t,
			"updated_at":   t,
		},
		"$inc": bson.M{"attempt": 1},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "priority", Value: -1},
			{Key: "run_at", Value: 1},
		})

	var jobs []*job.Job
	for limit <= 0 || len(jobs) < limit {
		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("gmpreport/mongo: dequeue jobs: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, gmpreport.ErrJobNotFound
		}
		return nil, fmt.Errorf("gmpreport/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob replaces an existing job document.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.db.Collection(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("gmpreport/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("gmpreport/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state ordered by creation time.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"state": string(state)}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.findJobs(ctx, "list jobs by state", filter, findOpts)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{"$set": bson.M{
			"heartbeat_at": t,
			"worker_id":    workerID.String(),
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("gmpreport/mongo: heartbeat job: %w", err)
	}
	if res.MatchedCount == 0 {
		return gmpreport.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	filter := bson.M{
		"state":        string(job.StateRunning),
		"heartbeat_at": bson.M{"$ne": nil, "$lt": now().Add(-threshold)},
	}
	return s.findJobs(ctx, "reap stale jobs", filter, options.Find())
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	count, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("gmpreport/mongo: count jobs: %w", err)
	}
	return count, nil
}

func (s *Store) findJobs(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/mongo: %s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("gmpreport/mongo: %s decode: %w", op, err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
