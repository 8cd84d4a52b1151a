package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tutorly/internal/logging"
	"tutorly/internal/models"
	"tutorly/internal/redis"
)

const (
	redisProgressChannel = "worker:progress"
	redisStateTTL        = 30 * time.Minute
)

type progressMessage struct {
	Origin string          `json:"origin"`
	Job    models.AudioJob `json:"job"`
}

// stateRedis mirrors job snapshots so any gateway instance can answer
// status queries and push progress to its websocket clients.
type stateRedis struct {
	client *redis.Client
	origin string
}

func newStateCache(client *redis.Client, origin string) *stateRedis {
	if client == nil {
		return nil
	}
	return &stateRedis{client: client, origin: origin}
}

func jobKey(jobID string) string { return "worker:job:" + jobID }

func userJobsKey(userID string) string { return "worker:jobs:" + userID }

// startListener delivers snapshots published by other instances until ctx ends.
func (r *stateRedis) startListener(ctx context.Context, handler func(models.AudioJob)) {
	if r == nil || handler == nil {
		return
	}
	pubsub, err := r.client.Subscribe(ctx, redisProgressChannel)
	if err != nil {
		logging.L().WithError(err).Warn("worker progress subscribe failed")
		return
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var pm progressMessage
				if err := json.Unmarshal([]byte(msg.Payload), &pm); err != nil {
					logging.L().WithError(err).Warn("worker progress decode failed")
					continue
				}
				if pm.Origin == r.origin {
					continue
				}
				handler(pm.Job)
			}
		}
	}()
}

func (r *stateRedis) publishProgress(job models.AudioJob) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(progressMessage{Origin: r.origin, Job: job})
	if err != nil {
		logging.L().WithError(err).Warn("worker progress marshal failed")
		return
	}
	if err := r.client.Publish(context.Background(), redisProgressChannel, payload); err != nil {
		logging.L().WithError(err).Warn("worker publish progress failed")
	}
}

func (r *stateRedis) cacheJob(job models.AudioJob) {
	if r == nil || job.ID == "" {
		return
	}
	ctx := context.Background()
	data, err := json.Marshal(job)
	if err != nil {
		logging.L().WithError(err).Warn("worker rdb job marshal failed")
		return
	}
	if err := r.client.Set(ctx, jobKey(job.ID), data, redisStateTTL); err != nil {
		logging.L().WithError(err).Warn("worker rdb job failed")
		return
	}
	if err := r.client.AddToSet(ctx, userJobsKey(job.UserID), redisStateTTL, job.ID); err != nil {
		logging.L().WithError(err).Warn("worker rdb job index failed")
	}
}

// loadJob returns a snapshot only when it belongs to userID.
func (r *stateRedis) loadJob(userID, jobID string) (models.AudioJob, bool) {
	if r == nil || jobID == "" {
		return models.AudioJob{}, false
	}
	raw, err := r.client.GetBytes(context.Background(), jobKey(jobID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logging.L().WithError(err).Warn("worker load job rdb failed")
		}
		return models.AudioJob{}, false
	}
	var job models.AudioJob
	if err := json.Unmarshal(raw, &job); err != nil {
		logging.L().WithError(err).Warn("worker decode job rdb failed")
		return models.AudioJob{}, false
	}
	if job.UserID != userID {
		return models.AudioJob{}, false
	}
	return job, true
}

func (r *stateRedis) loadJobs(userID string) []models.AudioJob {
	if r == nil {
		return nil
	}
	ids, err := r.client.Members(context.Background(), userJobsKey(userID))
	if err != nil {
		logging.L().WithError(err).Warn("worker load job index rdb failed")
		return nil
	}
	jobs := make([]models.AudioJob, 0, len(ids))
	for _, id := range ids {
		if job, ok := r.loadJob(userID, id); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (r *stateRedis) invalidateUser(userID string) {
	if r == nil {
		return
	}
	ctx := context.Background()
	ids, _ := r.client.Members(ctx, userJobsKey(userID))
	keys := []string{userJobsKey(userID)}
	for _, id := range ids {
		keys = append(keys, jobKey(id))
	}
	if err := r.client.Del(ctx, keys...); err != nil {
		logging.L().WithError(err).Warn("worker invalidate user rdb failed")
	}
}
