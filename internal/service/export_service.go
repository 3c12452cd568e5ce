package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskhub/internal/authz"
	"taskhub/internal/domain"
	"taskhub/internal/presenter"
	"taskhub/internal/repository"
	"taskhub/internal/storage"
)

// ExportResult describes an uploaded export document.
type ExportResult struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}

// ExportService snapshots the tasks visible to an actor into object storage.
type ExportService interface {
	Export(ctx context.Context, actor *domain.User, filter repository.TaskFilter) (*ExportResult, error)
	List(ctx context.Context, actor *domain.User) ([]storage.ObjectInfo, error)
}

type exportService struct {
	tasks  TaskService
	store  storage.Service
	bucket string
	prefix string
	logger *logrus.Logger
	now    func() time.Time
}

// NewExportService returns a service that reports ErrExportsDisabled when
// store is nil or bucket is empty.
func NewExportService(tasks TaskService, store storage.Service, bucket, prefix string, logger *logrus.Logger) ExportService {
	if logger == nil {
		logger = logrus.New()
	}
	return &exportService{
		tasks:  tasks,
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
		now:    time.Now,
	}
}

func (s *exportService) Export(ctx context.Context, actor *domain.User, filter repository.TaskFilter) (*ExportResult, error) {
	if !authz.Allow(actor, authz.ActionExport, authz.ResourceTasks) {
		return nil, domain.ErrForbidden
	}
	if !s.enabled() {
		return nil, domain.ErrExportsDisabled
	}

	tasks, err := s.tasks.ListTasks(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(presenter.Tasks(tasks))
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}

	key := fmt.Sprintf("tasks-%s-%s.json", s.now().UTC().Format("20060102T150405Z"), uuid.NewString())
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	location, err := s.store.PutObject(ctx, bytes.NewReader(payload), storage.PutOptions{
		Bucket:      s.bucket,
		Key:         key,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", actor.ID).Infof("exported %d tasks to %s", len(tasks), location)
	return &ExportResult{Location: location, Count: len(tasks)}, nil
}

func (s *exportService) List(ctx context.Context, actor *domain.User) ([]storage.ObjectInfo, error) {
	if !authz.Allow(actor, authz.ActionExport, authz.ResourceTasks) {
		return nil, domain.ErrForbidden
	}
	if !s.enabled() {
		return nil, domain.ErrExportsDisabled
	}
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	return s.store.ListObjects(ctx, s.bucket, prefix)
}

func (s *exportService) enabled() bool {
	return s.store != nil && s.bucket != ""
}
