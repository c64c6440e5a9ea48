// Package service runs the workbook pipeline: analyze an upload, modify it
// with the user's text and the policy table, validate the result, and build
// blank templates. Parse and serialize jobs are bounded by a semaphore.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"torg12-server/internal/analyzer"
	"torg12-server/internal/cellref"
	"torg12-server/internal/formtemplate"
	"torg12-server/internal/models"
	"torg12-server/internal/modifier"
	"torg12-server/internal/policy"
	"torg12-server/internal/session"
	"torg12-server/internal/validation"
	"torg12-server/pkg/config"
)

type Service struct {
	policy    *policy.Policy
	analyzer  *analyzer.Analyzer
	modifier  *modifier.Modifier
	validator *validation.Validator
	generator *formtemplate.Generator
	sessions  *session.Store
	jobs      *semaphore.Weighted
	workbook  config.WorkbookConfig
	logger    *zap.Logger
}

// New wires the pipeline for cfg. sessions may be nil when only the
// stateless operations are used, as by the CLI.
func New(cfg *config.Config, sessions *session.Store, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	structure := formtemplate.Default()
	if path := cfg.Workbook.TemplatePath; path != "" {
		s, err := formtemplate.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load template structure: %w", err)
		}
		structure = s
	}
	generator, err := formtemplate.NewGenerator(structure, logger.Named("template"))
	if err != nil {
		return nil, err
	}

	p := policy.Default()
	jobs := cfg.Server.MaxConcurrentReqs
	if jobs < 1 {
		jobs = 1
	}

	return &Service{
		policy:    p,
		analyzer:  analyzer.New(p, logger.Named("analyzer")),
		modifier:  modifier.New(p, logger.Named("modifier")),
		validator: validation.New(p, logger.Named("validator")),
		generator: generator,
		sessions:  sessions,
		jobs:      semaphore.NewWeighted(int64(jobs)),
		workbook:  cfg.Workbook,
		logger:    logger,
	}, nil
}

func (s *Service) Policy() *policy.Policy {
	return s.policy
}

func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// run holds one job slot for the duration of fn.
func (s *Service) run(ctx context.Context, fn func() error) error {
	if err := s.jobs.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.jobs.Release(1)
	return fn()
}

func (s *Service) Analyze(ctx context.Context, data []byte) (*models.Analysis, error) {
	var out *models.Analysis
	err := s.run(ctx, func() error {
		var err error
		out, err = s.analyzer.Analyze(ctx, data)
		return err
	})
	return out, err
}

// Upload is the result of opening a session on a workbook.
type Upload struct {
	SessionID string              `json:"session_id"`
	Token     string              `json:"token"`
	Metadata  models.FileMetadata `json:"metadata"`
	Sheet     string              `json:"sheet"`
	Records   int                 `json:"records"`
	Merges    int                 `json:"merges"`
}

// Upload analyzes data and keeps it with its analysis in a new session.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (*Upload, error) {
	if s.sessions == nil {
		return nil, fmt.Errorf("sessions are not enabled")
	}
	analysis, err := s.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}

	sess, token, err := s.sessions.Create(filename, data, analysis)
	if err != nil {
		return nil, err
	}

	return &Upload{
		SessionID: sess.ID,
		Token:     token,
		Metadata:  sess.Metadata,
		Sheet:     analysis.Sheet,
		Records:   len(analysis.Records),
		Merges:    len(analysis.Merges),
	}, nil
}

// Session looks up a session by id.
func (s *Service) Session(id string) (*session.Session, error) {
	if s.sessions == nil {
		return nil, session.ErrNotFound
	}
	return s.sessions.Get(id)
}

// Cells returns the recorded cells of a session inside area, row-major.
func (s *Service) Cells(id string, area cellref.Area) ([]models.CellStyleRecord, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.Index.Range(area), nil
}

// Search returns the recorded cells of a session whose text equals q,
// ignoring case.
func (s *Service) Search(id, q string) ([]models.CellStyleRecord, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.Index.Search(q), nil
}

func (s *Service) filename(name string) string {
	if name != "" {
		return name
	}
	return s.workbook.OutputFilename
}

func (s *Service) comment(text string) string {
	if text != "" {
		return text
	}
	return s.workbook.DefaultCommentText
}

// ModifySession produces the modified workbook of a session and keeps it as
// the session's last output. ErrBusy is returned while another job runs on
// the same session.
func (s *Service) ModifySession(ctx context.Context, id, text, filename string) (*models.ModifyResult, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	if err := sess.TryAcquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	original, err := sess.Original()
	if err != nil {
		return nil, err
	}

	result, err := s.modify(ctx, original, sess.Analysis.Records, text, filename)
	if err != nil {
		return nil, err
	}

	if err := sess.SetLastOutput(result.Filename, result.Data); err != nil {
		s.logger.Warn("Failed to keep last output", zap.String("session", id), zap.Error(err))
	}
	return result, nil
}

// Modify analyzes and modifies a workbook in one call.
func (s *Service) Modify(ctx context.Context, data []byte, text, filename string) (*models.ModifyResult, error) {
	analysis, err := s.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}
	return s.modify(ctx, data, analysis.Records, text, filename)
}

func (s *Service) modify(ctx context.Context, original []byte, records []models.CellStyleRecord, text, filename string) (*models.ModifyResult, error) {
	var out *models.ModifyResult
	start := time.Now()
	err := s.run(ctx, func() error {
		var err error
		out, err = s.modifier.Modify(ctx, modifier.Request{
			Original: original,
			Records:  records,
			Filename: s.filename(filename),
			Comment:  s.comment(text),
		})
		return err
	})
	if err == nil {
		s.logger.Debug("Modify finished", zap.Duration("elapsed", time.Since(start)))
	}
	return out, err
}

// ValidateSession checks data against the session's original records. With
// no data it checks the session's last output, or the original itself when
// nothing has been produced yet.
func (s *Service) ValidateSession(ctx context.Context, id string, data []byte) (*models.ValidationSummary, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	if err := sess.TryAcquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	if data == nil {
		_, last, ok, err := sess.LastOutput()
		if err != nil {
			return nil, err
		}
		if ok {
			data = last
		} else if data, err = sess.Original(); err != nil {
			return nil, err
		}
	}

	var out *models.ValidationSummary
	err = s.run(ctx, func() error {
		var err error
		out, err = s.validator.ValidateIndex(ctx, data, sess.Index)
		return err
	})
	return out, err
}

// Validate checks produced against the records of original.
func (s *Service) Validate(ctx context.Context, produced, original []byte) (*models.ValidationSummary, error) {
	analysis, err := s.Analyze(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("original: %w", err)
	}

	var out *models.ValidationSummary
	err = s.run(ctx, func() error {
		var err error
		out, err = s.validator.Validate(ctx, produced, analysis.Records)
		return err
	})
	return out, err
}

// Template renders the blank form with text in the placeholder cell.
func (s *Service) Template(ctx context.Context, text string) ([]byte, string, error) {
	var data []byte
	err := s.run(ctx, func() error {
		var err error
		data, err = s.generator.Generate(ctx, text)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	name := s.workbook.TemplateFilename
	if name == "" {
		name = formtemplate.DefaultFilename
	}
	return data, name, nil
}
