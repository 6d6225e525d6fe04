package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SagaStep is one forward action with its compensating action.
// Compensate may be nil when the step has nothing to undo.
type SagaStep struct {
	Name       string
	Forward    func(ctx context.Context) error
	Compensate func(ctx context.Context, cause error) error
}

// SagaError reports the step that failed
type SagaError struct {
	Step string
	Err  error
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *SagaError) Unwrap() error { return e.Err }

// Saga runs steps in order. When a step fails, the steps that already
// completed are compensated in reverse order. Compensation failures are
// logged and never replace the original error.
type Saga struct {
	name   string
	steps  []SagaStep
	logger *logrus.Logger
	fields logrus.Fields
}

// NewSaga creates an empty saga
func NewSaga(name string, logger *logrus.Logger, fields logrus.Fields) *Saga {
	if fields == nil {
		fields = logrus.Fields{}
	}
	return &Saga{name: name, logger: logger, fields: fields}
}

// Step appends a step
func (s *Saga) Step(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the saga
func (s *Saga) Run(ctx context.Context) error {
	completed := make([]SagaStep, 0, len(s.steps))

	for _, step := range s.steps {
		log := s.logger.WithFields(s.fields).WithFields(logrus.Fields{"saga": s.name, "step": step.Name})
		log.Debug("Saga step started")

		if err := step.Forward(ctx); err != nil {
			log.WithError(err).Warn("Saga step failed, compensating")
			s.compensate(ctx, completed, err)
			return &SagaError{Step: step.Name, Err: err}
		}

		completed = append(completed, step)
		log.Debug("Saga step completed")
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, completed []SagaStep, cause error) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		log := s.logger.WithFields(s.fields).WithFields(logrus.Fields{"saga": s.name, "step": step.Name})
		if err := step.Compensate(ctx, cause); err != nil {
			log.WithError(err).Error("CRITICAL: Compensation failed")
			continue
		}
		log.Info("Saga step compensated")
	}
}
