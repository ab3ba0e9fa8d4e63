package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

// EvaluationRecorder persists completed exchanges for offline evaluation.
type EvaluationRecorder struct {
	dataset ports.EvaluationDataset
}

func NewEvaluationRecorder(dataset ports.EvaluationDataset) *EvaluationRecorder {
	return &EvaluationRecorder{dataset: dataset}
}

func (uc *EvaluationRecorder) Record(ctx context.Context, record domain.EvaluationRecord) error {
	record.ProjectID = strings.TrimSpace(record.ProjectID)
	record.Question = strings.TrimSpace(record.Question)
	if record.ProjectID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record evaluation", errors.New("project_id is required"))
	}
	if record.MessageID == "" || record.Question == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record evaluation", errors.New("message_id and question are required"))
	}

	contexts := record.Contexts[:0:0]
	for _, c := range record.Contexts {
		if c = strings.TrimSpace(c); c != "" && c != domain.NoContextSentinel {
			contexts = append(contexts, c)
		}
	}
	record.Contexts = contexts

	if err := uc.dataset.Append(ctx, record); err != nil {
		return fmt.Errorf("append evaluation record: %w", err)
	}
	slog.InfoContext(ctx, "evaluation_recorded",
		"project_id", record.ProjectID,
		"chat_id", record.ChatID,
		"message_id", record.MessageID,
		"contexts", len(record.Contexts),
	)
	return nil
}
