package viva

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

// recordedQuestion labels transcribed submission recordings in the
// interview context.
const recordedQuestion = "Recorded explanation"

// AddSubmissionMedia stores a recording attached to a draft submission and
// transcribes it. When transcription fails the recording is kept without a
// transcript.
func (o *Orchestrator) AddSubmissionMedia(ctx context.Context, submissionID, uploaderID int64, ans Answer) (*model.MediaAsset, error) {
	sub, err := o.store.GetSubmission(submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %d: %w", submissionID, ErrNotFound)
	}
	if sub.Status != model.SubmissionDraft {
		return nil, fmt.Errorf("submission %d is %s: %w", submissionID, sub.Status, ErrInvalidState)
	}

	asset, err := o.media.Save(ctx, ans.Reader, ans.Format)
	if err != nil {
		return nil, fmt.Errorf("save media: %w", err)
	}
	asset.OwnerType = model.OwnerSubmission
	asset.OwnerID = submissionID
	asset.UploadedBy = uploaderID

	discard := func() {
		if err := o.media.Delete(asset); err != nil {
			slog.Error("failed to delete unused media", "id", asset.ID, "error", err)
		}
	}

	t, err := o.transcribe(ctx, asset)
	switch {
	case err != nil && ctx.Err() != nil:
		discard()
		return nil, ctx.Err()
	case err != nil:
		slog.Warn("submission media stored without transcript", "id", asset.ID, "submission_id", submissionID, "error", err)
	default:
		if err := o.media.AttachTranscript(asset, t); err != nil {
			discard()
			return nil, fmt.Errorf("attach transcript: %w", err)
		}
	}

	if err := o.store.InsertMediaAsset(*asset); err != nil {
		discard()
		return nil, fmt.Errorf("insert media asset: %w", err)
	}
	slog.Info("submission media added", "id", asset.ID, "submission_id", submissionID, "transcribed", asset.TranscriptPath != "")
	return asset, nil
}

// RemoveSubmissionMedia deletes a recording from a draft submission.
// Interview recordings are evidence and cannot be removed.
func (o *Orchestrator) RemoveSubmissionMedia(_ context.Context, asset *model.MediaAsset) error {
	if asset.OwnerType != model.OwnerSubmission {
		return fmt.Errorf("media %s belongs to a %s: %w", asset.ID, asset.OwnerType, ErrInvalidState)
	}
	sub, err := o.store.GetSubmission(asset.OwnerID)
	if err != nil {
		return fmt.Errorf("get submission: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("submission %d: %w", asset.OwnerID, ErrNotFound)
	}
	if sub.Status != model.SubmissionDraft {
		return fmt.Errorf("submission %d is %s: %w", sub.ID, sub.Status, ErrInvalidState)
	}

	if err := o.store.DeleteMediaAsset(asset.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("media %s: %w", asset.ID, ErrNotFound)
		}
		return fmt.Errorf("delete media asset: %w", err)
	}
	if err := o.media.Delete(asset); err != nil {
		slog.Error("failed to delete media files", "id", asset.ID, "error", err)
	}
	slog.Info("submission media removed", "id", asset.ID, "submission_id", sub.ID)
	return nil
}

// recordedExplanations returns the transcripts of a submission's recordings.
// Unreadable transcripts are skipped.
func (o *Orchestrator) recordedExplanations(sub *model.Submission) []model.WrittenAnswer {
	if sub == nil {
		return nil
	}
	assets, err := o.store.ListMediaAssets(model.OwnerSubmission, sub.ID)
	if err != nil {
		slog.Warn("failed to list submission media", "submission_id", sub.ID, "error", err)
		return nil
	}
	var out []model.WrittenAnswer
	for i := range assets {
		if assets[i].TranscriptPath == "" {
			continue
		}
		t, err := o.media.ReadTranscript(&assets[i])
		if err != nil {
			slog.Warn("failed to read transcript", "id", assets[i].ID, "error", err)
			continue
		}
		if t.Text != "" {
			out = append(out, model.WrittenAnswer{Question: recordedQuestion, Answer: t.Text})
		}
	}
	return out
}
