package viva

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/viva/internal/media"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/transcribe"
)

func (f *fixture) draft(t *testing.T) int64 {
	t.Helper()
	id, err := f.store.CreateSubmission(model.Submission{AssignmentID: f.assignment, StudentID: f.studentID})
	require.NoError(t, err)
	return id
}

func recording(body string) Answer {
	return Answer{Reader: strings.NewReader(body), Format: "webm"}
}

func TestAddSubmissionMedia(t *testing.T) {
	f := newFixture(t, 3)
	subID := f.draft(t)
	f.stt.Add(transcribe.MockResult{Text: "goroutines share an address space"})

	asset, err := f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording("audio bytes"))
	require.NoError(t, err)
	assert.Equal(t, model.OwnerSubmission, asset.OwnerType)
	assert.Equal(t, subID, asset.OwnerID)
	assert.Equal(t, f.studentID, asset.UploadedBy)

	stored, err := f.store.GetMediaAsset(asset.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	tr, err := f.media.ReadTranscript(stored)
	require.NoError(t, err)
	assert.Equal(t, "goroutines share an address space", tr.Text)
}

func TestAddSubmissionMedia_TranscriptionFailureKeepsFile(t *testing.T) {
	f := newFixture(t, 3)
	subID := f.draft(t)

	asset, err := f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording("audio bytes"))
	require.NoError(t, err)
	assert.Empty(t, asset.TranscriptPath)
	assert.Equal(t, 2, f.stt.CallCount())

	_, err = f.media.ReadTranscript(asset)
	assert.ErrorIs(t, err, media.ErrNoTranscript)
	assets, err := f.store.ListMediaAssets(model.OwnerSubmission, subID)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

func TestAddSubmissionMedia_Rejected(t *testing.T) {
	f := newFixture(t, 3)
	subID := f.draft(t)

	_, err := f.orch.AddSubmissionMedia(context.Background(), 9999, f.studentID, recording("audio bytes"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording(""))
	assert.ErrorIs(t, err, media.ErrEmpty)

	require.NoError(t, f.store.MarkSubmitted(subID))
	_, err = f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording("audio bytes"))
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Zero(t, f.stt.CallCount())
	assert.Zero(t, mediaFiles(t, f.mediaRoot))
}

func TestAddSubmissionMedia_CancelledDiscardsFile(t *testing.T) {
	f := newFixture(t, 3)
	subID := f.draft(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.orch.transcriber = transcriberFunc(func(ctx context.Context, a transcribe.Audio) (*model.Transcript, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := f.orch.AddSubmissionMedia(ctx, subID, f.studentID, recording("audio bytes"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mediaFiles(t, f.mediaRoot))
	assets, err := f.store.ListMediaAssets(model.OwnerSubmission, subID)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestRemoveSubmissionMedia(t *testing.T) {
	f := newFixture(t, 3)
	subID := f.draft(t)
	f.stt.Add(transcribe.MockResult{Text: "hello"})
	asset, err := f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording("audio bytes"))
	require.NoError(t, err)

	require.NoError(t, f.orch.RemoveSubmissionMedia(context.Background(), asset))
	stored, err := f.store.GetMediaAsset(asset.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Zero(t, mediaFiles(t, f.mediaRoot))

	err = f.orch.RemoveSubmissionMedia(context.Background(), asset)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveSubmissionMedia_Rejected(t *testing.T) {
	f := newFixture(t, 3)
	subID := f.draft(t)
	f.stt.Add(transcribe.MockResult{Text: "hello"})
	asset, err := f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording("audio bytes"))
	require.NoError(t, err)
	require.NoError(t, f.store.MarkSubmitted(subID))

	err = f.orch.RemoveSubmissionMedia(context.Background(), asset)
	assert.ErrorIs(t, err, ErrInvalidState)

	answer := &model.MediaAsset{ID: "x", OwnerType: model.OwnerQuestionAnswer, OwnerID: 1}
	err = f.orch.RemoveSubmissionMedia(context.Background(), answer)
	assert.ErrorIs(t, err, ErrInvalidState)

	stored, err := f.store.GetMediaAsset(asset.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestStart_IncludesRecordedExplanations(t *testing.T) {
	f := newFixture(t, 3)
	subID := f.draft(t)
	f.stt.Add(transcribe.MockResult{Text: "the scheduler multiplexes goroutines"})
	_, err := f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording("audio bytes"))
	require.NoError(t, err)
	_, err = f.orch.AddSubmissionMedia(context.Background(), subID, f.studentID, recording("no transcript"))
	require.NoError(t, err)
	require.NoError(t, f.store.MarkSubmitted(subID))

	f.llm.AddJSON(`{"question":"Q0"}`)
	_, err = f.orch.Start(context.Background(), StartRequest{AssignmentID: f.assignment, StudentID: f.studentID})
	require.NoError(t, err)

	require.Len(t, f.llm.Calls, 1)
	prompt := f.llm.Calls[0].Messages[0].Content
	assert.Contains(t, prompt, recordedQuestion)
	assert.Contains(t, prompt, "the scheduler multiplexes goroutines")
	assert.Equal(t, 1, strings.Count(prompt, recordedQuestion))
}
