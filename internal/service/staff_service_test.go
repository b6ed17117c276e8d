package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
	"github.com/spec-kit/doubt-service/internal/repository"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

func TestListForTeacherWithoutScopesSkipsQuery(t *testing.T) {
	h := newHarness(t)
	h.seedDoubt(t, domain.DoubtStatusOpen, 0)

	result, err := h.staff.ListForTeacher(context.Background(), studentB, ListFilters{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pagination.Total)
	assert.Empty(t, result.Records)
	assert.NotNil(t, result.Records)
	assert.Zero(t, h.store.ListCalls)
}

func TestListForTeacherPaginatesAndLabels(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	}
	h.store.PutDoubt(domain.Doubt{CourseID: 99, ContextID: otherScope, StudentID: studentB, Subject: "elsewhere", Status: domain.DoubtStatusOpen, Priority: domain.DoubtPriorityLow})

	result, err := h.staff.ListForTeacher(context.Background(), teacherT, ListFilters{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, Pagination{Page: 2, PerPage: 2, Total: 5, PageCount: 3}, result.Pagination)
	require.Len(t, result.Records, 2)

	item := result.Records[0]
	assert.Equal(t, "Mathematics 7", item.CourseName)
	assert.Equal(t, "Ana Ruiz", item.StudentName)
	assert.Equal(t, "Open", item.StatusLabel)
	assert.Equal(t, "Normal", item.PriorityLabel)
	assert.Equal(t, "Unassigned", item.AssigneeName)
	assert.Nil(t, item.AssigneeID)
	assert.Equal(t, "14 Nov 2023, 21:13", item.TimeCreatedDisplay)

	all, err := h.staff.ListForTeacher(context.Background(), teacherT, ListFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, all.Pagination.Page)
	assert.Equal(t, 0, all.Pagination.PageCount)
	assert.Len(t, all.Records, 5)
}

func TestListForTeacherSanitizesFilters(t *testing.T) {
	h := newHarness(t)
	open := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	resolved := h.seedDoubt(t, domain.DoubtStatusResolved, fixedNow.Unix())
	assignee := teacherT
	require.NoError(t, h.store.UpdateDoubtFields(context.Background(), resolved, repository.DoubtFields{AssignedTo: &assignee}))

	invalid, err := h.staff.ListForTeacher(context.Background(), managerM, ListFilters{Status: "closed", Priority: "meh"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, invalid.Pagination.Total)

	byStatus, err := h.staff.ListForTeacher(context.Background(), managerM, ListFilters{Status: "resolved"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, byStatus.Records, 1)
	assert.Equal(t, resolved, byStatus.Records[0].ID)
	assert.True(t, byStatus.Records[0].Resolved)
	assert.Equal(t, "Tina Park", byStatus.Records[0].AssigneeName)

	unassigned, err := h.staff.ListForTeacher(context.Background(), managerM, ListFilters{Assigned: "unassigned"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, unassigned.Records, 1)
	assert.Equal(t, open, unassigned.Records[0].ID)

	mine, err := h.staff.ListForTeacher(context.Background(), teacherT, ListFilters{Assigned: "me"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, mine.Records, 1)
	assert.Equal(t, resolved, mine.Records[0].ID)

	search, err := h.staff.ListForTeacher(context.Background(), managerM, ListFilters{Search: "ANA@EXAMPLE"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, search.Pagination.Total)

	none, err := h.staff.ListForTeacher(context.Background(), managerM, ListFilters{Search: "nobody"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, none.Pagination.Total)
}

func TestListForTeacherSystemManagerSeesEverything(t *testing.T) {
	h := newHarness(t)
	h.store.Grant(99, domain.SystemScopeID, domain.CapabilityManage)
	h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	h.store.PutDoubt(domain.Doubt{CourseID: 99, ContextID: otherScope, StudentID: studentB, Subject: "elsewhere", Status: domain.DoubtStatusOpen, Priority: domain.DoubtPriorityLow})

	result, err := h.staff.ListForTeacher(context.Background(), 99, ListFilters{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pagination.Total)
}

func TestGetSummaryCountsAccessibleScopes(t *testing.T) {
	h := newHarness(t)
	h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	h.seedDoubt(t, domain.DoubtStatusWaitingStudent, 0)

	counts, err := h.staff.GetSummary(context.Background(), teacherT)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Open)
	assert.Equal(t, 1, counts.WaitingStudent)
	assert.Equal(t, 3, counts.Unassigned)
	assert.Equal(t, 3, counts.Total)

	empty, err := h.staff.GetSummary(context.Background(), studentA)
	require.NoError(t, err)
	assert.Equal(t, domain.SummaryCounts{}, empty)
}

func TestGetDetailEnforcesViewCapability(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusInProgress, 0)
	ctx := context.Background()

	_, err := h.staff.GetDetail(ctx, 9999, teacherT)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = h.staff.GetDetail(ctx, id, outsiderO)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	for _, user := range []int64{viewerV, teacherT, managerM} {
		detail, err := h.staff.GetDetail(ctx, id, user)
		require.NoError(t, err, user)
		assert.Equal(t, "Seeded doubt", detail.Doubt.Subject)
	}

	viewer, err := h.staff.GetDetail(ctx, id, viewerV)
	require.NoError(t, err)
	assert.False(t, viewer.CanReply)
	assert.False(t, viewer.CanManage)

	manager, err := h.staff.GetDetail(ctx, id, managerM)
	require.NoError(t, err)
	assert.True(t, manager.CanReply)
	assert.True(t, manager.CanManage)

	require.Len(t, manager.StatusOptions, len(domain.AllDoubtStatuses()))
	selected := 0
	for _, option := range manager.StatusOptions {
		if option.Selected {
			selected++
			assert.Equal(t, domain.DoubtStatusInProgress, option.Value)
		}
	}
	assert.Equal(t, 1, selected)
}

func TestReplyValidatesBeforeWriting(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	ctx := context.Background()

	_, err := h.staff.Reply(ctx, id, viewerV, ReplyInput{Message: "hi", Visibility: "public"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = h.staff.Reply(ctx, id, teacherT, ReplyInput{Message: "hi", Visibility: "secret"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.staff.Reply(ctx, id, teacherT, ReplyInput{Message: "   ", Visibility: "public"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	bad := stagedUpload(t, "a.txt")
	bad.ErrorCode = 1
	_, err = h.staff.Reply(ctx, id, teacherT, ReplyInput{Message: "hi", Visibility: "public", Uploads: domain.Uploads{Files: []domain.Upload{bad}}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUploadRejected))

	_, err = h.staff.Reply(ctx, id, teacherT, ReplyInput{Message: "hi", Visibility: "public", Uploads: domain.Uploads{Files: []domain.Upload{{Filename: "x", TempPath: "relative/x"}}}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUploadRejected))

	assert.Empty(t, h.store.Messages(id))
	assert.Empty(t, h.emitter.types())
}

func TestResolutionReplyResolvesOnce(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusInProgress, 0)
	ctx := context.Background()

	result, err := h.staff.Reply(ctx, id, teacherT, ReplyInput{Message: "Here's how...", Visibility: "public", IsResolution: true})
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)
	assert.Equal(t, domain.DoubtStatusResolved, result.Status)

	doubt, _ := h.store.Doubt(id)
	assert.Equal(t, domain.DoubtStatusResolved, doubt.Status)
	assert.Equal(t, fixedNow.Unix(), doubt.TimeResolved)
	assert.Equal(t, result.MessageID, doubt.LastMessageID)

	history := h.store.History(id)
	require.Len(t, history, 1)
	assert.Equal(t, domain.DoubtStatusInProgress, history[0].OldStatus)
	assert.Equal(t, domain.DoubtStatusResolved, history[0].NewStatus)
	assert.Equal(t, "Resolved by staff reply", history[0].Note)
	require.NotNil(t, history[0].ActorID)
	assert.Equal(t, teacherT, *history[0].ActorID)

	msgs := h.store.Messages(id)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.ActorRoleTeacher, msgs[0].ActorRole)
	assert.True(t, msgs[0].IsResolution)

	assert.Equal(t, []events.EventType{events.EventDoubtReplied, events.EventDoubtStatusChanged}, h.emitter.types())
	assert.Equal(t, []string{"reply", "resolved"}, h.notifier.names())
	assert.Equal(t, studentA, h.notifier.sent[0].ToUserID)
	assert.Equal(t, "https://school.test/doubts/"+itoa(id), h.notifier.sent[0].ContextURL)
	assert.Equal(t, "Your doubt has been resolved: Seeded doubt", h.notifier.sent[1].Subject)

	h.reset()
	again, err := h.staff.Reply(ctx, id, managerM, ReplyInput{Message: "Still resolved", Visibility: "public", IsResolution: true})
	require.NoError(t, err)
	assert.False(t, again.StatusChanged)
	assert.Len(t, h.store.History(id), 1)
	assert.Equal(t, []events.EventType{events.EventDoubtReplied}, h.emitter.types())
	assert.Equal(t, []string{"reply"}, h.notifier.names())
	assert.Equal(t, domain.ActorRoleManager, h.store.Messages(id)[1].ActorRole)
}

func TestInternalReplyDoesNotNotifyStudent(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)

	_, err := h.staff.Reply(context.Background(), id, teacherT, ReplyInput{Message: "note to staff", Visibility: "internal"})
	require.NoError(t, err)
	assert.Empty(t, h.notifier.names())
	assert.Equal(t, []events.EventType{events.EventDoubtReplied}, h.emitter.types())

	doubt, _ := h.store.Doubt(id)
	assert.Equal(t, domain.DoubtStatusOpen, doubt.Status)
	assert.Equal(t, fixedNow.Unix(), doubt.TimeModified)
}

func TestReplyStoresAttachmentsInVisibilityArea(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	ctx := context.Background()

	public, err := h.staff.Reply(ctx, id, teacherT, ReplyInput{
		Visibility: "public",
		Uploads:    domain.Uploads{Files: []domain.Upload{stagedUpload(t, "worked.txt")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, public.Attachments)

	h.blobs.StageDraft(teacherT, 77, "hint.png")
	internal, err := h.staff.Reply(ctx, id, teacherT, ReplyInput{
		Message:    "internal hint",
		Visibility: "internal",
		Uploads:    domain.Uploads{DraftItemID: 77},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, internal.Attachments)

	rows := h.store.Attachments(internal.MessageID)
	require.Len(t, rows, 1)
	assert.Equal(t, "40/internal_attachments/"+itoa(internal.MessageID)+"/hint.png", rows[0].FilePath)

	detail, err := h.staff.GetDetail(ctx, id, teacherT)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	require.Len(t, detail.Messages[0].Attachments, 1)
	assert.Equal(t, "worked.txt", detail.Messages[0].Attachments[0].Filename)
	assert.NotZero(t, detail.Messages[0].Attachments[0].ID)
	assert.Equal(t, "https://files.test/40/attachments/"+itoa(public.MessageID)+"/worked.txt", detail.Messages[0].Attachments[0].URL)
	require.Len(t, detail.Messages[1].Attachments, 1)
	assert.Equal(t, "Tina Park", detail.Messages[1].AuthorName)

	student, err := h.student.GetDetail(ctx, id, studentA)
	require.NoError(t, err)
	require.Len(t, student.Messages, 1)
	assert.Equal(t, public.MessageID, student.Messages[0].ID)
}

func TestReplyWithEmptyDraftAndNoBodyRollsBack(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)

	_, err := h.staff.Reply(context.Background(), id, teacherT, ReplyInput{Visibility: "public", Uploads: domain.Uploads{DraftItemID: 55}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Empty(t, h.store.Messages(id))
}

func TestReplyStorageFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	h.store.FailOn("LogStatusChange", errBoom)

	_, err := h.staff.Reply(context.Background(), id, teacherT, ReplyInput{
		Message:      "resolving",
		Visibility:   "public",
		IsResolution: true,
		Uploads:      domain.Uploads{Files: []domain.Upload{stagedUpload(t, "proof.txt")}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorageFailure))

	doubt, _ := h.store.Doubt(id)
	assert.Equal(t, domain.DoubtStatusOpen, doubt.Status)
	assert.Zero(t, doubt.LastMessageID)
	assert.Zero(t, doubt.TimeResolved)
	assert.Empty(t, h.store.Messages(id))
	assert.Empty(t, h.store.History(id))
	assert.Zero(t, h.blobs.count())
	assert.Len(t, h.blobs.deleted, 1)
	assert.Empty(t, h.emitter.types())
	assert.Empty(t, h.notifier.names())
}

func TestReplySucceedsWhenNotifierFails(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	h.notifier.err = errBoom
	h.emitter.err = errBoom

	result, err := h.staff.Reply(context.Background(), id, teacherT, ReplyInput{Message: "answer", Visibility: "public", IsResolution: true})
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)
	assert.Equal(t, 2, h.notifier.calls)
}

func TestUpdateStatusTransitions(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	ctx := context.Background()

	_, err := h.staff.UpdateStatus(ctx, id, teacherT, "inprogress", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = h.staff.UpdateStatus(ctx, id, managerM, "done", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	doubt, _ := h.store.Doubt(id)
	assert.Equal(t, domain.DoubtStatusOpen, doubt.Status)
	assert.Empty(t, h.store.History(id))

	same, err := h.staff.UpdateStatus(ctx, id, managerM, "open", "nothing")
	require.NoError(t, err)
	assert.Equal(t, domain.DoubtStatusOpen, same.Doubt.Status)
	assert.Empty(t, h.store.History(id))
	assert.Empty(t, h.emitter.types())

	for _, next := range []domain.DoubtStatus{domain.DoubtStatusWaitingStudent, domain.DoubtStatusArchived, domain.DoubtStatusResolved} {
		before, _ := h.store.Doubt(id)
		detail, err := h.staff.UpdateStatus(ctx, id, managerM, string(next), "triage")
		require.NoError(t, err)
		assert.Equal(t, next, detail.Doubt.Status)

		history := h.store.History(id)
		last := history[len(history)-1]
		assert.Equal(t, before.Status, last.OldStatus)
		assert.Equal(t, next, last.NewStatus)
		assert.Equal(t, "triage", last.Note)
	}
	assert.Len(t, h.store.History(id), 3)

	doubt, _ = h.store.Doubt(id)
	assert.Equal(t, fixedNow.Unix(), doubt.TimeResolved)
	assert.Equal(t, []string{"status", "status", "status"}, h.notifier.names())
	assert.Equal(t, "Max Diaz changed the status of \"Seeded doubt\" to Resolved.", h.notifier.sent[2].Body)

	detail, err := h.staff.GetDetail(ctx, id, managerM)
	require.NoError(t, err)
	require.Len(t, detail.History, 3)
	assert.Equal(t, "Max Diaz", detail.History[0].ActorName)
	assert.Equal(t, "Waiting for student", detail.History[0].NewStatusLabel)
}

func TestUpdateStatusStorageFailureLeavesNoHistory(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	h.store.FailOn("LogStatusChange", errBoom)

	_, err := h.staff.UpdateStatus(context.Background(), id, managerM, "archived", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorageFailure))
	doubt, _ := h.store.Doubt(id)
	assert.Equal(t, domain.DoubtStatusOpen, doubt.Status)
}

func TestAssign(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	ctx := context.Background()

	target := teacherT
	_, err := h.staff.Assign(ctx, id, teacherT, &target)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	missing := int64(12345)
	_, err = h.staff.Assign(ctx, id, managerM, &missing)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	doubt, _ := h.store.Doubt(id)
	assert.Equal(t, domain.Unassigned, doubt.AssignedTo)

	detail, err := h.staff.Assign(ctx, id, managerM, &target)
	require.NoError(t, err)
	require.NotNil(t, detail.Doubt.AssigneeID)
	assert.Equal(t, teacherT, *detail.Doubt.AssigneeID)
	assert.Equal(t, "Tina Park", detail.Doubt.AssigneeName)
	assert.Equal(t, []string{"assigned"}, h.notifier.names())
	assert.Equal(t, teacherT, h.notifier.sent[0].ToUserID)
	assert.Equal(t, []events.EventType{events.EventDoubtAssigned}, h.emitter.types())

	h.reset()
	cleared, err := h.staff.Assign(ctx, id, managerM, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.Doubt.AssigneeID)
	doubt, _ = h.store.Doubt(id)
	assert.Equal(t, domain.Unassigned, doubt.AssignedTo)
	assert.Empty(t, h.notifier.names())

	payload, ok := h.emitter.events[0].Payload.(events.DoubtAssignedPayload)
	require.True(t, ok)
	require.NotNil(t, payload.PreviousAssigneeID)
	assert.Equal(t, teacherT, *payload.PreviousAssigneeID)
	assert.Nil(t, payload.AssigneeID)
}
