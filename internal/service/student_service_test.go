package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

func TestCreateValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.AddCourse(domain.Course{ID: 11, FullName: "Physics", ContextID: 42})

	cases := []struct {
		name  string
		input CreateInput
		code  string
	}{
		{"blank subject", CreateInput{CourseID: courseID, Subject: "  ", Details: "x"}, apperrors.CodeValidation},
		{"blank details", CreateInput{CourseID: courseID, Subject: "x", Details: ""}, apperrors.CodeValidation},
		{"missing course", CreateInput{CourseID: 404, Subject: "x", Details: "y"}, apperrors.CodeNotFound},
		{"not enrolled", CreateInput{CourseID: 11, Subject: "x", Details: "y"}, apperrors.CodeForbidden},
		{"bad upload", CreateInput{CourseID: courseID, Subject: "x", Details: "y", Uploads: domain.Uploads{Files: []domain.Upload{{Filename: "a", TempPath: "/tmp/a", ErrorCode: 4}}}}, apperrors.CodeUploadRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.student.Create(ctx, studentA, tc.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), err.Error())
		})
	}

	rows, err := h.student.List(ctx, studentA, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, h.emitter.types())
}

func TestCreateCoercesPriorityAndRoundTrips(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.student.Create(ctx, studentA, CreateInput{
		CourseID: courseID,
		Subject:  "  Vectors ",
		Details:  "What is a unit vector?",
		Priority: "critical",
	})
	require.NoError(t, err)

	doubt, ok := h.store.Doubt(created.DoubtID)
	require.True(t, ok)
	assert.Equal(t, "Vectors", doubt.Subject)
	assert.Equal(t, domain.DoubtPriorityNormal, doubt.Priority)
	assert.Equal(t, domain.DoubtStatusOpen, doubt.Status)
	assert.Equal(t, scopeID, doubt.ContextID)
	assert.Equal(t, created.MessageID, doubt.LastMessageID)
	assert.Equal(t, domain.Unassigned, doubt.AssignedTo)

	detail, err := h.student.GetDetail(ctx, created.DoubtID, studentA)
	require.NoError(t, err)
	assert.Equal(t, "Mathematics 7", detail.Doubt.CourseName)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "What is a unit vector?", detail.Messages[0].Body)
	assert.Equal(t, domain.ActorRoleStudent, detail.Messages[0].ActorRole)
	assert.Empty(t, detail.Messages[0].Attachments)

	assert.Equal(t, []events.EventType{events.EventDoubtCreated}, h.emitter.types())
	payload, ok := h.emitter.events[0].Payload.(events.DoubtCreatedPayload)
	require.True(t, ok)
	assert.Equal(t, created.MessageID, payload.MessageID)
	assert.NotEmpty(t, h.emitter.events[0].ID)
	assert.Equal(t, fixedNow, h.emitter.events[0].Timestamp)
}

func TestCreatePromotesDraftFiles(t *testing.T) {
	h := newHarness(t)
	h.blobs.StageDraft(studentA, 9, "scan.png")

	created, err := h.student.Create(context.Background(), studentA, CreateInput{
		CourseID: courseID,
		Subject:  "Graph",
		Details:  "See the scan",
		Uploads:  domain.Uploads{DraftItemID: 9},
	})
	require.NoError(t, err)

	rows := h.store.Attachments(created.MessageID)
	require.Len(t, rows, 1)
	assert.Equal(t, "scan.png", rows[0].Filename)

	detail, err := h.student.GetDetail(context.Background(), created.DoubtID, studentA)
	require.NoError(t, err)
	require.Len(t, detail.Messages[0].Attachments, 1)
	assert.Equal(t, "image/png", detail.Messages[0].Attachments[0].MimeType)
}

func TestCreateRollsBackOnStorageFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn("InsertMessage", errBoom)

	_, err := h.student.Create(context.Background(), studentA, CreateInput{CourseID: courseID, Subject: "s", Details: "d"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorageFailure))

	rows, err := h.student.List(context.Background(), studentA, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, h.emitter.types())
}

func TestListIsOwnerScoped(t *testing.T) {
	h := newHarness(t)
	h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	h.store.PutDoubt(domain.Doubt{CourseID: courseID, ContextID: scopeID, StudentID: studentB, Subject: "Ben's", Status: domain.DoubtStatusOpen, Priority: domain.DoubtPriorityLow})
	h.store.PutDoubt(domain.Doubt{CourseID: 11, ContextID: 42, StudentID: studentA, Subject: "Physics one", Status: domain.DoubtStatusOpen, Priority: domain.DoubtPriorityLow})

	all, err := h.student.List(context.Background(), studentA, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	course := courseID
	filtered, err := h.student.List(context.Background(), studentA, &course)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Seeded doubt", filtered[0].Subject)
}

func TestStudentCannotSeeOtherDoubtsOrInternalNotes(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	ctx := context.Background()

	_, err := h.student.GetDetail(ctx, id, studentB)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	_, err = h.student.Reply(ctx, id, studentB, "me too", domain.Uploads{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	h.store.PutMessage(domain.Message{DoubtID: id, AuthorID: teacherT, ActorRole: domain.ActorRoleTeacher, Body: "staff only", Visibility: domain.VisibilityInternal, TimeCreated: fixedNow.Unix()})
	h.store.PutMessage(domain.Message{DoubtID: id, AuthorID: teacherT, ActorRole: domain.ActorRoleTeacher, Body: "hello", Visibility: domain.VisibilityPublic, TimeCreated: fixedNow.Unix()})

	detail, err := h.student.GetDetail(ctx, id, studentA)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "hello", detail.Messages[0].Body)

	staff, err := h.staff.GetDetail(ctx, id, viewerV)
	require.NoError(t, err)
	assert.Len(t, staff.Messages, 2)
}

func TestStudentReplyRequiresContent(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)

	_, err := h.student.Reply(context.Background(), id, studentA, " ", domain.Uploads{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Empty(t, h.store.Messages(id))
}

func TestStudentReplyImplicitTransitions(t *testing.T) {
	cases := []struct {
		from     domain.DoubtStatus
		to       domain.DoubtStatus
		resolved int64
	}{
		{domain.DoubtStatusOpen, domain.DoubtStatusOpen, 0},
		{domain.DoubtStatusInProgress, domain.DoubtStatusInProgress, 0},
		{domain.DoubtStatusWaitingStudent, domain.DoubtStatusInProgress, 0},
		{domain.DoubtStatusResolved, domain.DoubtStatusOpen, fixedNow.Unix() - 60},
		{domain.DoubtStatusArchived, domain.DoubtStatusOpen, 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			h := newHarness(t)
			id := h.seedDoubt(t, tc.from, tc.resolved)

			result, err := h.student.Reply(context.Background(), id, studentA, "follow up", domain.Uploads{})
			require.NoError(t, err)
			assert.Equal(t, tc.to, result.Status)

			doubt, _ := h.store.Doubt(id)
			assert.Equal(t, tc.to, doubt.Status)
			assert.Zero(t, doubt.TimeResolved)
			assert.Equal(t, result.MessageID, doubt.LastMessageID)

			history := h.store.History(id)
			if tc.from == tc.to {
				assert.False(t, result.StatusChanged)
				assert.Empty(t, history)
				assert.Equal(t, []events.EventType{events.EventDoubtReplied}, h.emitter.types())
				return
			}
			assert.True(t, result.StatusChanged)
			require.Len(t, history, 1)
			assert.Equal(t, tc.from, history[0].OldStatus)
			assert.Equal(t, tc.to, history[0].NewStatus)
			assert.Equal(t, "Status updated after student reply", history[0].Note)
			assert.Equal(t, []events.EventType{events.EventDoubtReplied, events.EventDoubtStatusChanged}, h.emitter.types())
		})
	}
}

func TestStudentReplyNotifiesAssignee(t *testing.T) {
	h := newHarness(t)
	id := h.seedDoubt(t, domain.DoubtStatusOpen, 0)
	ctx := context.Background()

	_, err := h.student.Reply(ctx, id, studentA, "anyone?", domain.Uploads{})
	require.NoError(t, err)
	assert.Empty(t, h.notifier.names())

	target := teacherT
	_, err = h.staff.Assign(ctx, id, managerM, &target)
	require.NoError(t, err)
	h.reset()

	_, err = h.student.Reply(ctx, id, studentA, "still stuck", domain.Uploads{})
	require.NoError(t, err)
	require.Equal(t, []string{"student_reply"}, h.notifier.names())
	assert.Equal(t, teacherT, h.notifier.sent[0].ToUserID)
	assert.Equal(t, studentA, h.notifier.sent[0].FromUserID)
	assert.Equal(t, "Ana Ruiz replied to the doubt \"Seeded doubt\" in Mathematics 7.", h.notifier.sent[0].Body)
}

func TestDoubtLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.student.Create(ctx, studentA, CreateInput{
		CourseID: courseID,
		Subject:  "Fractions help",
		Details:  "I don't get mixed numbers",
		Priority: "high",
	})
	require.NoError(t, err)

	listing, err := h.staff.ListForTeacher(ctx, teacherT, ListFilters{Priority: "high"}, 1, 20)
	require.NoError(t, err)
	require.Len(t, listing.Records, 1)
	assert.Equal(t, "Fractions help", listing.Records[0].Subject)
	assert.Equal(t, "High", listing.Records[0].PriorityLabel)

	resolved, err := h.staff.Reply(ctx, created.DoubtID, teacherT, ReplyInput{
		Message:      "Here's how...",
		Visibility:   "public",
		IsResolution: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DoubtStatusResolved, resolved.Status)

	doubt, _ := h.store.Doubt(created.DoubtID)
	assert.Equal(t, domain.DoubtStatusResolved, doubt.Status)
	assert.NotZero(t, doubt.TimeResolved)
	assert.Len(t, h.store.History(created.DoubtID), 1)
	assert.Equal(t, []string{"reply", "resolved"}, h.notifier.names())
	for _, n := range h.notifier.sent {
		assert.Equal(t, studentA, n.ToUserID)
	}

	reopened, err := h.student.Reply(ctx, created.DoubtID, studentA, "Thanks, but what about improper fractions?", domain.Uploads{})
	require.NoError(t, err)
	assert.True(t, reopened.StatusChanged)

	doubt, _ = h.store.Doubt(created.DoubtID)
	assert.Equal(t, domain.DoubtStatusOpen, doubt.Status)
	assert.Zero(t, doubt.TimeResolved)
	history := h.store.History(created.DoubtID)
	require.Len(t, history, 2)
	assert.Equal(t, domain.DoubtStatusResolved, history[1].OldStatus)
	assert.Equal(t, domain.DoubtStatusOpen, history[1].NewStatus)

	detail, err := h.student.GetDetail(ctx, created.DoubtID, studentA)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 3)
	assert.True(t, detail.Messages[1].IsResolution)
	assert.Equal(t, "Tina Park", detail.Messages[1].AuthorName)
}

func TestNextStatusAfterStudentReply(t *testing.T) {
	next, reopened := nextStatusAfterStudentReply(domain.DoubtStatusArchived)
	assert.Equal(t, domain.DoubtStatusOpen, next)
	assert.True(t, reopened)

	next, reopened = nextStatusAfterStudentReply(domain.DoubtStatusWaitingStudent)
	assert.Equal(t, domain.DoubtStatusInProgress, next)
	assert.False(t, reopened)
}
