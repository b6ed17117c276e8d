package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusVocabulary(t *testing.T) {
	assert.Equal(t, []DoubtStatus{"open", "inprogress", "waiting_student", "resolved", "archived"}, AllDoubtStatuses())
	for _, status := range AllDoubtStatuses() {
		parsed, ok := ParseDoubtStatus(string(status))
		assert.True(t, ok)
		assert.Equal(t, status, parsed)
	}
	_, ok := ParseDoubtStatus("closed")
	assert.False(t, ok)
	_, ok = ParseDoubtStatus("")
	assert.False(t, ok)
}

func TestPriorityCoercion(t *testing.T) {
	assert.Equal(t, DoubtPriorityUrgent, CoercePriority("urgent"))
	assert.Equal(t, DoubtPriorityNormal, CoercePriority("critical"))
	assert.Equal(t, DoubtPriorityNormal, CoercePriority(""))
	assert.Len(t, AllDoubtPriorities(), 4)
}

func TestVisibilityAreas(t *testing.T) {
	_, ok := ParseVisibility("secret")
	assert.False(t, ok)
	assert.Equal(t, AreaAttachments, VisibilityPublic.AttachmentArea())
	assert.Equal(t, AreaInternalAttachments, VisibilityInternal.AttachmentArea())
}

func TestSummaryCountsAdd(t *testing.T) {
	var counts SummaryCounts
	counts.Add(DoubtStatusOpen, 2)
	counts.Add(DoubtStatusResolved, 1)
	counts.Add(DoubtStatus("bogus"), 5)
	assert.Equal(t, SummaryCounts{Open: 2, Resolved: 1, Total: 3}, counts)
}

func TestAssigneeSentinel(t *testing.T) {
	d := Doubt{}
	assert.Nil(t, d.Assignee())
	d.AssignedTo = 9
	assert.Equal(t, int64(9), *d.Assignee())
	assert.False(t, d.IsClosed())
	d.Status = DoubtStatusArchived
	assert.True(t, d.IsClosed())
	assert.Equal(t, FormatHTML, NormalizeFormat(3))
}
