package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/domain"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestContext() (*Context, *clock.Fake) {
	clk := clock.NewFake(epoch)
	return New(Options{Clock: clk, TTL: 48 * time.Hour}), clk
}

func TestContext_AppendPrunesToMaxHistory(t *testing.T) {
	c, clk := newTestContext()
	for i := 0; i < 25; i++ {
		c.Append("t1", 7, domain.RoleUser, fmt.Sprintf("msg %d", i))
		clk.Advance(time.Second)
	}

	w := c.Window("t1")
	require.Len(t, w, 10)
	assert.Equal(t, "msg 15", w[0].Text)
	assert.Equal(t, "msg 24", w[9].Text)

	c.Rebuild("t2", 7, nil)
	assert.Empty(t, c.Window("t2"))
}

func TestContext_WindowPrependsUserNote(t *testing.T) {
	c, _ := newTestContext()
	c.RememberIssue(7, []string{"video", "buffering", "router", "wifi"})
	c.Append("t1", 7, domain.RoleUser, "it happened again")
	c.Append("t1", 7, domain.RoleAI, "try restarting")

	w := c.Window("t1")
	require.Len(t, w, 3)
	assert.Equal(t, domain.RoleSystem, w[0].Role)
	assert.Equal(t, "User has reported similar issues before: buffering, router, wifi", w[0].Text)
	assert.Equal(t, domain.RoleUser, w[1].Role)
	assert.Equal(t, domain.RoleAI, w[2].Role)

	// another user's ticket gets no note
	c.Append("t2", 8, domain.RoleUser, "hello")
	assert.Len(t, c.Window("t2"), 1)
}

func TestContext_RememberIssueCapsAndRefreshes(t *testing.T) {
	c, _ := newTestContext()
	for i := 0; i < 12; i++ {
		c.RememberIssue(1, []string{fmt.Sprintf("kw%d", i)})
	}
	issues := c.Issues(1)
	require.Len(t, issues, 10)
	assert.Equal(t, "kw2", issues[0])
	assert.Equal(t, "kw11", issues[9])

	c.RememberIssue(1, []string{"kw2"})
	issues = c.Issues(1)
	require.Len(t, issues, 10)
	assert.Equal(t, "kw3", issues[0])
	assert.Equal(t, "kw2", issues[9])

	c.RememberIssue(1, nil)
	assert.Len(t, c.Issues(1), 10)
}

func TestContext_ExpireDropsIdleHistories(t *testing.T) {
	c, clk := newTestContext()
	c.Append("old", 1, domain.RoleUser, "first")
	clk.Advance(3 * time.Hour)
	c.Append("new", 2, domain.RoleUser, "second")
	c.Append("old-but-active", 3, domain.RoleUser, "a")
	clk.Advance(time.Hour)
	c.Append("old-but-active", 3, domain.RoleUser, "b")

	removed := c.Expire(clk.Now().Add(-2 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.Empty(t, c.Window("old"))
	assert.Len(t, c.Window("new"), 1)
	assert.Len(t, c.Window("old-but-active"), 2)
}

func TestContext_RebuildFromLog(t *testing.T) {
	c, _ := newTestContext()
	msgs := make([]domain.TicketMessage, 0, 30)
	for i := 0; i < 30; i++ {
		msgs = append(msgs, domain.TicketMessage{
			Body:      fmt.Sprintf("m%d", i),
			IsAdmin:   i%3 == 0,
			CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
		})
	}
	assert.False(t, c.Has("t1"))
	c.Rebuild("t1", 5, msgs)
	assert.True(t, c.Has("t1"))

	w := c.Window("t1")
	require.Len(t, w, 10)
	assert.Equal(t, "m20", w[0].Text)
	assert.Equal(t, domain.RoleUser, w[0].Role)
	assert.Equal(t, domain.RoleAdmin, w[1].Role)

	c.Clear("t1")
	assert.False(t, c.Has("t1"))
	assert.Empty(t, c.Window("t1"))
}

func TestContext_SweepUsesTTL(t *testing.T) {
	c, clk := newTestContext()
	c.Append("t1", 1, domain.RoleUser, "x")
	c.RememberIssue(1, []string{"video"})
	clk.Advance(49 * time.Hour)
	assert.Equal(t, 2, c.Sweep())
	assert.Nil(t, c.Issues(1))
}
